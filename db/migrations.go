package db

import (
	"context"
	"database/sql"
	"log"
)

const (
	// Local and cached remote identities
	sqlCreateIdentitiesTable = `CREATE TABLE IF NOT EXISTS identities (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL,
		domain TEXT NOT NULL,
		public_key_pem TEXT NOT NULL,
		private_key_pem TEXT DEFAULT '',
		local INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(username, domain)
	)`

	sqlCreateIdentitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_identities_domain ON identities(domain);
	`

	// Directed follow/block edges between federated addresses
	sqlCreateRelationshipsTable = `CREATE TABLE IF NOT EXISTS relationships (
		id TEXT NOT NULL PRIMARY KEY,
		user_address TEXT NOT NULL,
		target_address TEXT NOT NULL,
		type TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_address, target_address, type)
	)`

	sqlCreateRelationshipsIndices = `
		CREATE INDEX IF NOT EXISTS idx_relationships_user ON relationships(user_address);
		CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_address);
	`

	// Server-wide domain block list
	sqlCreateDomainBlocksTable = `CREATE TABLE IF NOT EXISTS domain_blocks (
		domain TEXT NOT NULL PRIMARY KEY,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// Content rows with denormalized interaction counters
	sqlCreateContentTable = `CREATE TABLE IF NOT EXISTS content (
		id TEXT NOT NULL PRIMARY KEY,
		author TEXT NOT NULL,
		like_count INTEGER DEFAULT 0,
		comment_count INTEGER DEFAULT 0,
		repost_count INTEGER DEFAULT 0,
		quote_count INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateLikesTable = `CREATE TABLE IF NOT EXISTS likes (
		id TEXT NOT NULL PRIMARY KEY,
		content_id TEXT NOT NULL,
		user_address TEXT NOT NULL,
		reaction TEXT DEFAULT '❤️',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(content_id, user_address)
	)`

	sqlCreateLikesIndices = `
		CREATE INDEX IF NOT EXISTS idx_likes_content_id ON likes(content_id);
		CREATE INDEX IF NOT EXISTS idx_likes_user_address ON likes(user_address);
	`

	sqlCreateCommentsTable = `CREATE TABLE IF NOT EXISTS comments (
		id TEXT NOT NULL PRIMARY KEY,
		content_id TEXT NOT NULL,
		user_address TEXT NOT NULL,
		text TEXT NOT NULL,
		parent_comment_id TEXT DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateCommentsIndices = `
		CREATE INDEX IF NOT EXISTS idx_comments_content_id ON comments(content_id);
	`

	sqlCreateRepostsTable = `CREATE TABLE IF NOT EXISTS reposts (
		id TEXT NOT NULL PRIMARY KEY,
		original_content_id TEXT NOT NULL,
		user_address TEXT NOT NULL,
		text TEXT DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(original_content_id, user_address)
	)`

	sqlCreateQuotesTable = `CREATE TABLE IF NOT EXISTS quotes (
		id TEXT NOT NULL PRIMARY KEY,
		original_content_id TEXT NOT NULL,
		user_address TEXT NOT NULL,
		text TEXT DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateThreadsTable = `CREATE TABLE IF NOT EXISTS threads (
		id TEXT NOT NULL PRIMARY KEY,
		user_address TEXT NOT NULL,
		title TEXT NOT NULL,
		posts_json TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// Encrypted direct messages; ciphertext only, never plaintext
	sqlCreateMessagesTable = `CREATE TABLE IF NOT EXISTS messages (
		id TEXT NOT NULL PRIMARY KEY,
		from_address TEXT NOT NULL,
		to_address TEXT NOT NULL,
		ciphertext TEXT NOT NULL,
		wrapped_key TEXT NOT NULL,
		algorithm TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		read INTEGER DEFAULT 0
	)`

	sqlCreateMessagesIndices = `
		CREATE INDEX IF NOT EXISTS idx_messages_to_address ON messages(to_address);
		CREATE INDEX IF NOT EXISTS idx_messages_from_address ON messages(from_address);
		CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at DESC);
	`
)

// RunMigrations executes all database migrations
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(context.Background(), func(tx *sql.Tx) error {
		tables := []struct {
			name string
			ddl  string
		}{
			{"identities", sqlCreateIdentitiesTable},
			{"relationships", sqlCreateRelationshipsTable},
			{"domain_blocks", sqlCreateDomainBlocksTable},
			{"content", sqlCreateContentTable},
			{"likes", sqlCreateLikesTable},
			{"comments", sqlCreateCommentsTable},
			{"reposts", sqlCreateRepostsTable},
			{"quotes", sqlCreateQuotesTable},
			{"threads", sqlCreateThreadsTable},
			{"messages", sqlCreateMessagesTable},
		}
		for _, t := range tables {
			if err := db.createTableIfNotExists(tx, t.ddl, t.name); err != nil {
				return err
			}
		}

		indices := []string{
			sqlCreateIdentitiesIndices,
			sqlCreateRelationshipsIndices,
			sqlCreateLikesIndices,
			sqlCreateCommentsIndices,
			sqlCreateMessagesIndices,
		}
		for _, ddl := range indices {
			if _, err := tx.Exec(ddl); err != nil {
				log.Printf("Warning: Failed to create indices: %v", err)
			}
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	return nil
}
