package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/metafed/metafed/domain"
)

// Relationship queries
const (
	sqlInsertRelationship = `INSERT OR IGNORE INTO relationships(id, user_address, target_address, type, created_at)
		VALUES (?, ?, ?, ?, ?)`
	sqlDeleteFollow = `DELETE FROM relationships WHERE user_address = ? AND target_address = ? AND type = ?`
	sqlSelectRelationshipExists = `SELECT COUNT(1) FROM relationships
		WHERE user_address = ? AND target_address = ? AND type = ?`
)

func (db *DB) createRelationship(ctx context.Context, actor, target, relType string) (bool, error) {
	var created bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertRelationship, uuid.New().String(), actor, target, relType, time.Now())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n > 0
		return nil
	})
	return created, err
}

// CreateFollow adds a directed follow edge, reporting false when it already
// exists.
func (db *DB) CreateFollow(ctx context.Context, actor, target string) (bool, error) {
	return db.createRelationship(ctx, actor, target, domain.RelationshipFollow)
}

// CreateBlock adds a directed block edge, reporting false when it already
// exists.
func (db *DB) CreateBlock(ctx context.Context, actor, target string) (bool, error) {
	return db.createRelationship(ctx, actor, target, domain.RelationshipBlock)
}

// RemoveFollow deletes a single directed follow edge.
func (db *DB) RemoveFollow(ctx context.Context, actor, target string) (bool, error) {
	var removed bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlDeleteFollow, actor, target, domain.RelationshipFollow)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = n > 0
		return nil
	})
	return removed, err
}

// RemoveFollows severs follow edges between two addresses in both
// directions, as a block requires.
func (db *DB) RemoveFollows(ctx context.Context, a, b string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlDeleteFollow, a, b, domain.RelationshipFollow); err != nil {
			return err
		}
		_, err := tx.Exec(sqlDeleteFollow, b, a, domain.RelationshipFollow)
		return err
	})
}

// Domain block queries
const (
	sqlInsertDomainBlock = `INSERT OR IGNORE INTO domain_blocks(domain, created_at) VALUES (?, ?)`
	sqlDeleteDomainBlock = `DELETE FROM domain_blocks WHERE domain = ?`
	sqlSelectDomainBlock = `SELECT COUNT(1) FROM domain_blocks WHERE domain = ?`
)

// BlockDomain adds a domain to the server-wide block list.
func (db *DB) BlockDomain(ctx context.Context, blockedDomain string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDomainBlock, blockedDomain, time.Now())
		return err
	})
}

// UnblockDomain removes a domain from the server-wide block list.
func (db *DB) UnblockDomain(ctx context.Context, blockedDomain string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDomainBlock, blockedDomain)
		return err
	})
}

// IsDomainBlocked reports whether a remote domain is on the block list.
func (db *DB) IsDomainBlocked(ctx context.Context, blockedDomain string) (bool, error) {
	var n int
	if err := db.db.QueryRowContext(ctx, sqlSelectDomainBlock, blockedDomain).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// IsBlocked reports whether target blocks actor.
func (db *DB) IsBlocked(ctx context.Context, actor, target string) (bool, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlSelectRelationshipExists, target, actor, domain.RelationshipBlock).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CanInteract reports whether actor may interact with a content item. An
// author's block cuts off likes, comments, reposts and quotes alike.
func (db *DB) CanInteract(ctx context.Context, actor, contentID string) (bool, error) {
	content, err := db.GetContent(ctx, contentID)
	if err != nil {
		return false, err
	}
	if content == nil {
		return true, nil
	}
	blocked, err := db.IsBlocked(ctx, actor, content.Author)
	if err != nil {
		return false, err
	}
	return !blocked, nil
}

// Content queries
const (
	sqlInsertContent = `INSERT INTO content(id, author, created_at) VALUES (?, ?, ?)`
	sqlSelectContent = `SELECT id, author, like_count, comment_count, repost_count, quote_count, created_at
		FROM content WHERE id = ?`
	sqlUpdateCounters = `UPDATE content SET
		like_count = MAX(0, like_count + ?),
		comment_count = MAX(0, comment_count + ?),
		repost_count = MAX(0, repost_count + ?),
		quote_count = MAX(0, quote_count + ?)
		WHERE id = ?`
)

// CreateContent records a content row so federated interactions can attach
// to it.
func (db *DB) CreateContent(ctx context.Context, content *domain.Content) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertContent, content.Id, content.Author, content.CreatedAt)
		return err
	})
}

// GetContent returns a content row, or nil when absent.
func (db *DB) GetContent(ctx context.Context, contentID string) (*domain.Content, error) {
	row := db.db.QueryRowContext(ctx, sqlSelectContent, contentID)
	var content domain.Content
	err := row.Scan(
		&content.Id,
		&content.Author,
		&content.LikeCount,
		&content.CommentCount,
		&content.RepostCount,
		&content.QuoteCount,
		&content.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &content, nil
}

// AdjustCounters applies interaction-count deltas, clamped at zero.
func (db *DB) AdjustCounters(ctx context.Context, contentID string, likes, comments, reposts, quotes int) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateCounters, likes, comments, reposts, quotes, contentID)
		return err
	})
}

// Like queries
const (
	sqlInsertLike = `INSERT INTO likes(id, content_id, user_address, reaction, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectLike = `SELECT id FROM likes WHERE content_id = ? AND user_address = ?`
	sqlDeleteLike = `DELETE FROM likes WHERE content_id = ? AND user_address = ?`
)

// GetLike returns the like id for (content, actor), or "" when absent.
func (db *DB) GetLike(ctx context.Context, contentID, actor string) (string, error) {
	var id string
	err := db.db.QueryRowContext(ctx, sqlSelectLike, contentID, actor).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (db *DB) CreateLike(ctx context.Context, like *domain.Like) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertLike, like.Id.String(), like.ContentId, like.UserAddress, like.Reaction, like.CreatedAt)
		return err
	})
}

// RemoveLike deletes a like, reporting whether one existed.
func (db *DB) RemoveLike(ctx context.Context, contentID, actor string) (bool, error) {
	var removed bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlDeleteLike, contentID, actor)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = n > 0
		return nil
	})
	return removed, err
}

// Comment, repost, quote and thread queries
const (
	sqlInsertComment = `INSERT INTO comments(id, content_id, user_address, text, parent_comment_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	sqlInsertRepost = `INSERT INTO reposts(id, original_content_id, user_address, text, created_at)
		VALUES (?, ?, ?, ?, ?)`
	sqlSelectRepost = `SELECT id FROM reposts WHERE original_content_id = ? AND user_address = ?`
	sqlInsertQuote  = `INSERT INTO quotes(id, original_content_id, user_address, text, created_at)
		VALUES (?, ?, ?, ?, ?)`
	sqlInsertThread = `INSERT INTO threads(id, user_address, title, posts_json, created_at)
		VALUES (?, ?, ?, ?, ?)`
)

func (db *DB) CreateComment(ctx context.Context, comment *domain.Comment) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertComment,
			comment.Id.String(),
			comment.ContentId,
			comment.UserAddress,
			comment.Text,
			comment.ParentCommentId,
			comment.CreatedAt,
		)
		return err
	})
}

// GetRepost returns the repost id for (content, actor), or "" when absent.
func (db *DB) GetRepost(ctx context.Context, contentID, actor string) (string, error) {
	var id string
	err := db.db.QueryRowContext(ctx, sqlSelectRepost, contentID, actor).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (db *DB) CreateRepost(ctx context.Context, repost *domain.Repost) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRepost,
			repost.Id.String(),
			repost.OriginalContentId,
			repost.UserAddress,
			repost.Text,
			repost.CreatedAt,
		)
		return err
	})
}

func (db *DB) CreateQuote(ctx context.Context, quote *domain.Quote) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertQuote,
			quote.Id.String(),
			quote.OriginalContentId,
			quote.UserAddress,
			quote.Text,
			quote.CreatedAt,
		)
		return err
	})
}

func (db *DB) CreateThread(ctx context.Context, thread *domain.Thread) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertThread,
			thread.Id.String(),
			thread.UserAddress,
			thread.Title,
			thread.PostsJSON,
			thread.CreatedAt,
		)
		return err
	})
}
