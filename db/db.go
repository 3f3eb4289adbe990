package db

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB wraps the sqlite connection pool. Every server component receives its
// DB explicitly; there is no package-level instance.
type DB struct {
	db *sql.DB
}

// NewDB opens the database at path, tunes the connection pool and runs the
// schema migrations.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Configure connection pool for concurrent access
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	// Try to enable WAL2 mode, fall back to WAL if not supported
	var journalMode string
	err = conn.QueryRow("PRAGMA journal_mode=WAL2").Scan(&journalMode)
	if err != nil || journalMode == "delete" {
		err = conn.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode)
		if err != nil {
			log.Printf("Warning: Failed to enable WAL mode: %v", err)
		} else {
			log.Printf("Database journal mode: %s (WAL2 not supported, using WAL)", journalMode)
		}
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	// Optimize PRAGMAs for a concurrent federation workload
	conn.Exec("PRAGMA synchronous = NORMAL")
	conn.Exec("PRAGMA cache_size = -64000")
	conn.Exec("PRAGMA temp_store = MEMORY")
	conn.Exec("PRAGMA busy_timeout = 5000")
	conn.Exec("PRAGMA foreign_keys = ON")
	conn.Exec("PRAGMA auto_vacuum = INCREMENTAL")

	database := &DB{db: conn}
	if err := database.RunMigrations(); err != nil {
		conn.Close()
		return nil, err
	}

	return database, nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	return db.db.Close()
}

// busyRetryDelay spaces out retries while another writer holds the lock.
const busyRetryDelay = 25 * time.Millisecond

// wrapTransaction runs the given function within a transaction. On
// SQLITE_BUSY the transaction is rolled back and rerun from scratch on a
// fresh one after a short delay, until the deadline expires.
func (db *DB) wrapTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	for {
		tx, err := db.db.BeginTx(ctx, nil)
		if err != nil {
			log.Printf("error starting transaction: %s", err)
			return err
		}

		err = f(tx)
		if err == nil {
			err = tx.Commit()
			if err == nil {
				return nil
			}
		} else {
			tx.Rollback()
		}

		if !isBusy(err) {
			log.Printf("error in transaction: %s", err)
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(busyRetryDelay):
		}
	}
}

func isBusy(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code() == sqlitelib.SQLITE_BUSY
	}
	return false
}
