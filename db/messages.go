package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/metafed/metafed/domain"
)

// Message queries
const (
	sqlInsertMessage = `INSERT INTO messages(id, from_address, to_address, ciphertext, wrapped_key, algorithm, created_at, read)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`
	sqlSelectMessage = `SELECT id, from_address, to_address, ciphertext, wrapped_key, algorithm, created_at, read
		FROM messages WHERE id = ?`
	sqlSelectConversation = `SELECT id, from_address, to_address, ciphertext, wrapped_key, algorithm, created_at, read
		FROM messages
		WHERE (from_address = ? AND to_address = ?) OR (from_address = ? AND to_address = ?)
		ORDER BY created_at DESC LIMIT ?`
	sqlUpdateMessageRead = `UPDATE messages SET read = 1 WHERE id = ?`
	sqlCountUnread       = `SELECT COUNT(1) FROM messages WHERE to_address = ? AND read = 0`
)

// CreateMessage stores a sealed direct message.
func (db *DB) CreateMessage(ctx context.Context, msg *domain.EncryptedMessage) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertMessage,
			msg.Id.String(),
			msg.FromAddress,
			msg.ToAddress,
			msg.CipherText,
			msg.WrappedKey,
			msg.Algorithm,
			msg.CreatedAt,
		)
		return err
	})
}

// GetMessage returns a message by id, or nil when absent.
func (db *DB) GetMessage(ctx context.Context, id uuid.UUID) (*domain.EncryptedMessage, error) {
	row := db.db.QueryRowContext(ctx, sqlSelectMessage, id.String())
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Conversation returns the exchange between two addresses, newest first.
func (db *DB) Conversation(ctx context.Context, a, b string, limit int) ([]*domain.EncryptedMessage, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectConversation, a, b, b, a, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.EncryptedMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return messages, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkMessageRead flips the read flag, reporting whether the row existed.
func (db *DB) MarkMessageRead(ctx context.Context, id uuid.UUID) (bool, error) {
	var updated bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpdateMessageRead, id.String())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		updated = n > 0
		return nil
	})
	return updated, err
}

// CountUnread counts unread messages addressed to address.
func (db *DB) CountUnread(ctx context.Context, address string) (int, error) {
	var n int
	if err := db.db.QueryRowContext(ctx, sqlCountUnread, address).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.EncryptedMessage, error) {
	var msg domain.EncryptedMessage
	var idStr string
	var read int
	err := row.Scan(
		&idStr,
		&msg.FromAddress,
		&msg.ToAddress,
		&msg.CipherText,
		&msg.WrappedKey,
		&msg.Algorithm,
		&msg.CreatedAt,
		&read,
	)
	if err != nil {
		return nil, err
	}
	msg.Id, _ = uuid.Parse(idStr)
	msg.Read = read == 1
	return &msg, nil
}
