package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/metafed/metafed/crypto"
	"github.com/metafed/metafed/domain"
	"github.com/metafed/metafed/federation"
)

var (
	// ErrNotRecipient is returned when someone other than the recipient
	// tries to change a message's read state.
	ErrNotRecipient = errors.New("not the message recipient")

	// ErrRecipientKeyUnknown is returned when no public key can be found
	// for the recipient, locally or remotely.
	ErrRecipientKeyUnknown = errors.New("recipient public key unknown")
)

// Store is the persistence contract for direct messages.
type Store interface {
	GetPublicKey(ctx context.Context, address string) (string, error)
	CreateMessage(ctx context.Context, msg *domain.EncryptedMessage) error

	// GetMessage returns a message by id, or nil when absent.
	GetMessage(ctx context.Context, id uuid.UUID) (*domain.EncryptedMessage, error)

	// Conversation returns messages exchanged between two addresses in
	// either direction, newest first, capped at limit.
	Conversation(ctx context.Context, a, b string, limit int) ([]*domain.EncryptedMessage, error)

	// MarkMessageRead flips the read flag, reporting whether the row
	// existed.
	MarkMessageRead(ctx context.Context, id uuid.UUID) (bool, error)

	// CountUnread counts unread messages addressed to address.
	CountUnread(ctx context.Context, address string) (int, error)
}

// Deliverer transmits an activity to a remote domain. Satisfied by
// federation.Deliverer.
type Deliverer interface {
	Deliver(ctx context.Context, act *domain.Activity, targetDomain string) bool
}

// Manager owns the direct-message lifecycle: encryption happens here, at
// send time, so plaintext never reaches the store or the wire.
type Manager struct {
	store     Store
	fetcher   federation.KeyFetcher
	deliverer Deliverer
	origin    string
}

// NewManager wires the messaging pipeline. fetcher and deliverer may be nil
// for a server that only messages local users.
func NewManager(store Store, fetcher federation.KeyFetcher, deliverer Deliverer, origin string) *Manager {
	return &Manager{store: store, fetcher: fetcher, deliverer: deliverer, origin: origin}
}

// Send encrypts plaintext for the recipient, stores the sender-side copy and
// forwards the sealed message to the recipient's server when it is remote.
// The returned message carries only ciphertext.
func (m *Manager) Send(ctx context.Context, from, to, plaintext string) (*domain.EncryptedMessage, error) {
	_, toDomain, err := domain.SplitAddress(to)
	if err != nil {
		return nil, err
	}

	pubPem, err := m.recipientKey(ctx, to)
	if err != nil {
		return nil, err
	}

	env, err := crypto.EncryptMessage(plaintext, pubPem)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt message: %w", err)
	}

	msg := &domain.EncryptedMessage{
		Id:          uuid.New(),
		FromAddress: from,
		ToAddress:   to,
		CipherText:  env.CipherText,
		WrappedKey:  env.WrappedKey,
		Algorithm:   env.Algorithm,
		CreatedAt:   time.Now(),
	}
	if err := m.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	if toDomain != m.origin && m.deliverer != nil {
		act, err := domain.NewActivity(domain.TypeMessage, from, map[string]string{
			"from":          from,
			"to":            to,
			"ciphertext":    env.CipherText,
			"encrypted_key": env.WrappedKey,
			"algorithm":     env.Algorithm,
		})
		if err != nil {
			return nil, err
		}
		if !m.deliverer.Deliver(ctx, act, toDomain) {
			// The local copy stands; remote delivery is reported, not
			// rolled back.
			log.Printf("Messaging: delivery of %s to %s failed", msg.Id, toDomain)
		}
	}

	return msg, nil
}

// Decrypt opens a stored message with the recipient's private key.
func Decrypt(msg *domain.EncryptedMessage, privateKeyPem string) (string, error) {
	env := &crypto.Envelope{
		CipherText: msg.CipherText,
		WrappedKey: msg.WrappedKey,
		Algorithm:  msg.Algorithm,
	}
	return crypto.DecryptMessage(env, privateKeyPem)
}

// Conversation lists the exchange between two addresses, newest first.
func (m *Manager) Conversation(ctx context.Context, a, b string, limit int) ([]*domain.EncryptedMessage, error) {
	if limit < 1 {
		limit = 50
	}
	return m.store.Conversation(ctx, a, b, limit)
}

// MarkRead flips a message to read. Only the recipient may do this; the
// sender asking is an error, not a no-op.
func (m *Manager) MarkRead(ctx context.Context, id uuid.UUID, reader string) error {
	msg, err := m.store.GetMessage(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to look up message: %w", err)
	}
	if msg == nil {
		return fmt.Errorf("message %s not found", id)
	}
	if msg.ToAddress != reader {
		return ErrNotRecipient
	}
	if _, err := m.store.MarkMessageRead(ctx, id); err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	return nil
}

// UnreadCount reports how many messages addressed to address are unread.
func (m *Manager) UnreadCount(ctx context.Context, address string) (int, error) {
	return m.store.CountUnread(ctx, address)
}

func (m *Manager) recipientKey(ctx context.Context, to string) (string, error) {
	pubPem, err := m.store.GetPublicKey(ctx, to)
	if err != nil {
		return "", fmt.Errorf("failed to look up recipient key: %w", err)
	}
	if pubPem != "" {
		return pubPem, nil
	}
	if m.fetcher == nil {
		return "", fmt.Errorf("%w: %s", ErrRecipientKeyUnknown, to)
	}
	pubPem, err = m.fetcher.FetchPublicKey(ctx, to)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRecipientKeyUnknown, to, err)
	}
	return pubPem, nil
}
