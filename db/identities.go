package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/metafed/metafed/crypto"
	"github.com/metafed/metafed/domain"
)

// Identity queries
const (
	sqlInsertIdentity = `INSERT INTO identities(id, username, domain, public_key_pem, private_key_pem, local, created_at, last_fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpsertRemoteIdentity = `INSERT INTO identities(id, username, domain, public_key_pem, private_key_pem, local, created_at, last_fetched_at)
		VALUES (?, ?, ?, ?, '', 0, ?, ?)
		ON CONFLICT(username, domain) DO UPDATE SET public_key_pem = excluded.public_key_pem, last_fetched_at = excluded.last_fetched_at`
	sqlSelectIdentity = `SELECT id, username, domain, public_key_pem, private_key_pem, local, created_at, last_fetched_at
		FROM identities WHERE username = ? AND domain = ?`
	sqlSelectPublicKey  = `SELECT public_key_pem FROM identities WHERE username = ? AND domain = ?`
	sqlSelectPrivateKey = `SELECT private_key_pem FROM identities WHERE username = ? AND domain = ? AND local = 1`
)

// CreateLocalIdentity provisions a local account: a fresh RSA key pair is
// generated and both halves stored. Key generation is slow by design, so
// this belongs in account setup paths, never in request handling.
func (db *DB) CreateLocalIdentity(ctx context.Context, username, homeDomain string) (*domain.FederatedIdentity, error) {
	pair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	identity := &domain.FederatedIdentity{
		Id:            uuid.New(),
		Username:      username,
		Domain:        homeDomain,
		PublicKeyPem:  pair.Public,
		PrivateKeyPem: pair.Private,
		Local:         true,
		CreatedAt:     time.Now(),
		LastFetchedAt: time.Now(),
	}

	err = db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertIdentity,
			identity.Id.String(),
			identity.Username,
			identity.Domain,
			identity.PublicKeyPem,
			identity.PrivateKeyPem,
			1,
			identity.CreatedAt,
			identity.LastFetchedAt,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return identity, nil
}

// SaveRemoteIdentity caches a remote identity projection, replacing the key
// on conflict so key rotations on the remote side propagate.
func (db *DB) SaveRemoteIdentity(ctx context.Context, identity *domain.FederatedIdentity) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertRemoteIdentity,
			identity.Id.String(),
			identity.Username,
			identity.Domain,
			identity.PublicKeyPem,
			identity.CreatedAt,
			identity.LastFetchedAt,
		)
		return err
	})
}

// ReadIdentity returns the identity for a federated address, or nil when
// unknown.
func (db *DB) ReadIdentity(ctx context.Context, address string) (*domain.FederatedIdentity, error) {
	username, identityDomain, err := domain.SplitAddress(address)
	if err != nil {
		return nil, err
	}

	row := db.db.QueryRowContext(ctx, sqlSelectIdentity, username, identityDomain)
	var identity domain.FederatedIdentity
	var idStr string
	var local int
	err = row.Scan(
		&idStr,
		&identity.Username,
		&identity.Domain,
		&identity.PublicKeyPem,
		&identity.PrivateKeyPem,
		&local,
		&identity.CreatedAt,
		&identity.LastFetchedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	identity.Id, _ = uuid.Parse(idStr)
	identity.Local = local == 1
	return &identity, nil
}

// GetPublicKey returns the PEM public key for an address, or "" when the
// identity is unknown locally.
func (db *DB) GetPublicKey(ctx context.Context, address string) (string, error) {
	username, identityDomain, err := domain.SplitAddress(address)
	if err != nil {
		return "", err
	}

	var pem string
	err = db.db.QueryRowContext(ctx, sqlSelectPublicKey, username, identityDomain).Scan(&pem)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return pem, nil
}

// GetPrivateKey returns the PEM private key for a local identity, or ""
// when the address is not local to this server.
func (db *DB) GetPrivateKey(ctx context.Context, address string) (string, error) {
	username, identityDomain, err := domain.SplitAddress(address)
	if err != nil {
		return "", err
	}

	var pem string
	err = db.db.QueryRowContext(ctx, sqlSelectPrivateKey, username, identityDomain).Scan(&pem)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return pem, nil
}
