package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FederatedIdentity represents a user known to this server. Local users
// carry their private key material; remote identities are read-only
// projections cached from their home server (public key only).
type FederatedIdentity struct {
	Id            uuid.UUID
	Username      string
	Domain        string
	PublicKeyPem  string
	PrivateKeyPem string // empty for remote identities
	Local         bool
	CreatedAt     time.Time
	LastFetchedAt time.Time
}

// Address returns the federated address "username@domain".
func (f *FederatedIdentity) Address() string {
	return fmt.Sprintf("%s@%s", f.Username, f.Domain)
}

// SplitAddress splits a federated address into username and domain.
func SplitAddress(address string) (username, domain string, err error) {
	idx := strings.LastIndex(address, "@")
	if idx <= 0 || idx == len(address)-1 {
		return "", "", fmt.Errorf("invalid federated address: %q", address)
	}
	return address[:idx], address[idx+1:], nil
}
