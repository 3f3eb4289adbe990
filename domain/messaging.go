package domain

import (
	"time"

	"github.com/google/uuid"
)

// EncryptedMessage is a direct message protected with hybrid encryption.
// Immutable after creation except the Read flag, which only the recipient
// may set.
type EncryptedMessage struct {
	Id          uuid.UUID
	FromAddress string
	ToAddress   string
	CipherText  string // base64
	WrappedKey  string // base64, symmetric key wrapped with recipient's public key
	Algorithm   string
	CreatedAt   time.Time
	Read        bool
}
