package federation

import (
	"context"

	"github.com/metafed/metafed/domain"
)

// Store is the data-store contract the federation engine writes through.
// Implementations guarantee single-row atomicity; the engine never requires
// a transaction spanning multiple entities.
type Store interface {
	// GetPublicKey returns the PEM public key for a federated address, or
	// "" when the identity is unknown.
	GetPublicKey(ctx context.Context, address string) (string, error)

	// GetPrivateKey returns the PEM private key for a local identity, or
	// "" when the address is not local to this server.
	GetPrivateKey(ctx context.Context, address string) (string, error)

	// SaveRemoteIdentity caches a remote identity projection (public key
	// only). Upserts on username@domain.
	SaveRemoteIdentity(ctx context.Context, identity *domain.FederatedIdentity) error

	// GetContent reports an existing content row, or nil when absent.
	GetContent(ctx context.Context, contentID string) (*domain.Content, error)

	// CreateFollow adds a follower edge. Returns false without error when
	// the edge already exists.
	CreateFollow(ctx context.Context, actor, target string) (bool, error)

	// RemoveFollows deletes follow edges between two addresses in both
	// directions.
	RemoveFollows(ctx context.Context, a, b string) error

	// RemoveFollow deletes a single directed follow edge, reporting whether
	// one existed.
	RemoveFollow(ctx context.Context, actor, target string) (bool, error)

	// CreateBlock adds a block edge. Returns false without error when the
	// edge already exists.
	CreateBlock(ctx context.Context, actor, target string) (bool, error)

	// GetLike returns the like id for (content, actor), or "" when absent.
	GetLike(ctx context.Context, contentID, actor string) (string, error)
	CreateLike(ctx context.Context, like *domain.Like) error

	// RemoveLike deletes a like, reporting whether one existed.
	RemoveLike(ctx context.Context, contentID, actor string) (bool, error)

	CreateComment(ctx context.Context, comment *domain.Comment) error
	CreateQuote(ctx context.Context, quote *domain.Quote) error

	// GetRepost returns the repost id for (content, actor), or "" when
	// absent.
	GetRepost(ctx context.Context, contentID, actor string) (string, error)
	CreateRepost(ctx context.Context, repost *domain.Repost) error

	CreateThread(ctx context.Context, thread *domain.Thread) error
	CreateMessage(ctx context.Context, msg *domain.EncryptedMessage) error

	// AdjustCounters applies interaction-count deltas to a content row.
	AdjustCounters(ctx context.Context, contentID string, likes, comments, reposts, quotes int) error
}

// Policy supplies the trust predicates the dispatcher consults. The
// db-backed implementation answers from the relationships and domain_blocks
// tables; nothing here is a placeholder.
type Policy interface {
	// IsDomainBlocked reports whether this server refuses all activities
	// from a remote domain.
	IsDomainBlocked(ctx context.Context, domain string) (bool, error)

	// IsBlocked reports whether target blocks actor.
	IsBlocked(ctx context.Context, actor, target string) (bool, error)

	// CanInteract reports whether actor may interact with a content item.
	CanInteract(ctx context.Context, actor, contentID string) (bool, error)
}
