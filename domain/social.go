package domain

import (
	"time"

	"github.com/google/uuid"
)

// Relationship kinds stored in the relationships table.
const (
	RelationshipFollow = "follow"
	RelationshipBlock  = "block"
)

// Relationship is a directed edge between two federated addresses.
type Relationship struct {
	Id            uuid.UUID
	UserAddress   string
	TargetAddress string
	Type          string // follow or block
	CreatedAt     time.Time
}

// Content is a federated content row the dispatcher mutates counters on.
// Listing and timeline queries are out of scope; the engine only needs
// existence checks and counter adjustment.
type Content struct {
	Id           string
	Author       string
	LikeCount    int
	CommentCount int
	RepostCount  int
	QuoteCount   int
	CreatedAt    time.Time
}

// Like records one actor liking one content item.
type Like struct {
	Id          uuid.UUID
	ContentId   string
	UserAddress string
	Reaction    string
	CreatedAt   time.Time
}

// Comment is a reply attached to a content item. Not deduplicated: every
// Comment activity creates a new row.
type Comment struct {
	Id              uuid.UUID
	ContentId       string
	UserAddress     string
	Text            string
	ParentCommentId string
	CreatedAt       time.Time
}

// Repost records one actor announcing one content item.
type Repost struct {
	Id                uuid.UUID
	OriginalContentId string
	UserAddress       string
	Text              string
	CreatedAt         time.Time
}

// Quote is a post referencing another content item with commentary.
type Quote struct {
	Id                uuid.UUID
	OriginalContentId string
	UserAddress       string
	Text              string
	CreatedAt         time.Time
}

// Thread is an ordered multi-post descriptor.
type Thread struct {
	Id          uuid.UUID
	UserAddress string
	Title       string
	PostsJSON   string
	CreatedAt   time.Time
}
