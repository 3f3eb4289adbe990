package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ActivityType is the closed set of activity kinds the federation engine
// dispatches on. Wire tokens outside this set are rejected before any state
// is touched.
type ActivityType string

const (
	TypeFollow  ActivityType = "Follow"
	TypeBlock   ActivityType = "Block"
	TypeLike    ActivityType = "Like"
	TypeUnlike  ActivityType = "Unlike"
	TypeComment ActivityType = "Comment"
	TypeQuote   ActivityType = "Quote"
	TypeRepost  ActivityType = "Repost"
	TypeThread  ActivityType = "Thread"
	TypeMessage ActivityType = "Message"
)

// ParseActivityType maps a wire token to the closed type set. Protocol
// aliases are accepted: "Undo" means Unlike, "Announce" means Repost, and
// "Create" is disambiguated by the object shape (inReplyTo -> Comment,
// quoteOf -> Quote, embedded type Thread -> Thread).
func ParseActivityType(token string, object json.RawMessage) (ActivityType, error) {
	switch token {
	case "Follow":
		return TypeFollow, nil
	case "Block":
		return TypeBlock, nil
	case "Like":
		return TypeLike, nil
	case "Undo", "Unlike":
		return TypeUnlike, nil
	case "Comment":
		return TypeComment, nil
	case "Quote":
		return TypeQuote, nil
	case "Announce", "Repost":
		return TypeRepost, nil
	case "Thread":
		return TypeThread, nil
	case "Message":
		return TypeMessage, nil
	case "Create":
		return parseCreateObject(object)
	}
	return "", fmt.Errorf("unsupported activity type: %q", token)
}

// parseCreateObject inspects a Create activity's object to decide which of
// the comment/quote/thread variants it carries.
func parseCreateObject(object json.RawMessage) (ActivityType, error) {
	var obj struct {
		Type      string `json:"type"`
		InReplyTo string `json:"inReplyTo"`
		QuoteOf   string `json:"quoteOf"`
	}
	if err := json.Unmarshal(object, &obj); err != nil {
		return "", fmt.Errorf("unsupported activity type: Create with malformed object")
	}
	switch {
	case obj.Type == "Thread":
		return TypeThread, nil
	case obj.QuoteOf != "":
		return TypeQuote, nil
	case obj.InReplyTo != "":
		return TypeComment, nil
	}
	return "", fmt.Errorf("unsupported activity type: Create with object type %q", obj.Type)
}

// Activity is a signed statement of intent exchanged between servers. The
// object travels as raw JSON so the bytes that were signed survive
// re-serialization on the receiving side.
type Activity struct {
	Type      string          `json:"type"`
	Actor     string          `json:"actor"`
	Object    json.RawMessage `json:"object"`
	Signature string          `json:"signature,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// NewActivity builds an unsigned activity with the current timestamp.
func NewActivity(typ ActivityType, actor string, object any) (*Activity, error) {
	raw, err := json.Marshal(object)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity object: %w", err)
	}
	return &Activity{
		Type:      string(typ),
		Actor:     actor,
		Object:    raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// SigningString is the canonical byte sequence covered by the activity
// signature. The object field is included verbatim, newline-joined with the
// other fields, so sender and receiver sign identical bytes without any
// JSON canonicalization.
func (a *Activity) SigningString() string {
	return strings.Join([]string{a.Type, a.Actor, string(a.Object), a.Timestamp}, "\n")
}

// ActorDomain returns the domain part of the actor's federated address
// ("alice@example.com" -> "example.com").
func (a *Activity) ActorDomain() string {
	idx := strings.LastIndex(a.Actor, "@")
	if idx < 0 {
		return ""
	}
	return a.Actor[idx+1:]
}

// Result is the structured outcome of handling one activity. Business-rule
// rejections (already_liked, not_allowed) live here rather than in errors so
// callers can tell a denied request from a malformed one.
type Result struct {
	Status    string `json:"status"`
	CreatedID string `json:"created_id,omitempty"`
}

// Handler statuses. These are the original protocol's tokens and are part of
// the wire contract with peers.
const (
	StatusFollowed      = "followed"
	StatusBlocked       = "blocked"
	StatusLiked         = "liked"
	StatusAlreadyLiked  = "already_liked"
	StatusUnliked       = "unliked"
	StatusNotFound      = "not_found"
	StatusCommented     = "commented"
	StatusQuoted        = "quoted"
	StatusReposted      = "reposted"
	StatusAlreadyRepost = "already_reposted"
	StatusThreadCreated = "thread_created"
	StatusInvalidThread = "invalid_thread_data"
	StatusDelivered     = "delivered"
	StatusNotAllowed    = "not_allowed"
)
