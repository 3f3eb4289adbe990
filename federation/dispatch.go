package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/metafed/metafed/domain"
)

// Dispatcher routes validated activities to their type handlers. The switch
// over the closed type set is exhaustive: a type that parses but has no
// handler is a programming error, not a runtime condition.
type Dispatcher struct {
	store  Store
	policy Policy
}

func NewDispatcher(store Store, policy Policy) *Dispatcher {
	return &Dispatcher{store: store, policy: policy}
}

// Dispatch runs the handler for an already-validated activity. Business
// rejections come back as Result statuses; only storage failures and
// malformed objects are errors.
func (d *Dispatcher) Dispatch(ctx context.Context, typ domain.ActivityType, act *domain.Activity) (*domain.Result, error) {
	switch typ {
	case domain.TypeFollow:
		return d.handleFollow(ctx, act)
	case domain.TypeBlock:
		return d.handleBlock(ctx, act)
	case domain.TypeLike:
		return d.handleLike(ctx, act)
	case domain.TypeUnlike:
		return d.handleUnlike(ctx, act)
	case domain.TypeComment:
		return d.handleComment(ctx, act)
	case domain.TypeQuote:
		return d.handleQuote(ctx, act)
	case domain.TypeRepost:
		return d.handleRepost(ctx, act)
	case domain.TypeThread:
		return d.handleThread(ctx, act)
	case domain.TypeMessage:
		return d.handleMessage(ctx, act)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedActivityType, typ)
}

// stringObject decodes an object that is a bare JSON string (a target
// address or a content id).
func stringObject(act *domain.Activity) (string, error) {
	var s string
	if err := json.Unmarshal(act.Object, &s); err != nil || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: expected string object for %s", ErrMalformedObject, act.Type)
	}
	return s, nil
}

// defaultReaction is recorded when a Like carries no explicit reaction.
const defaultReaction = "❤️"

// interactionObject is a content reference with the optional extras some
// interaction types carry: a like's reaction, a repost's commentary.
type interactionObject struct {
	Id       string `json:"id"`
	Reaction string `json:"reaction"`
	Content  string `json:"content"`
}

// parseInteraction accepts either a bare content-id string or a wrapper
// object {"id": ..., "reaction": ..., "content": ...}.
func parseInteraction(act *domain.Activity) (*interactionObject, error) {
	var s string
	if err := json.Unmarshal(act.Object, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%w: empty content reference for %s", ErrMalformedObject, act.Type)
		}
		return &interactionObject{Id: s}, nil
	}
	var obj interactionObject
	if err := json.Unmarshal(act.Object, &obj); err != nil || strings.TrimSpace(obj.Id) == "" {
		return nil, fmt.Errorf("%w: expected content reference for %s", ErrMalformedObject, act.Type)
	}
	return &obj, nil
}

// handleFollow creates a follower edge. Following twice is a no-op that
// still reports success, so a retried activity converges instead of
// erroring.
func (d *Dispatcher) handleFollow(ctx context.Context, act *domain.Activity) (*domain.Result, error) {
	target, err := stringObject(act)
	if err != nil {
		return nil, err
	}

	blocked, err := d.policy.IsBlocked(ctx, act.Actor, target)
	if err != nil {
		return nil, fmt.Errorf("failed to check block state: %w", err)
	}
	if blocked {
		log.Printf("Dispatch: follow from %s rejected, blocked by %s", act.Actor, target)
		return &domain.Result{Status: domain.StatusNotAllowed}, nil
	}

	if _, err := d.store.CreateFollow(ctx, act.Actor, target); err != nil {
		return nil, fmt.Errorf("failed to create follow: %w", err)
	}
	return &domain.Result{Status: domain.StatusFollowed}, nil
}

// handleBlock severs follow edges in both directions and records the block.
// Blocking twice reports success like a first block.
func (d *Dispatcher) handleBlock(ctx context.Context, act *domain.Activity) (*domain.Result, error) {
	target, err := stringObject(act)
	if err != nil {
		return nil, err
	}
	if target == act.Actor {
		return &domain.Result{Status: domain.StatusNotAllowed}, nil
	}

	if err := d.store.RemoveFollows(ctx, act.Actor, target); err != nil {
		return nil, fmt.Errorf("failed to sever follows: %w", err)
	}
	if _, err := d.store.CreateBlock(ctx, act.Actor, target); err != nil {
		return nil, fmt.Errorf("failed to create block: %w", err)
	}
	return &domain.Result{Status: domain.StatusBlocked}, nil
}

// handleLike is idempotent per (content, actor): a duplicate reports
// already_liked with the original like id and leaves the counter alone.
func (d *Dispatcher) handleLike(ctx context.Context, act *domain.Activity) (*domain.Result, error) {
	obj, err := parseInteraction(act)
	if err != nil {
		return nil, err
	}
	contentID := obj.Id
	reaction := obj.Reaction
	if reaction == "" {
		reaction = defaultReaction
	}

	content, err := d.store.GetContent(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up content: %w", err)
	}
	if content == nil {
		return &domain.Result{Status: domain.StatusNotFound}, nil
	}

	allowed, err := d.policy.CanInteract(ctx, act.Actor, contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check interaction policy: %w", err)
	}
	if !allowed {
		return &domain.Result{Status: domain.StatusNotAllowed}, nil
	}

	existing, err := d.store.GetLike(ctx, contentID, act.Actor)
	if err != nil {
		return nil, fmt.Errorf("failed to look up like: %w", err)
	}
	if existing != "" {
		return &domain.Result{Status: domain.StatusAlreadyLiked, CreatedID: existing}, nil
	}

	like := &domain.Like{
		Id:          uuid.New(),
		ContentId:   contentID,
		UserAddress: act.Actor,
		Reaction:    reaction,
		CreatedAt:   time.Now(),
	}
	if err := d.store.CreateLike(ctx, like); err != nil {
		return nil, fmt.Errorf("failed to create like: %w", err)
	}
	if err := d.store.AdjustCounters(ctx, contentID, 1, 0, 0, 0); err != nil {
		return nil, fmt.Errorf("failed to adjust like count: %w", err)
	}
	return &domain.Result{Status: domain.StatusLiked, CreatedID: like.Id.String()}, nil
}

// handleUnlike removes a like if one exists. Unliking something never liked
// reports not_found and does not touch the counter.
func (d *Dispatcher) handleUnlike(ctx context.Context, act *domain.Activity) (*domain.Result, error) {
	obj, err := parseInteraction(act)
	if err != nil {
		return nil, err
	}
	contentID := obj.Id

	removed, err := d.store.RemoveLike(ctx, contentID, act.Actor)
	if err != nil {
		return nil, fmt.Errorf("failed to remove like: %w", err)
	}
	if !removed {
		return &domain.Result{Status: domain.StatusNotFound}, nil
	}
	if err := d.store.AdjustCounters(ctx, contentID, -1, 0, 0, 0); err != nil {
		return nil, fmt.Errorf("failed to adjust like count: %w", err)
	}
	return &domain.Result{Status: domain.StatusUnliked}, nil
}

type commentObject struct {
	InReplyTo string `json:"inReplyTo"`
	Content   string `json:"content"`
	Parent    string `json:"parent,omitempty"`
}

// handleComment is deliberately not idempotent: posting the same text twice
// is two comments.
func (d *Dispatcher) handleComment(ctx context.Context, act *domain.Activity) (*domain.Result, error) {
	var obj commentObject
	if err := json.Unmarshal(act.Object, &obj); err != nil || obj.InReplyTo == "" || obj.Content == "" {
		return nil, fmt.Errorf("%w: comment needs inReplyTo and content", ErrMalformedObject)
	}

	content, err := d.store.GetContent(ctx, obj.InReplyTo)
	if err != nil {
		return nil, fmt.Errorf("failed to look up content: %w", err)
	}
	if content == nil {
		return &domain.Result{Status: domain.StatusNotFound}, nil
	}

	allowed, err := d.policy.CanInteract(ctx, act.Actor, obj.InReplyTo)
	if err != nil {
		return nil, fmt.Errorf("failed to check interaction policy: %w", err)
	}
	if !allowed {
		return &domain.Result{Status: domain.StatusNotAllowed}, nil
	}

	comment := &domain.Comment{
		Id:              uuid.New(),
		ContentId:       obj.InReplyTo,
		UserAddress:     act.Actor,
		Text:            obj.Content,
		ParentCommentId: obj.Parent,
		CreatedAt:       time.Now(),
	}
	if err := d.store.CreateComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}
	if err := d.store.AdjustCounters(ctx, obj.InReplyTo, 0, 1, 0, 0); err != nil {
		return nil, fmt.Errorf("failed to adjust comment count: %w", err)
	}
	return &domain.Result{Status: domain.StatusCommented, CreatedID: comment.Id.String()}, nil
}

type quoteObject struct {
	QuoteOf string `json:"quoteOf"`
	Content string `json:"content"`
}

func (d *Dispatcher) handleQuote(ctx context.Context, act *domain.Activity) (*domain.Result, error) {
	var obj quoteObject
	if err := json.Unmarshal(act.Object, &obj); err != nil || obj.QuoteOf == "" {
		return nil, fmt.Errorf("%w: quote needs quoteOf", ErrMalformedObject)
	}

	content, err := d.store.GetContent(ctx, obj.QuoteOf)
	if err != nil {
		return nil, fmt.Errorf("failed to look up content: %w", err)
	}
	if content == nil {
		return &domain.Result{Status: domain.StatusNotFound}, nil
	}

	allowed, err := d.policy.CanInteract(ctx, act.Actor, obj.QuoteOf)
	if err != nil {
		return nil, fmt.Errorf("failed to check interaction policy: %w", err)
	}
	if !allowed {
		return &domain.Result{Status: domain.StatusNotAllowed}, nil
	}

	quote := &domain.Quote{
		Id:                uuid.New(),
		OriginalContentId: obj.QuoteOf,
		UserAddress:       act.Actor,
		Text:              obj.Content,
		CreatedAt:         time.Now(),
	}
	if err := d.store.CreateQuote(ctx, quote); err != nil {
		return nil, fmt.Errorf("failed to create quote: %w", err)
	}
	if err := d.store.AdjustCounters(ctx, obj.QuoteOf, 0, 0, 0, 1); err != nil {
		return nil, fmt.Errorf("failed to adjust quote count: %w", err)
	}
	return &domain.Result{Status: domain.StatusQuoted, CreatedID: quote.Id.String()}, nil
}

// handleRepost is idempotent per (content, actor), mirroring likes. An
// optional content field carries the reposter's commentary.
func (d *Dispatcher) handleRepost(ctx context.Context, act *domain.Activity) (*domain.Result, error) {
	obj, err := parseInteraction(act)
	if err != nil {
		return nil, err
	}
	contentID := obj.Id

	content, err := d.store.GetContent(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up content: %w", err)
	}
	if content == nil {
		return &domain.Result{Status: domain.StatusNotFound}, nil
	}

	allowed, err := d.policy.CanInteract(ctx, act.Actor, contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check interaction policy: %w", err)
	}
	if !allowed {
		return &domain.Result{Status: domain.StatusNotAllowed}, nil
	}

	existing, err := d.store.GetRepost(ctx, contentID, act.Actor)
	if err != nil {
		return nil, fmt.Errorf("failed to look up repost: %w", err)
	}
	if existing != "" {
		return &domain.Result{Status: domain.StatusAlreadyRepost, CreatedID: existing}, nil
	}

	repost := &domain.Repost{
		Id:                uuid.New(),
		OriginalContentId: contentID,
		UserAddress:       act.Actor,
		Text:              obj.Content,
		CreatedAt:         time.Now(),
	}
	if err := d.store.CreateRepost(ctx, repost); err != nil {
		return nil, fmt.Errorf("failed to create repost: %w", err)
	}
	if err := d.store.AdjustCounters(ctx, contentID, 0, 0, 1, 0); err != nil {
		return nil, fmt.Errorf("failed to adjust repost count: %w", err)
	}
	return &domain.Result{Status: domain.StatusReposted, CreatedID: repost.Id.String()}, nil
}

type threadObject struct {
	Type  string            `json:"type"`
	Title string            `json:"title"`
	Posts []json.RawMessage `json:"posts"`
}

// handleThread validates fully before writing: a thread either lands whole
// or reports invalid_thread_data with nothing stored.
func (d *Dispatcher) handleThread(ctx context.Context, act *domain.Activity) (*domain.Result, error) {
	var obj threadObject
	if err := json.Unmarshal(act.Object, &obj); err != nil {
		return &domain.Result{Status: domain.StatusInvalidThread}, nil
	}
	if obj.Type != "Thread" || obj.Title == "" || len(obj.Posts) == 0 {
		return &domain.Result{Status: domain.StatusInvalidThread}, nil
	}

	posts, err := json.Marshal(obj.Posts)
	if err != nil {
		return &domain.Result{Status: domain.StatusInvalidThread}, nil
	}

	thread := &domain.Thread{
		Id:          uuid.New(),
		UserAddress: act.Actor,
		Title:       obj.Title,
		PostsJSON:   string(posts),
		CreatedAt:   time.Now(),
	}
	if err := d.store.CreateThread(ctx, thread); err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	return &domain.Result{Status: domain.StatusThreadCreated, CreatedID: thread.Id.String()}, nil
}

type messageObject struct {
	From         string `json:"from"`
	To           string `json:"to"`
	CipherText   string `json:"ciphertext"`
	EncryptedKey string `json:"encrypted_key"`
	Algorithm    string `json:"algorithm"`
}

// handleMessage stores an encrypted direct message as opaque ciphertext.
// The server never decrypts; it only checks the block relation in both
// directions.
func (d *Dispatcher) handleMessage(ctx context.Context, act *domain.Activity) (*domain.Result, error) {
	var obj messageObject
	if err := json.Unmarshal(act.Object, &obj); err != nil ||
		obj.To == "" || obj.CipherText == "" || obj.EncryptedKey == "" || obj.Algorithm == "" {
		return nil, fmt.Errorf("%w: message needs to, ciphertext, encrypted_key and algorithm", ErrMalformedObject)
	}
	from := obj.From
	if from == "" {
		from = act.Actor
	}

	blocked, err := d.policy.IsBlocked(ctx, from, obj.To)
	if err != nil {
		return nil, fmt.Errorf("failed to check block state: %w", err)
	}
	if !blocked {
		blocked, err = d.policy.IsBlocked(ctx, obj.To, from)
		if err != nil {
			return nil, fmt.Errorf("failed to check block state: %w", err)
		}
	}
	if blocked {
		log.Printf("Dispatch: message %s -> %s rejected by block", from, obj.To)
		return &domain.Result{Status: domain.StatusNotAllowed}, nil
	}

	msg := &domain.EncryptedMessage{
		Id:          uuid.New(),
		FromAddress: from,
		ToAddress:   obj.To,
		CipherText:  obj.CipherText,
		WrappedKey:  obj.EncryptedKey,
		Algorithm:   obj.Algorithm,
		CreatedAt:   time.Now(),
	}
	if err := d.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	return &domain.Result{Status: domain.StatusDelivered, CreatedID: msg.Id.String()}, nil
}
