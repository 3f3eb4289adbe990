package federation

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/metafed/metafed/crypto"
	"github.com/metafed/metafed/domain"
)

// KeyFetcher retrieves a public key for a remote actor whose identity is
// not yet cached locally. Implemented by ActorFetcher; nil disables remote
// fetching.
type KeyFetcher interface {
	FetchPublicKey(ctx context.Context, address string) (string, error)
}

// Processor validates inbound activities and hands them to the dispatcher.
// It is stateless between calls: every Receive is independent.
type Processor struct {
	store      Store
	policy     Policy
	dispatcher *Dispatcher
	fetcher    KeyFetcher
}

// NewProcessor wires the inbound validation pipeline. fetcher may be nil,
// in which case activities from unknown actors are rejected outright.
func NewProcessor(store Store, policy Policy, dispatcher *Dispatcher, fetcher KeyFetcher) *Processor {
	return &Processor{store: store, policy: policy, dispatcher: dispatcher, fetcher: fetcher}
}

// Receive runs the validation pipeline, short-circuiting on the first
// failure: signature, then domain block list, then type dispatch. No state
// is mutated until both checks pass.
func (p *Processor) Receive(ctx context.Context, act *domain.Activity) (*domain.Result, error) {
	key, err := p.actorKey(ctx, act.Actor)
	if err != nil {
		return nil, err
	}
	if key == "" {
		log.Printf("Inbox: no public key for %s", act.Actor)
		return nil, ErrInvalidSignature
	}

	if !crypto.Verify(act.SigningString(), act.Signature, key) {
		log.Printf("Inbox: signature verification failed for %s from %s", act.Type, act.Actor)
		return nil, ErrInvalidSignature
	}

	actorDomain := act.ActorDomain()
	if actorDomain == "" {
		return nil, ErrInvalidSignature
	}
	blocked, err := p.policy.IsDomainBlocked(ctx, actorDomain)
	if err != nil {
		return nil, fmt.Errorf("failed to check domain block list: %w", err)
	}
	if blocked {
		log.Printf("Inbox: rejected %s from blocked domain %s", act.Type, actorDomain)
		return nil, ErrDomainBlocked
	}

	typ, err := domain.ParseActivityType(act.Type, act.Object)
	if err != nil {
		log.Printf("Inbox: %v", err)
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedActivityType, act.Type)
	}

	log.Printf("Inbox: received %s from %s", typ, act.Actor)
	return p.dispatcher.Dispatch(ctx, typ, act)
}

// VerifyHTTPSignature checks the transport-level signature on an inbound
// request against the actor's public key. The payload carries its own
// signature as well; this check binds the HTTP envelope (target, host,
// date, digest) to the same key.
func (p *Processor) VerifyHTTPSignature(ctx context.Context, req *http.Request, actor string) error {
	key, err := p.actorKey(ctx, actor)
	if err != nil {
		return err
	}
	if key == "" {
		log.Printf("Inbox: no public key for %s", actor)
		return ErrInvalidSignature
	}
	if _, err := VerifyRequest(req, key); err != nil {
		log.Printf("Inbox: HTTP signature verification failed for %s: %v", actor, err)
		return ErrInvalidSignature
	}
	return nil
}

// actorKey returns the cached public key for an actor, fetching and caching
// the remote identity document on a miss.
func (p *Processor) actorKey(ctx context.Context, address string) (string, error) {
	key, err := p.store.GetPublicKey(ctx, address)
	if err != nil {
		return "", fmt.Errorf("failed to look up public key: %w", err)
	}
	if key != "" || p.fetcher == nil {
		return key, nil
	}

	key, err = p.fetcher.FetchPublicKey(ctx, address)
	if err != nil {
		log.Printf("Inbox: failed to fetch actor %s: %v", address, err)
		return "", nil
	}
	return key, nil
}
