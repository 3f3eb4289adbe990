package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/metafed/metafed/discovery"
	"github.com/metafed/metafed/domain"
)

// ActorFetcher pulls identity documents from remote servers and caches them
// as read-only projections. It satisfies KeyFetcher for the inbox
// processor.
type ActorFetcher struct {
	resolver *discovery.Resolver
	client   *http.Client
	store    Store
}

// NewActorFetcher builds a fetcher around an injected client; a nil client
// gets a 10-second timeout default.
func NewActorFetcher(resolver *discovery.Resolver, client *http.Client, store Store) *ActorFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &ActorFetcher{resolver: resolver, client: client, store: store}
}

// identityDocument is the JSON shape served at /users/<username> by
// metafed peers.
type identityDocument struct {
	Username     string `json:"username"`
	Domain       string `json:"domain"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// FetchPublicKey resolves the actor's home server, fetches the identity
// document and caches the projection. Returns the PEM public key.
func (f *ActorFetcher) FetchPublicKey(ctx context.Context, address string) (string, error) {
	username, actorDomain, err := domain.SplitAddress(address)
	if err != nil {
		return "", err
	}

	endpoint, err := f.resolver.Resolve(ctx, actorDomain)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/users/%s", endpoint, username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/activity+json")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("actor fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("actor fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var doc identityDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("failed to parse identity document: %w", err)
	}
	if doc.PublicKeyPem == "" {
		return "", fmt.Errorf("identity document for %s missing public key", address)
	}

	identity := &domain.FederatedIdentity{
		Id:            uuid.New(),
		Username:      username,
		Domain:        actorDomain,
		PublicKeyPem:  doc.PublicKeyPem,
		Local:         false,
		CreatedAt:     time.Now(),
		LastFetchedAt: time.Now(),
	}
	if err := f.store.SaveRemoteIdentity(ctx, identity); err != nil {
		// The key is still usable for this request; cache failure only
		// costs a refetch next time.
		log.Printf("Inbox: failed to cache remote identity %s: %v", address, err)
	}

	return doc.PublicKeyPem, nil
}
