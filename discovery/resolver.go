package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SRVService is the DNS service label checked first during resolution:
// _metafederate._tcp.<domain>.
const SRVService = "metafederate"

// WellKnownPath is the discovery document path checked second.
const WellKnownPath = "/.well-known/metafederate"

// ErrDiscoveryFailed is returned when no tier produced an endpoint.
var ErrDiscoveryFailed = errors.New("discovery failed")

// SRVLookupFunc matches net.Resolver.LookupSRV.
type SRVLookupFunc func(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)

type cacheEntry struct {
	url        string
	resolvedAt time.Time
}

// Resolver maps a remote domain to its federation endpoint URL with a
// three-tier fallback: SRV record, well-known document, deterministic
// federate.<domain> default. Successful resolutions are cached per domain
// for the configured TTL. Safe for concurrent use.
type Resolver struct {
	client    *http.Client
	lookupSRV SRVLookupFunc
	ttl       time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewResolver builds a resolver around an injected HTTP client. A nil
// client gets a 10-second-timeout default, mirroring the remote-fetch
// timeout used elsewhere in the engine.
func NewResolver(client *http.Client, ttl time.Duration) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Resolver{
		client:    client,
		lookupSRV: net.DefaultResolver.LookupSRV,
		ttl:       ttl,
		cache:     make(map[string]cacheEntry),
	}
}

// WithSRVLookup overrides the DNS SRV lookup, used by tests and by callers
// with a custom resolver.
func (r *Resolver) WithSRVLookup(fn SRVLookupFunc) *Resolver {
	r.lookupSRV = fn
	return r
}

// Resolve returns the federation endpoint URL for a domain. Cache entries
// are advisory: a hit is returned immediately, and Invalidate forces the
// next call to re-resolve.
func (r *Resolver) Resolve(ctx context.Context, domain string) (string, error) {
	domain = strings.TrimSpace(strings.ToLower(domain))
	if domain == "" || strings.ContainsAny(domain, "/ ") {
		return "", fmt.Errorf("%w: invalid domain %q", ErrDiscoveryFailed, domain)
	}

	if url, ok := r.cached(domain); ok {
		return url, nil
	}

	url := r.resolveUncached(ctx, domain)
	if url == "" {
		return "", fmt.Errorf("%w: %s", ErrDiscoveryFailed, domain)
	}

	r.mu.Lock()
	r.cache[domain] = cacheEntry{url: url, resolvedAt: time.Now()}
	r.mu.Unlock()

	return url, nil
}

// Invalidate drops the cache entry for a domain. The delivery engine calls
// this after a failed attempt so a stale endpoint triggers re-resolution
// instead of a permanent error.
func (r *Resolver) Invalidate(domain string) {
	domain = strings.TrimSpace(strings.ToLower(domain))
	r.mu.Lock()
	delete(r.cache, domain)
	r.mu.Unlock()
}

func (r *Resolver) cached(domain string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.cache[domain]
	if !ok {
		return "", false
	}
	if r.ttl > 0 && time.Since(entry.resolvedAt) > r.ttl {
		delete(r.cache, domain)
		return "", false
	}
	return entry.url, true
}

func (r *Resolver) resolveUncached(ctx context.Context, domain string) string {
	// Tier 1: SRV record.
	if url := r.resolveSRV(ctx, domain); url != "" {
		return url
	}

	// Tier 2: well-known discovery document.
	if url := r.resolveWellKnown(ctx, domain); url != "" {
		return url
	}

	// Tier 3: deterministic fallback.
	if ctx.Err() != nil {
		return ""
	}
	return fmt.Sprintf("https://federate.%s", domain)
}

func (r *Resolver) resolveSRV(ctx context.Context, domain string) string {
	_, records, err := r.lookupSRV(ctx, SRVService, "tcp", domain)
	if err != nil || len(records) == 0 {
		return ""
	}

	record := records[0]
	target := strings.TrimSuffix(record.Target, ".")
	if target == "" {
		return ""
	}
	return fmt.Sprintf("https://%s:%d", target, record.Port)
}

func (r *Resolver) resolveWellKnown(ctx context.Context, domain string) string {
	url := fmt.Sprintf("https://%s%s", domain, WellKnownPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		log.Printf("Discovery: well-known fetch for %s failed: %v", domain, err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return ""
	}

	var doc struct {
		ServerURL string `json:"server_url"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		log.Printf("Discovery: malformed well-known document from %s: %v", domain, err)
		return ""
	}

	return strings.TrimSuffix(doc.ServerURL, "/")
}
