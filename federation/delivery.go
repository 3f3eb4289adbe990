package federation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/metafed/metafed/crypto"
	"github.com/metafed/metafed/discovery"
	"github.com/metafed/metafed/domain"
)

// DeliveryConfig carries the injected retry and concurrency knobs. Nothing
// here is hardcoded; main wires it from the config file.
type DeliveryConfig struct {
	// Timeout bounds one delivery attempt to one target.
	Timeout time.Duration
	// RetryAttempts is the total number of attempts per target.
	RetryAttempts int
	// RetryDelay is slept between attempts to the same target.
	RetryDelay time.Duration
	// MaxConcurrent caps in-flight deliveries during a fan-out.
	MaxConcurrent int
}

// Report summarizes one fan-out: which target domains accepted the activity
// and which exhausted their retry budget.
type Report struct {
	Succeeded []string
	Failed    []string
}

// Deliverer signs and transmits outbound activities to resolved remote
// endpoints. All collaborators are injected; there is no shared global
// client.
type Deliverer struct {
	resolver *discovery.Resolver
	client   *http.Client
	store    Store
	conf     DeliveryConfig
	origin   string
	version  string

	mu        sync.Mutex
	delivered map[string]bool
}

// NewDeliverer builds a delivery engine. origin is this server's domain,
// used in the User-Agent and the signing key id.
func NewDeliverer(resolver *discovery.Resolver, client *http.Client, store Store, conf DeliveryConfig, origin, version string) *Deliverer {
	if client == nil {
		client = &http.Client{}
	}
	if conf.RetryAttempts < 1 {
		conf.RetryAttempts = 1
	}
	if conf.MaxConcurrent < 1 {
		conf.MaxConcurrent = 1
	}
	return &Deliverer{
		resolver:  resolver,
		client:    client,
		store:     store,
		conf:      conf,
		origin:    origin,
		version:   version,
		delivered: make(map[string]bool),
	}
}

// SignActivity attaches a payload signature produced with the actor's
// private key.
func SignActivity(act *domain.Activity, privateKeyPem string) error {
	sig, err := crypto.Sign(act.SigningString(), privateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to sign activity: %w", err)
	}
	act.Signature = sig
	return nil
}

// Deliver transmits one activity to one target domain. Resolution failure
// means false without any network call. Each attempt has its own timeout;
// after a failed attempt the cached endpoint is invalidated so the retry
// re-resolves. A target already recorded as delivered for this activity is
// skipped and reported as success.
func (d *Deliverer) Deliver(ctx context.Context, act *domain.Activity, targetDomain string) bool {
	dedupKey := activityFingerprint(act) + "|" + targetDomain
	if d.alreadyDelivered(dedupKey) {
		return true
	}

	if act.Signature == "" {
		if err := d.signAsActor(ctx, act); err != nil {
			log.Printf("Delivery: cannot sign activity from %s: %v", act.Actor, err)
			return false
		}
	}

	endpoint, err := d.resolver.Resolve(ctx, targetDomain)
	if err != nil {
		log.Printf("Delivery: discovery failed for %s: %v", targetDomain, err)
		return false
	}

	for attempt := 1; attempt <= d.conf.RetryAttempts; attempt++ {
		err := d.post(ctx, act, endpoint)
		if err == nil {
			d.markDelivered(dedupKey)
			log.Printf("Delivery: delivered %s to %s", act.Type, targetDomain)
			return true
		}
		log.Printf("Delivery: attempt %d/%d to %s failed: %v", attempt, d.conf.RetryAttempts, targetDomain, err)

		// Stale endpoints must trigger re-resolution, not a permanent
		// error.
		d.resolver.Invalidate(targetDomain)

		if attempt == d.conf.RetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d.conf.RetryDelay):
		}
		if fresh, err := d.resolver.Resolve(ctx, targetDomain); err == nil {
			endpoint = fresh
		}
	}

	return false
}

// DeliverAll fans one activity out to many target domains concurrently,
// capped at MaxConcurrent in flight. Targets fail or succeed independently;
// a hung peer never serializes the rest. Duplicate domains are collapsed.
func (d *Deliverer) DeliverAll(ctx context.Context, act *domain.Activity, targetDomains []string) *Report {
	seen := make(map[string]bool, len(targetDomains))
	var targets []string
	for _, td := range targetDomains {
		if !seen[td] {
			seen[td] = true
			targets = append(targets, td)
		}
	}

	// Sign once up front so concurrent attempts share one signature.
	if act.Signature == "" {
		if err := d.signAsActor(ctx, act); err != nil {
			log.Printf("Delivery: cannot sign activity from %s: %v", act.Actor, err)
			return &Report{Failed: targets}
		}
	}

	report := &Report{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, d.conf.MaxConcurrent)

	for _, target := range targets {
		wg.Add(1)
		sem <- struct{}{}
		go func(target string) {
			defer wg.Done()
			defer func() { <-sem }()

			ok := d.Deliver(ctx, act, target)

			mu.Lock()
			if ok {
				report.Succeeded = append(report.Succeeded, target)
			} else {
				report.Failed = append(report.Failed, target)
			}
			mu.Unlock()
		}(target)
	}

	wg.Wait()
	return report
}

func (d *Deliverer) signAsActor(ctx context.Context, act *domain.Activity) error {
	privPem, err := d.store.GetPrivateKey(ctx, act.Actor)
	if err != nil {
		return err
	}
	if privPem == "" {
		return fmt.Errorf("no private key for %s", act.Actor)
	}
	return SignActivity(act, privPem)
}

// post performs one signed POST to the remote inbox, bounded by the
// per-attempt timeout.
func (d *Deliverer) post(ctx context.Context, act *domain.Activity, endpoint string) error {
	attemptCtx := ctx
	if d.conf.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, d.conf.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(act)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	hash := sha256.Sum256(body)
	digest := "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint+"/inbox", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", fmt.Sprintf("metafed/%s (%s)", d.version, d.origin))
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", digest)

	if err := d.signRequest(ctx, req, act.Actor); err != nil {
		return err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("%w: remote returned status %d", ErrDeliveryFailed, resp.StatusCode)
	}

	return nil
}

// signRequest adds the HTTP signature, keyed by the actor's key document on
// this server. Skipped when the actor's private key is not held locally.
func (d *Deliverer) signRequest(ctx context.Context, req *http.Request, actor string) error {
	privPem, err := d.store.GetPrivateKey(ctx, actor)
	if err != nil || privPem == "" {
		return fmt.Errorf("no signing key for %s", actor)
	}

	privKey, err := crypto.ParsePrivateKey(privPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	username, _, err := domain.SplitAddress(actor)
	if err != nil {
		return err
	}

	keyID := fmt.Sprintf("https://%s/users/%s#main-key", d.origin, username)
	return SignRequest(req, privKey, keyID)
}

// deliveredCacheCap bounds the dedup map. Evicting everything on overflow
// only risks one redundant redelivery per target, which inbound handlers
// absorb idempotently.
const deliveredCacheCap = 10000

func (d *Deliverer) alreadyDelivered(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delivered[key]
}

func (d *Deliverer) markDelivered(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.delivered) >= deliveredCacheCap {
		d.delivered = make(map[string]bool)
	}
	d.delivered[key] = true
}

func activityFingerprint(act *domain.Activity) string {
	sum := sha256.Sum256([]byte(act.SigningString()))
	return hex.EncodeToString(sum[:])
}
