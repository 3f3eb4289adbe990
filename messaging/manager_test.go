package messaging

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"sort"
	"testing"

	"github.com/google/uuid"

	"github.com/metafed/metafed/crypto"
	"github.com/metafed/metafed/domain"
)

type memStore struct {
	publicKeys map[string]string
	messages   map[uuid.UUID]*domain.EncryptedMessage
}

func newMemStore() *memStore {
	return &memStore{
		publicKeys: make(map[string]string),
		messages:   make(map[uuid.UUID]*domain.EncryptedMessage),
	}
}

func (s *memStore) GetPublicKey(_ context.Context, address string) (string, error) {
	return s.publicKeys[address], nil
}

func (s *memStore) CreateMessage(_ context.Context, msg *domain.EncryptedMessage) error {
	copied := *msg
	s.messages[msg.Id] = &copied
	return nil
}

func (s *memStore) GetMessage(_ context.Context, id uuid.UUID) (*domain.EncryptedMessage, error) {
	return s.messages[id], nil
}

func (s *memStore) Conversation(_ context.Context, a, b string, limit int) ([]*domain.EncryptedMessage, error) {
	var out []*domain.EncryptedMessage
	for _, msg := range s.messages {
		if (msg.FromAddress == a && msg.ToAddress == b) || (msg.FromAddress == b && msg.ToAddress == a) {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) MarkMessageRead(_ context.Context, id uuid.UUID) (bool, error) {
	msg, ok := s.messages[id]
	if !ok {
		return false, nil
	}
	msg.Read = true
	return true, nil
}

func (s *memStore) CountUnread(_ context.Context, address string) (int, error) {
	n := 0
	for _, msg := range s.messages {
		if msg.ToAddress == address && !msg.Read {
			n++
		}
	}
	return n, nil
}

type recordingDeliverer struct {
	targets []string
	acts    []*domain.Activity
	ok      bool
}

func (d *recordingDeliverer) Deliver(_ context.Context, act *domain.Activity, targetDomain string) bool {
	d.targets = append(d.targets, targetDomain)
	d.acts = append(d.acts, act)
	return d.ok
}

func testKeyPair(t *testing.T) (publicPem, privatePem string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	privDer, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}
	pubDer, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	privatePem = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDer}))
	publicPem = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDer}))
	return publicPem, privatePem
}

func TestSendEncryptsAndStores(t *testing.T) {
	pubPem, privPem := testKeyPair(t)
	store := newMemStore()
	store.publicKeys["bob@local.example"] = pubPem
	m := NewManager(store, nil, nil, "local.example")

	msg, err := m.Send(context.Background(), "alice@local.example", "bob@local.example", "meet at noon")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.CipherText == "" || msg.WrappedKey == "" {
		t.Fatal("sent message missing ciphertext or wrapped key")
	}
	if msg.Algorithm != crypto.AlgorithmRSAOAEPAESGCM {
		t.Errorf("algorithm = %q, want %q", msg.Algorithm, crypto.AlgorithmRSAOAEPAESGCM)
	}
	if msg.CipherText == "meet at noon" {
		t.Fatal("plaintext stored verbatim")
	}

	stored := store.messages[msg.Id]
	if stored == nil {
		t.Fatal("message not stored")
	}
	got, err := Decrypt(stored, privPem)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "meet at noon" {
		t.Errorf("decrypted = %q, want original plaintext", got)
	}
}

func TestSendDeliversToRemoteDomain(t *testing.T) {
	pubPem, _ := testKeyPair(t)
	store := newMemStore()
	store.publicKeys["bob@remote.example"] = pubPem
	deliverer := &recordingDeliverer{ok: true}
	m := NewManager(store, nil, deliverer, "local.example")

	if _, err := m.Send(context.Background(), "alice@local.example", "bob@remote.example", "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(deliverer.targets) != 1 || deliverer.targets[0] != "remote.example" {
		t.Fatalf("delivered to %v, want [remote.example]", deliverer.targets)
	}
	if deliverer.acts[0].Type != string(domain.TypeMessage) {
		t.Errorf("delivered activity type = %q, want Message", deliverer.acts[0].Type)
	}
}

func TestSendLocalRecipientSkipsDelivery(t *testing.T) {
	pubPem, _ := testKeyPair(t)
	store := newMemStore()
	store.publicKeys["bob@local.example"] = pubPem
	deliverer := &recordingDeliverer{ok: true}
	m := NewManager(store, nil, deliverer, "local.example")

	if _, err := m.Send(context.Background(), "alice@local.example", "bob@local.example", "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(deliverer.targets) != 0 {
		t.Errorf("local message was federated to %v", deliverer.targets)
	}
}

func TestSendUnknownRecipient(t *testing.T) {
	m := NewManager(newMemStore(), nil, nil, "local.example")
	_, err := m.Send(context.Background(), "alice@local.example", "ghost@remote.example", "hello?")
	if !errors.Is(err, ErrRecipientKeyUnknown) {
		t.Fatalf("err = %v, want ErrRecipientKeyUnknown", err)
	}
}

func TestMarkReadRecipientOnly(t *testing.T) {
	pubPem, _ := testKeyPair(t)
	store := newMemStore()
	store.publicKeys["bob@local.example"] = pubPem
	m := NewManager(store, nil, nil, "local.example")

	msg, err := m.Send(context.Background(), "alice@local.example", "bob@local.example", "hi")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := m.MarkRead(context.Background(), msg.Id, "alice@local.example"); !errors.Is(err, ErrNotRecipient) {
		t.Fatalf("sender MarkRead err = %v, want ErrNotRecipient", err)
	}
	if store.messages[msg.Id].Read {
		t.Fatal("sender flipped the read flag")
	}

	if err := m.MarkRead(context.Background(), msg.Id, "bob@local.example"); err != nil {
		t.Fatalf("recipient MarkRead: %v", err)
	}
	if !store.messages[msg.Id].Read {
		t.Fatal("read flag not set")
	}
}

func TestUnreadCount(t *testing.T) {
	pubPem, _ := testKeyPair(t)
	store := newMemStore()
	store.publicKeys["bob@local.example"] = pubPem
	m := NewManager(store, nil, nil, "local.example")

	var last uuid.UUID
	for i := 0; i < 3; i++ {
		msg, err := m.Send(context.Background(), "alice@local.example", "bob@local.example", "hi")
		if err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		last = msg.Id
	}

	n, err := m.UnreadCount(context.Background(), "bob@local.example")
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if n != 3 {
		t.Errorf("unread = %d, want 3", n)
	}

	if err := m.MarkRead(context.Background(), last, "bob@local.example"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	n, err = m.UnreadCount(context.Background(), "bob@local.example")
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if n != 2 {
		t.Errorf("unread after read = %d, want 2", n)
	}
}

func TestConversationBothDirections(t *testing.T) {
	alicePub, _ := testKeyPair(t)
	bobPub, _ := testKeyPair(t)
	store := newMemStore()
	store.publicKeys["alice@local.example"] = alicePub
	store.publicKeys["bob@local.example"] = bobPub
	m := NewManager(store, nil, nil, "local.example")

	if _, err := m.Send(context.Background(), "alice@local.example", "bob@local.example", "ping"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := m.Send(context.Background(), "bob@local.example", "alice@local.example", "pong"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs, err := m.Conversation(context.Background(), "alice@local.example", "bob@local.example", 10)
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("conversation length = %d, want 2", len(msgs))
	}
}
