package web

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/metafed/metafed/crypto"
	"github.com/metafed/metafed/db"
	"github.com/metafed/metafed/domain"
	"github.com/metafed/metafed/federation"
	"github.com/metafed/metafed/messaging"
	"github.com/metafed/metafed/util"
)

func testServer(t *testing.T) (*Server, *db.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	conf := &util.AppConfig{}
	conf.Conf.Host = "localhost"
	conf.Conf.HttpPort = 8080
	conf.Conf.Domain = "local.example"

	dispatcher := federation.NewDispatcher(database, database)
	processor := federation.NewProcessor(database, database, dispatcher, nil)
	messages := messaging.NewManager(database, nil, nil, "local.example")

	return NewServer(conf, database, processor, messages), database
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

func seedRemoteSender(t *testing.T, database *db.DB, address, pubPem string) {
	t.Helper()
	username, senderDomain, err := domain.SplitAddress(address)
	if err != nil {
		t.Fatalf("SplitAddress: %v", err)
	}
	identity := &domain.FederatedIdentity{
		Id:            uuid.New(),
		Username:      username,
		Domain:        senderDomain,
		PublicKeyPem:  pubPem,
		CreatedAt:     time.Now(),
		LastFetchedAt: time.Now(),
	}
	if err := database.SaveRemoteIdentity(context.Background(), identity); err != nil {
		t.Fatalf("SaveRemoteIdentity: %v", err)
	}
}

// postActivity delivers an activity the way a remote peer would: payload
// plus an HTTP signature over the request envelope, both under privPem.
func postActivity(t *testing.T, router *gin.Engine, act *domain.Activity, privPem string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(act)
	if err != nil {
		t.Fatalf("marshal activity: %v", err)
	}
	req, _ := http.NewRequest("POST", "/inbox", bytes.NewReader(body))
	req.Host = "local.example"
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.Host)
	hash := sha256.Sum256(body)
	req.Header.Set("Digest", "SHA-256="+base64.StdEncoding.EncodeToString(hash[:]))

	key, err := crypto.ParsePrivateKey(privPem)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	username, senderDomain, err := domain.SplitAddress(act.Actor)
	if err != nil {
		t.Fatalf("SplitAddress: %v", err)
	}
	keyID := "https://" + senderDomain + "/users/" + username + "#main-key"
	if err := federation.SignRequest(req, key, keyID); err != nil {
		t.Fatalf("SignRequest: %v", err)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestInboxAcceptsSignedFollow(t *testing.T) {
	srv, database := testServer(t)
	router := srv.Router()

	pubPem, privPem := testKeyPair(t)
	seedRemoteSender(t, database, "alice@remote.example", pubPem)

	act, err := domain.NewActivity(domain.TypeFollow, "alice@remote.example", "bob@local.example")
	if err != nil {
		t.Fatalf("NewActivity: %v", err)
	}
	if err := federation.SignActivity(act, privPem); err != nil {
		t.Fatalf("SignActivity: %v", err)
	}

	w := postActivity(t, router, act, privPem)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body: %s", w.Code, w.Body.String())
	}

	var result domain.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Status != domain.StatusFollowed {
		t.Errorf("result status = %q, want %q", result.Status, domain.StatusFollowed)
	}
}

func TestInboxRejectsBadPayloadSignature(t *testing.T) {
	srv, database := testServer(t)
	router := srv.Router()

	pubPem, privPem := testKeyPair(t)
	seedRemoteSender(t, database, "alice@remote.example", pubPem)

	// The HTTP envelope is signed correctly but the payload signature is
	// garbage.
	act, _ := domain.NewActivity(domain.TypeFollow, "alice@remote.example", "bob@local.example")
	act.Signature = "bm90LWEtc2lnbmF0dXJl"

	w := postActivity(t, router, act, privPem)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestInboxRequiresHTTPSignature(t *testing.T) {
	srv, database := testServer(t)
	router := srv.Router()

	pubPem, privPem := testKeyPair(t)
	seedRemoteSender(t, database, "alice@remote.example", pubPem)

	act, _ := domain.NewActivity(domain.TypeFollow, "alice@remote.example", "bob@local.example")
	if err := federation.SignActivity(act, privPem); err != nil {
		t.Fatalf("SignActivity: %v", err)
	}
	body, _ := json.Marshal(act)

	// A valid payload without a Signature header must not be processed.
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/inbox", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/activity+json")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestInboxRejectsWrongHTTPSignatureKey(t *testing.T) {
	srv, database := testServer(t)
	router := srv.Router()

	pubPem, privPem := testKeyPair(t)
	_, otherPriv := testKeyPair(t)
	seedRemoteSender(t, database, "alice@remote.example", pubPem)

	act, _ := domain.NewActivity(domain.TypeFollow, "alice@remote.example", "bob@local.example")
	if err := federation.SignActivity(act, privPem); err != nil {
		t.Fatalf("SignActivity: %v", err)
	}

	w := postActivity(t, router, act, otherPriv)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestInboxRejectsBlockedDomain(t *testing.T) {
	srv, database := testServer(t)
	router := srv.Router()

	pubPem, privPem := testKeyPair(t)
	seedRemoteSender(t, database, "alice@spam.example", pubPem)
	if err := database.BlockDomain(context.Background(), "spam.example"); err != nil {
		t.Fatalf("BlockDomain: %v", err)
	}

	act, _ := domain.NewActivity(domain.TypeFollow, "alice@spam.example", "bob@local.example")
	if err := federation.SignActivity(act, privPem); err != nil {
		t.Fatalf("SignActivity: %v", err)
	}

	w := postActivity(t, router, act, privPem)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestInboxRejectsUnsupportedType(t *testing.T) {
	srv, database := testServer(t)
	router := srv.Router()

	pubPem, privPem := testKeyPair(t)
	seedRemoteSender(t, database, "alice@remote.example", pubPem)

	act, _ := domain.NewActivity(domain.TypeFollow, "alice@remote.example", "bob@local.example")
	act.Type = "Explode"
	if err := federation.SignActivity(act, privPem); err != nil {
		t.Fatalf("SignActivity: %v", err)
	}

	w := postActivity(t, router, act, privPem)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestInboxRejectsGarbageBody(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Router()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/inbox", bytes.NewReader([]byte("not json")))
	req.Header.Set("Signature", `keyId="x"`)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestWellKnownDocument(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Router()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/.well-known/metafederate", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var doc struct {
		ServerURL string `json:"server_url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.ServerURL != "https://local.example" {
		t.Errorf("server_url = %q, want https://local.example", doc.ServerURL)
	}
}

func TestActorUnknownUser(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Router()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/users/ghost", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestActorRemoteIdentityHidden(t *testing.T) {
	srv, database := testServer(t)
	router := srv.Router()

	// A cached remote identity must not be served as a local actor.
	pubPem, _ := testKeyPair(t)
	seedRemoteSender(t, database, "alice@local.example", pubPem)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/users/alice", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for non-local identity", w.Code)
	}
}

func TestWebfingerBadResource(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Router()

	for _, target := range []string{
		"/.well-known/webfinger",
		"/.well-known/webfinger?resource=https://wrong.example",
		"/.well-known/webfinger?resource=acct:ghost@local.example",
	} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", target, nil)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", target, w.Code)
		}
	}
}

func TestSendMessageAndUnreadCount(t *testing.T) {
	srv, database := testServer(t)
	router := srv.Router()

	pubPem, _ := testKeyPair(t)
	seedRemoteSender(t, database, "bob@local.example", pubPem)

	body := []byte(`{"from":"alice@local.example","to":"bob@local.example","text":"hello"}`)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("send status = %d, want 201; body: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/messages/unread?address=bob@local.example", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("unread status = %d, want 200", w.Code)
	}

	var resp struct {
		Unread int `json:"unread"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Unread != 1 {
		t.Errorf("unread = %d, want 1", resp.Unread)
	}
}

func TestSendMessageUnknownRecipient(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Router()

	body := []byte(`{"from":"alice@local.example","to":"ghost@local.example","text":"hello"}`)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestUnreadCountRequiresAddress(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Router()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/messages/unread", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
