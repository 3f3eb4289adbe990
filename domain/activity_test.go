package domain

import (
	"encoding/json"
	"testing"
)

func TestParseActivityTypeDirectTokens(t *testing.T) {
	cases := map[string]ActivityType{
		"Follow":   TypeFollow,
		"Block":    TypeBlock,
		"Like":     TypeLike,
		"Unlike":   TypeUnlike,
		"Undo":     TypeUnlike,
		"Comment":  TypeComment,
		"Quote":    TypeQuote,
		"Repost":   TypeRepost,
		"Announce": TypeRepost,
		"Thread":   TypeThread,
		"Message":  TypeMessage,
	}

	for token, want := range cases {
		got, err := ParseActivityType(token, nil)
		if err != nil {
			t.Errorf("ParseActivityType(%q) failed: %v", token, err)
			continue
		}
		if got != want {
			t.Errorf("ParseActivityType(%q) = %s, want %s", token, got, want)
		}
	}
}

func TestParseActivityTypeCreateAliases(t *testing.T) {
	comment := json.RawMessage(`{"type":"Note","inReplyTo":"content-1","content":"hi"}`)
	typ, err := ParseActivityType("Create", comment)
	if err != nil {
		t.Fatalf("Create with inReplyTo failed: %v", err)
	}
	if typ != TypeComment {
		t.Errorf("expected Comment, got %s", typ)
	}

	quote := json.RawMessage(`{"type":"Note","quoteOf":"content-1","content":"look"}`)
	typ, err = ParseActivityType("Create", quote)
	if err != nil {
		t.Fatalf("Create with quoteOf failed: %v", err)
	}
	if typ != TypeQuote {
		t.Errorf("expected Quote, got %s", typ)
	}

	thread := json.RawMessage(`{"type":"Thread","title":"a thread"}`)
	typ, err = ParseActivityType("Create", thread)
	if err != nil {
		t.Fatalf("Create with Thread object failed: %v", err)
	}
	if typ != TypeThread {
		t.Errorf("expected Thread, got %s", typ)
	}
}

func TestParseActivityTypeUnknown(t *testing.T) {
	if _, err := ParseActivityType("Dance", nil); err == nil {
		t.Error("expected error for unknown type token")
	}

	// A bare Create with no recognizable object shape is unsupported too.
	if _, err := ParseActivityType("Create", json.RawMessage(`{"type":"Note"}`)); err == nil {
		t.Error("expected error for Create without comment/quote/thread shape")
	}
}

func TestSigningStringStable(t *testing.T) {
	a := &Activity{
		Type:      "Like",
		Actor:     "alice@example.com",
		Object:    json.RawMessage(`"content-42"`),
		Timestamp: "2025-06-01T12:00:00Z",
	}

	first := a.SigningString()
	second := a.SigningString()
	if first != second {
		t.Error("signing string is not deterministic")
	}

	// Signature field must not influence the signed bytes.
	a.Signature = "deadbeef"
	if a.SigningString() != first {
		t.Error("signature field leaked into signing string")
	}
}

func TestActorDomain(t *testing.T) {
	a := &Activity{Actor: "bob@remote.example"}
	if got := a.ActorDomain(); got != "remote.example" {
		t.Errorf("ActorDomain = %q, want %q", got, "remote.example")
	}

	a.Actor = "no-domain"
	if got := a.ActorDomain(); got != "" {
		t.Errorf("ActorDomain for bare name = %q, want empty", got)
	}
}

func TestSplitAddress(t *testing.T) {
	user, dom, err := SplitAddress("alice@example.com")
	if err != nil {
		t.Fatalf("SplitAddress failed: %v", err)
	}
	if user != "alice" || dom != "example.com" {
		t.Errorf("got %q@%q", user, dom)
	}

	for _, bad := range []string{"", "alice", "@example.com", "alice@"} {
		if _, _, err := SplitAddress(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
