package gateway

import "testing"

func TestResolveSessionKey_Deterministic(t *testing.T) {
	k1, err := resolveSessionKey("", "due", "discord", "chat-1", "user-1")
	if err != nil {
		t.Fatalf("resolve session key: %v", err)
	}
	k2, err := resolveSessionKey("", "due", "Discord", "chat-1", "user-1")
	if err != nil {
		t.Fatalf("resolve session key second call: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("expected deterministic session keys, got %q vs %q", k1, k2)
	}
	if !isCanonicalSessionKey(k1) {
		t.Fatalf("expected canonical session key, got %q", k1)
	}
	again, err := resolveSessionKey(k1, "", "", "", "")
	if err != nil || again != k1 {
		t.Fatalf("canonical key should pass through, got %q (%v)", again, err)
	}
}

func TestResolveSessionKey_DiffersByActor(t *testing.T) {
	k1, err := resolveSessionKey("", "due", "discord", "chat-1", "user-a")
	if err != nil {
		t.Fatalf("resolve session key actor A: %v", err)
	}
	k2, err := resolveSessionKey("", "due", "discord", "chat-1", "user-b")
	if err != nil {
		t.Fatalf("resolve session key actor B: %v", err)
	}
	if k1 == k2 {
		t.Fatalf("expected different keys for different actors")
	}
}

func TestResolveSessionKey_ExplicitWins(t *testing.T) {
	got, err := resolveSessionKey("cli:default", "", "", "", "")
	if err != nil {
		t.Fatalf("resolve explicit session key: %v", err)
	}
	if got != "cli:default" {
		t.Fatalf("expected explicit key, got %q", got)
	}
	got, err = resolveSessionKey(" cli:work ", "due", "cli", "direct", "local-user")
	if err != nil || got != "cli:work" {
		t.Fatalf("explicit key should win over identity, got %q (%v)", got, err)
	}
}

func TestResolveSessionKey_MissingIdentity(t *testing.T) {
	if _, err := resolveSessionKey("", "due", "discord", "", "user"); err == nil {
		t.Fatal("expected error for missing conversation id")
	}
}
