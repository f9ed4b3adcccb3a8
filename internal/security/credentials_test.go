package security

import (
	"strings"
	"testing"
)

func TestNewP2PCredentialsShape(t *testing.T) {
	creds, err := NewP2PCredentials()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if len(creds.User) != 6 {
		t.Fatalf("expected 6 char user, got %q", creds.User)
	}
	if len(creds.Token) != 20 {
		t.Fatalf("expected 20 char token, got %q", creds.Token)
	}
	for _, r := range creds.User + creds.Token {
		if !strings.ContainsRune(alphanumeric, r) {
			t.Fatalf("unexpected character %q in credentials", r)
		}
	}
}

func TestNewRoomIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := NewRoomID()
		if id == "" {
			t.Fatal("empty room id")
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate room id %q", id)
		}
		seen[id] = struct{}{}
	}
}
