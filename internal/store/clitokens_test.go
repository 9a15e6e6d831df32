package store

import (
	"strings"
	"testing"
)

func testUser(t *testing.T, s *Store, username string) string {
	t.Helper()
	user, _, err := s.GetOrCreateUser(username)
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	return user.ID
}

func TestGenerateAndValidateCliToken(t *testing.T) {
	s := openTestStore(t)
	userID := testUser(t, s, "alice")

	name := "laptop"
	tok, plaintext, err := s.GenerateCliToken(userID, &name)
	if err != nil {
		t.Fatalf("GenerateCliToken: %v", err)
	}
	if !strings.HasPrefix(plaintext, "cli_") {
		t.Fatalf("unexpected token format: %q", plaintext)
	}
	if tok.TokenHash == plaintext {
		t.Fatalf("plaintext stored as hash")
	}

	gotUser, ok, err := s.ValidateCliToken(plaintext)
	if err != nil || !ok {
		t.Fatalf("ValidateCliToken: ok=%v err=%v", ok, err)
	}
	if gotUser != userID {
		t.Fatalf("token resolved to %q, want %q", gotUser, userID)
	}

	if _, ok, err := s.ValidateCliToken("cli_bogus"); err != nil || ok {
		t.Fatalf("bogus token validated: ok=%v err=%v", ok, err)
	}
}

func TestRevokeCliToken(t *testing.T) {
	s := openTestStore(t)
	userID := testUser(t, s, "alice")
	otherID := testUser(t, s, "bob")

	tok, plaintext, err := s.GenerateCliToken(userID, nil)
	if err != nil {
		t.Fatalf("GenerateCliToken: %v", err)
	}

	// Another user cannot revoke it.
	if ok, err := s.RevokeCliToken(tok.ID, otherID); err != nil || ok {
		t.Fatalf("foreign revoke: ok=%v err=%v", ok, err)
	}

	ok, err := s.RevokeCliToken(tok.ID, userID)
	if err != nil || !ok {
		t.Fatalf("RevokeCliToken: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := s.ValidateCliToken(plaintext); ok {
		t.Fatalf("revoked token still validates")
	}
	// Revoking twice reports not found.
	if ok, _ := s.RevokeCliToken(tok.ID, userID); ok {
		t.Fatalf("second revoke reported success")
	}
}

func TestGetCliTokens(t *testing.T) {
	s := openTestStore(t)
	userID := testUser(t, s, "alice")

	if _, _, err := s.GenerateCliToken(userID, nil); err != nil {
		t.Fatalf("GenerateCliToken: %v", err)
	}
	if _, _, err := s.GenerateCliToken(userID, nil); err != nil {
		t.Fatalf("GenerateCliToken: %v", err)
	}

	tokens, err := s.GetCliTokens(userID)
	if err != nil {
		t.Fatalf("GetCliTokens: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
}
