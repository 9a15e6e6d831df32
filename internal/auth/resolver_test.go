package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"agent-hub/internal/model"
)

type fakeDirectory struct {
	tokens map[string]string // plaintext -> userID
	users  map[string]model.User
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		tokens: make(map[string]string),
		users:  make(map[string]model.User),
	}
}

func (d *fakeDirectory) ValidateCliToken(token string) (string, bool, error) {
	userID, ok := d.tokens[token]
	return userID, ok, nil
}

func (d *fakeDirectory) GetUserByID(id string) (model.User, bool, error) {
	for _, u := range d.users {
		if u.ID == id {
			return u, true, nil
		}
	}
	return model.User{}, false, nil
}

func (d *fakeDirectory) GetUserByUsername(username string) (model.User, bool, error) {
	u, ok := d.users[username]
	return u, ok, nil
}

func refreshToken(t *testing.T, cfg TokenConfig) string {
	t.Helper()
	claims := Claims{
		UserID:    "user-1",
		Namespace: "user-1",
		TokenType: TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		t.Fatalf("sign refresh token: %v", err)
	}
	return signed
}

func TestResolveCliToken(t *testing.T) {
	dir := newFakeDirectory()
	dir.tokens["cli_valid"] = "user-1"
	dir.users["alice"] = model.User{ID: "user-1", Username: "alice"}
	r := NewResolver(dir, "", testTokenConfig())

	resolved, err := r.Resolve("cli_valid")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.UserID != "user-1" || resolved.Namespace != "user-1" {
		t.Fatalf("unexpected resolution: %+v", resolved)
	}

	// A recognized but invalid CLI token is rejected, not passed to later
	// strategies.
	if _, err := r.Resolve("cli_wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestResolveSharedToken(t *testing.T) {
	dir := newFakeDirectory()
	dir.users["cli"] = model.User{ID: "cli-user", Username: "cli"}
	dir.users["alice"] = model.User{ID: "ns-1", Username: "alice"}
	r := NewResolver(dir, "shared-secret", testTokenConfig())

	// Namespace with a persisted user resolves to that user.
	resolved, err := r.Resolve("shared-secret:ns-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.UserID != "ns-1" || resolved.Namespace != "ns-1" {
		t.Fatalf("unexpected resolution: %+v", resolved)
	}

	// A fresh namespace with no account is owned by the default cli user.
	resolved, err = r.Resolve("shared-secret:project-x")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.UserID != "cli-user" || resolved.Namespace != "project-x" {
		t.Fatalf("unexpected bridge: %+v", resolved)
	}

	if _, err := r.Resolve("wrong-secret:ns-1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong base token accepted: %v", err)
	}
}

func TestResolveSharedTokenDisabledWhenUnset(t *testing.T) {
	dir := newFakeDirectory()
	r := NewResolver(dir, "", testTokenConfig())

	if _, err := r.Resolve("anything:ns-1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("shared strategy ran without a configured token: %v", err)
	}
}

func TestResolveSessionToken(t *testing.T) {
	dir := newFakeDirectory()
	cfg := testTokenConfig()
	r := NewResolver(dir, "", cfg)

	tok, err := CreateToken("user-1", "ns-1", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	resolved, err := r.Resolve(tok)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.UserID != "user-1" || resolved.Namespace != "ns-1" {
		t.Fatalf("unexpected resolution: %+v", resolved)
	}

	if _, err := r.Resolve("garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("garbage credential accepted: %v", err)
	}
}

func TestResolveRejectsRefreshToken(t *testing.T) {
	dir := newFakeDirectory()
	cfg := testTokenConfig()
	r := NewResolver(dir, "", cfg)

	if _, err := r.Resolve(refreshToken(t, cfg)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("refresh token accepted: %v", err)
	}
}

func TestResolveEmptyCredential(t *testing.T) {
	r := NewResolver(newFakeDirectory(), "", testTokenConfig())

	if _, err := r.Resolve(""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("empty credential accepted: %v", err)
	}
	if _, err := r.Resolve("   "); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("whitespace credential accepted: %v", err)
	}
}

func TestResolveStrategyPriority(t *testing.T) {
	// A credential with the cli_ prefix belongs to the CLI strategy even
	// when it also parses under the shared-token shape.
	dir := newFakeDirectory()
	dir.tokens["cli_tok:ns"] = "user-1"
	dir.users["alice"] = model.User{ID: "user-1", Username: "alice"}
	r := NewResolver(dir, "cli_tok", testTokenConfig())

	resolved, err := r.Resolve("cli_tok:ns")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.UserID != "user-1" || resolved.Namespace != "user-1" {
		t.Fatalf("wrong strategy won: %+v", resolved)
	}
}
