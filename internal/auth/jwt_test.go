package auth

import (
	"testing"
	"time"
)

func testTokenConfig() TokenConfig {
	return TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
}

func TestCreateAndVerifyToken(t *testing.T) {
	cfg := testTokenConfig()

	tok, err := CreateToken("user-1", "ns-1", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	claims, err := VerifyToken(tok, cfg)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.UserID != "user-1" || claims.Namespace != "ns-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.TokenType != TokenTypeAccess {
		t.Fatalf("expected access token, got %q", claims.TokenType)
	}
}

func TestCreateTokenDefaultsNamespaceToUser(t *testing.T) {
	cfg := testTokenConfig()

	tok, err := CreateToken("user-1", "", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	claims, err := VerifyToken(tok, cfg)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Namespace != "user-1" {
		t.Fatalf("expected namespace user-1, got %q", claims.Namespace)
	}
}

func TestCreateTokenValidation(t *testing.T) {
	if _, err := CreateToken("", "", testTokenConfig()); err == nil {
		t.Fatalf("expected error for missing userID")
	}
	if _, err := CreateToken("user-1", "", TokenConfig{Secret: "", Expiry: time.Hour}); err == nil {
		t.Fatalf("expected error for missing secret")
	}
	if _, err := CreateToken("user-1", "", TokenConfig{Secret: "s", Expiry: 0}); err == nil {
		t.Fatalf("expected error for zero expiry")
	}
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	tok, err := CreateToken("user-1", "", testTokenConfig())
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if _, err := VerifyToken(tok, TokenConfig{Secret: "other", Expiry: time.Hour}); err == nil {
		t.Fatalf("wrong secret accepted")
	}
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: -time.Minute, Issuer: "test"}
	tok, err := CreateToken("user-1", "", TokenConfig{Secret: "secret", Expiry: time.Nanosecond, Issuer: "test"})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := VerifyToken(tok, cfg); err == nil {
		t.Fatalf("expired token accepted")
	}
}
