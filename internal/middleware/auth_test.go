package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"agent-hub/internal/auth"
	"agent-hub/internal/model"
)

type stubDirectory struct{}

func (stubDirectory) ValidateCliToken(token string) (string, bool, error) {
	if token == "cli_valid" {
		return "user-1", true, nil
	}
	return "", false, nil
}

func (stubDirectory) GetUserByID(id string) (model.User, bool, error) {
	if id == "user-1" {
		return model.User{ID: "user-1", Username: "alice"}, true, nil
	}
	return model.User{}, false, nil
}

func (stubDirectory) GetUserByUsername(username string) (model.User, bool, error) {
	if username == "cli" {
		return model.User{ID: "cli-user", Username: "cli"}, true, nil
	}
	return model.User{}, false, nil
}

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	resolver := auth.NewResolver(stubDirectory{}, "", cfg)

	r := gin.New()
	r.GET("/protected", RequireAuth(resolver), func(c *gin.Context) {
		userID, _ := UserIDFromContext(c)
		namespace, _ := NamespaceFromContext(c)
		c.JSON(200, gin.H{"userID": userID, "namespace": namespace})
	})
	return r
}

func TestRequireAuthRejectsMissingAndInvalid(t *testing.T) {
	r := testRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing credential: %d", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer cli_bogus")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("invalid credential: %d", w.Code)
	}
}

func TestRequireAuthAcceptsBearerHeader(t *testing.T) {
	r := testRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer cli_valid")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRequireAuthAcceptsQueryToken(t *testing.T) {
	r := testRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected?token=cli_valid", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}
