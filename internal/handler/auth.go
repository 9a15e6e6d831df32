package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"agent-hub/internal/auth"
	"agent-hub/internal/middleware"
	"agent-hub/internal/store"
)

type AuthHandler struct {
	Store              *store.Store
	TokenConfig        auth.TokenConfig
	AuthRequestLimiter *middleware.RateLimiter
}

type challengeBody struct {
	PublicKey string `json:"publicKey"`
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
}

type pairRequestBody struct {
	PublicKey  string `json:"publicKey"`
	SupportsV2 bool   `json:"supportsV2"`
}

type pairResponseBody struct {
	PublicKey string `json:"publicKey"`
	Response  string `json:"response"`
}

// Auth exchanges a signed challenge for an access token. The public key is
// the account identity; first sight creates the account with its own id as
// namespace.
func (h *AuthHandler) Auth(c *gin.Context) {
	var body challengeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := auth.VerifyChallenge(body.PublicKey, body.Challenge, body.Signature); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	token, err := h.issueToken(body.PublicKey, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}

// issueToken resolves the public key to an account (creating one on first
// sight) and signs a token for it. An empty namespace binds the token to
// the account's own namespace.
func (h *AuthHandler) issueToken(publicKey, namespace string) (string, error) {
	user, _, err := h.Store.GetOrCreateUser(publicKey)
	if err != nil {
		return "", err
	}
	return auth.CreateToken(user.ID, namespace, h.TokenConfig)
}

// Request is polled by an unauthenticated CLI waiting for a user to approve
// its pairing. Creation is rate-limited per client IP; polling an existing
// request is not.
func (h *AuthHandler) Request(c *gin.Context) {
	var body pairRequestBody
	if err := c.ShouldBindJSON(&body); err != nil || body.PublicKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	_, exists := h.Store.GetAuthRequest(body.PublicKey)
	if !exists && h.AuthRequestLimiter != nil && !h.AuthRequestLimiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
		return
	}

	req := h.Store.UpsertAuthRequest(body.PublicKey, body.SupportsV2, time.Now().UnixMilli())
	out := gin.H{"state": "requested", "supportsV2": req.SupportsV2}
	if req.Token != "" {
		out["state"] = "authorized"
		out["token"] = req.Token
		out["response"] = req.Response
	}
	c.JSON(http.StatusOK, out)
}

// Response is issued by an already-authenticated client approving a pending
// pairing request. The paired CLI inherits the approver's namespace.
func (h *AuthHandler) Response(c *gin.Context) {
	var body pairResponseBody
	if err := c.ShouldBindJSON(&body); err != nil || body.PublicKey == "" || body.Response == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	userID, uok := middleware.UserIDFromContext(c)
	namespace, nok := middleware.NamespaceFromContext(c)
	if !uok || !nok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	token, err := h.issueToken(body.PublicKey, namespace)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}

	now := time.Now().UnixMilli()
	if _, ok := h.Store.AuthorizeAuthRequest(body.PublicKey, body.Response, userID, token, now); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Request not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RequestStatus is the lightweight poll variant: it never creates a request
// and reports only the pairing state, never the token.
func (h *AuthHandler) RequestStatus(c *gin.Context) {
	publicKey := c.Query("publicKey")
	if publicKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid public key"})
		return
	}

	req, ok := h.Store.GetAuthRequest(publicKey)
	switch {
	case !ok:
		c.JSON(http.StatusOK, gin.H{"status": "not_found"})
	case req.Token == "":
		c.JSON(http.StatusOK, gin.H{"status": "pending", "supportsV2": req.SupportsV2})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "authorized", "supportsV2": req.SupportsV2})
	}
}
