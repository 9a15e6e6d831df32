package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"agent-hub/internal/middleware"
	"agent-hub/internal/store"
)

type TokenHandler struct {
	Store *store.Store
}

type createTokenBody struct {
	Name *string `json:"name"`
}

// Create mints a CLI token for the authenticated user. The plaintext is in
// the response exactly once; afterwards only the hash exists.
func (h *TokenHandler) Create(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body createTokenBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	tok, plaintext, err := h.Store.GenerateCliToken(userID, body.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": gin.H{
		"id":        tok.ID,
		"name":      tok.Name,
		"createdAt": tok.CreatedAt,
		"value":     plaintext,
	}})
}

func (h *TokenHandler) List(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	tokens, err := h.Store.GetCliTokens(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage failure"})
		return
	}

	resp := make([]gin.H, 0, len(tokens))
	for _, tok := range tokens {
		resp = append(resp, gin.H{
			"id":        tok.ID,
			"name":      tok.Name,
			"createdAt": tok.CreatedAt,
			"revoked":   tok.Revoked,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tokens": resp})
}

func (h *TokenHandler) Revoke(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	revoked, err := h.Store.RevokeCliToken(c.Param("id"), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage failure"})
		return
	}
	if !revoked {
		c.JSON(http.StatusNotFound, gin.H{"error": "Token not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
