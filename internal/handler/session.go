package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"agent-hub/internal/middleware"
	"agent-hub/internal/model"
	"agent-hub/internal/store"
	syncengine "agent-hub/internal/sync"
)

type SessionHandler struct {
	Engine *syncengine.Engine
}

type createSessionBody struct {
	Tag        string  `json:"tag"`
	Metadata   string  `json:"metadata"`
	AgentState *string `json:"agentState"`
}

type sendMessageBody struct {
	Content string `json:"content"`
}

func sessionJSON(sess model.Session) gin.H {
	return gin.H{
		"id":                sess.ID,
		"tag":               sess.Tag,
		"seq":               sess.Seq,
		"createdAt":         sess.CreatedAt,
		"updatedAt":         sess.UpdatedAt,
		"metadata":          sess.Metadata,
		"metadataVersion":   sess.MetadataVersion,
		"agentState":        sess.AgentState,
		"agentStateVersion": sess.AgentStateVersion,
		"todos":             sess.Todos,
		"todosUpdatedAt":    sess.TodosUpdatedAt,
		"machineId":         sess.MachineID,
		"active":            sess.Active,
		"activeAt":          sess.ActiveAt,
	}
}

func (h *SessionHandler) GetOrCreate(c *gin.Context) {
	namespace, ok := middleware.NamespaceFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body createSessionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	sess, _, err := h.Engine.GetOrCreateSession(body.Tag, body.Metadata, body.AgentState, namespace)
	if err != nil {
		if errors.Is(err, store.ErrInvalidArgument) || errors.Is(err, store.ErrInvalidNamespace) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage failure"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": sessionJSON(sess)})
}

func (h *SessionHandler) List(c *gin.Context) {
	namespace, ok := middleware.NamespaceFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	sessions, err := h.Engine.GetSessions(namespace)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage failure"})
		return
	}
	resp := make([]gin.H, 0, len(sessions))
	for _, sess := range sessions {
		resp = append(resp, sessionJSON(sess))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": resp})
}

func (h *SessionHandler) Get(c *gin.Context) {
	namespace, ok := middleware.NamespaceFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	sess, found, err := h.Engine.GetSession(c.Param("id"), namespace)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage failure"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sessionJSON(sess)})
}

// Delete refuses active sessions with a conflict status distinct from both
// not-found and forbidden; retrying a completed delete reports not-found.
func (h *SessionHandler) Delete(c *gin.Context) {
	namespace, ok := middleware.NamespaceFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	sessionID := c.Param("id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session id"})
		return
	}

	status, err := h.Engine.DeleteSession(sessionID, namespace)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage failure"})
		return
	}
	switch status {
	case syncengine.StatusActiveConflict:
		c.JSON(http.StatusConflict, gin.H{"error": "Session is active"})
	case syncengine.StatusNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func (h *SessionHandler) SendMessage(c *gin.Context) {
	namespace, ok := middleware.NamespaceFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body sendMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	msg, err := h.Engine.SendMessage(c.Param("id"), namespace, body.Content)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage failure"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": gin.H{
		"id":        msg.ID,
		"seq":       msg.Seq,
		"content":   msg.Content,
		"createdAt": msg.CreatedAt,
	}})
}

// Messages serves catch-up reads after a reconnect: afterSeq is required,
// limit is clamped to 1..200 with 200 the default.
func (h *SessionHandler) Messages(c *gin.Context) {
	namespace, ok := middleware.NamespaceFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	afterRaw := c.Query("afterSeq")
	if afterRaw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing afterSeq"})
		return
	}
	afterSeq, err := strconv.ParseInt(afterRaw, 10, 64)
	if err != nil || afterSeq < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid afterSeq"})
		return
	}

	limit := store.DefaultMessageLimit
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = v
	}

	result := h.Engine.FetchMessages(c.Param("id"), namespace, afterSeq, limit)
	if !result.OK {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	resp := make([]gin.H, 0, len(result.Messages))
	for _, m := range result.Messages {
		resp = append(resp, gin.H{
			"id":        m.ID,
			"seq":       m.Seq,
			"createdAt": m.CreatedAt,
			"content":   m.Content,
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": resp})
}
