package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"agent-hub/internal/middleware"
	syncengine "agent-hub/internal/sync"
	"agent-hub/internal/terminal"
)

// HookHandler ingests terminal lifecycle events posted by CLI-side wrapper
// processes. The three failure categories stay distinguishable to callers:
// 401 for a missing or invalid token (the auth middleware), 400 for a body
// that is not JSON, and 422 for JSON missing the required event field.
type HookHandler struct {
	Engine    *syncengine.Engine
	Terminals *terminal.Registry
}

type hookBody struct {
	Event      string `json:"event"`
	TerminalID string `json:"terminalId"`
	SessionID  string `json:"sessionId"`
}

func (h *HookHandler) Terminal(c *gin.Context) {
	namespace, ok := middleware.NamespaceFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	var body hookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	if body.Event == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Missing event"})
		return
	}

	switch body.Event {
	case "activity":
		if h.terminalOwned(body.TerminalID, namespace) {
			h.Terminals.MarkActivity(body.TerminalID)
		}
	case "closed":
		if h.terminalOwned(body.TerminalID, namespace) {
			h.Terminals.Remove(body.TerminalID)
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// terminalOwned confirms the terminal's backing session belongs to the
// caller's namespace; foreign and unknown terminals are silently skipped.
func (h *HookHandler) terminalOwned(terminalID, namespace string) bool {
	if terminalID == "" {
		return false
	}
	en, ok := h.Terminals.Get(terminalID)
	if !ok {
		return false
	}
	_, ok, err := h.Engine.GetSession(en.SessionID, namespace)
	return err == nil && ok
}
