package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"agent-hub/internal/hub"
	"agent-hub/internal/middleware"
	"agent-hub/internal/rpc"
	syncengine "agent-hub/internal/sync"
	"agent-hub/internal/terminal"
)

// WebSocketHandler is the realtime transport. Each connection joins its
// namespace topic (all session and machine updates fan out there) plus a
// private socket topic used for targeted delivery: rpc-call routing and
// terminal byte relays.
type WebSocketHandler struct {
	Hub       *hub.Hub
	Engine    *syncengine.Engine
	Rpc       *rpc.Registry
	Terminals *terminal.Registry
}

type clientMessage struct {
	Type       string          `json:"type"`
	SID        string          `json:"sid,omitempty"`
	MachineID  string          `json:"machineId,omitempty"`
	Message    string          `json:"message,omitempty"`
	Method     string          `json:"method,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
	CallID     string          `json:"callId,omitempty"`
	TerminalID string          `json:"terminalId,omitempty"`
	Data       string          `json:"data,omitempty"`

	ExpectedVersion int     `json:"expectedVersion,omitempty"`
	Metadata        string  `json:"metadata,omitempty"`
	AgentState      *string `json:"agentState,omitempty"`
	DaemonState     *string `json:"daemonState,omitempty"`
	Todos           *string `json:"todos,omitempty"`
}

type serverMessage struct {
	Type  string      `json:"type"`
	Event string      `json:"event,omitempty"`
	Body  interface{} `json:"body,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

// SocketTopic is the private topic for one connection. Targeted messages
// (rpc calls, terminal bytes) publish here instead of a shared room.
func SocketTopic(socketID string) string { return "socket:" + socketID }

func (h *WebSocketHandler) Serve(c *gin.Context) {
	namespace, ok := middleware.NamespaceFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	conn := hub.NewConnection(uuid.NewString(), &wsWriter{conn: ws})
	h.Hub.Subscribe(conn, syncengine.NamespaceTopic(namespace))
	h.Hub.Subscribe(conn, SocketTopic(conn.ID))
	defer func() {
		h.cleanup(conn.ID)
		h.Hub.Drop(conn)
		_ = ws.Close()
	}()

	ws.SetReadLimit(1024 * 1024)
	const pongWait = 60 * time.Second
	const writeWait = 10 * time.Second
	pingPeriod := (pongWait * 9) / 10

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() {
		closeOnce.Do(func() {
			close(done)
		})
	}
	defer closeDone()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(writeWait)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		h.handle(conn, namespace, msg)
	}
}

func (h *WebSocketHandler) handle(conn *hub.Connection, namespace string, msg clientMessage) {
	switch msg.Type {
	case "ping":
		h.reply(conn, serverMessage{Type: "pong"})

	case "message":
		if msg.SID == "" || msg.Message == "" {
			return
		}
		// Fan-out happens inside the engine; nothing to broadcast here.
		_, _ = h.Engine.SendMessage(msg.SID, namespace, msg.Message)

	case "session-alive":
		if msg.SID == "" {
			return
		}
		_, _ = h.Engine.SetSessionActive(msg.SID, namespace, true, time.Now().UnixMilli())
		h.Hub.Subscribe(conn, syncengine.SessionTopic(msg.SID))

	case "session-end":
		if msg.SID == "" {
			return
		}
		_, _ = h.Engine.SetSessionActive(msg.SID, namespace, false, time.Now().UnixMilli())

	case "machine-alive":
		if msg.MachineID == "" {
			return
		}
		_, _ = h.Engine.SetMachineActive(msg.MachineID, namespace, true, time.Now().UnixMilli())

	case "update-metadata":
		if msg.SID == "" {
			return
		}
		status, version, value, _ := h.Engine.UpdateSessionMetadata(msg.SID, namespace, msg.ExpectedVersion, msg.Metadata)
		h.reply(conn, serverMessage{Type: "update-result", Body: gin.H{
			"sid":     msg.SID,
			"result":  status,
			"version": version,
			"value":   value,
		}})

	case "update-state":
		if msg.SID == "" {
			return
		}
		status, version, value, _ := h.Engine.UpdateSessionAgentState(msg.SID, namespace, msg.ExpectedVersion, msg.AgentState)
		h.reply(conn, serverMessage{Type: "update-result", Body: gin.H{
			"sid":     msg.SID,
			"result":  status,
			"version": version,
			"value":   value,
		}})

	case "update-todos":
		if msg.SID == "" {
			return
		}
		_, _ = h.Engine.UpdateSessionTodos(msg.SID, namespace, msg.Todos)

	case "machine-update-metadata":
		if msg.MachineID == "" {
			return
		}
		status, version, value, _ := h.Engine.UpdateMachineMetadata(msg.MachineID, namespace, msg.ExpectedVersion, msg.Metadata)
		h.reply(conn, serverMessage{Type: "update-result", Body: gin.H{
			"machineId": msg.MachineID,
			"result":    status,
			"version":   version,
			"value":     value,
		}})

	case "machine-update-state":
		if msg.MachineID == "" {
			return
		}
		status, version, value, _ := h.Engine.UpdateMachineDaemonState(msg.MachineID, namespace, msg.ExpectedVersion, msg.DaemonState)
		h.reply(conn, serverMessage{Type: "update-result", Body: gin.H{
			"machineId": msg.MachineID,
			"result":    status,
			"version":   version,
			"value":     value,
		}})

	case "rpc-register":
		h.Rpc.Register(msg.Method, conn.ID)

	case "rpc-unregister":
		h.Rpc.Unregister(msg.Method, conn.ID)

	case "rpc-call":
		if msg.Method == "" {
			return
		}
		target, ok := h.Rpc.SocketIDForMethod(msg.Method)
		if !ok {
			h.reply(conn, serverMessage{Type: "rpc-error", Body: gin.H{
				"callId": msg.CallID,
				"method": msg.Method,
				"error":  "not connected",
			}})
			return
		}
		h.forward(target, serverMessage{Type: "rpc-request", Body: gin.H{
			"callId":   msg.CallID,
			"method":   msg.Method,
			"params":   msg.Params,
			"socketId": conn.ID,
		}})

	case "terminal-open":
		if msg.TerminalID == "" || msg.SID == "" {
			return
		}
		if _, ok, err := h.Engine.GetSession(msg.SID, namespace); err != nil || !ok {
			h.reply(conn, serverMessage{Type: "terminal-error", Body: gin.H{
				"terminalId": msg.TerminalID,
				"error":      "not found",
			}})
			return
		}
		if _, ok := h.Terminals.Register(msg.TerminalID, msg.SID, conn.ID, ""); !ok {
			h.reply(conn, serverMessage{Type: "terminal-error", Body: gin.H{
				"terminalId": msg.TerminalID,
				"error":      "already open",
			}})
			return
		}
		h.reply(conn, serverMessage{Type: "terminal-opened", Body: gin.H{
			"terminalId": msg.TerminalID,
			"sid":        msg.SID,
		}})

	case "terminal-rebind":
		// The CLI side attaches (or re-attaches after reconnect) here; a
		// viewer reconnect uses the same event and moves the viewer binding.
		if msg.TerminalID == "" {
			return
		}
		if _, ok := h.ownedTerminal(msg.TerminalID, namespace); !ok {
			h.reply(conn, serverMessage{Type: "terminal-error", Body: gin.H{
				"terminalId": msg.TerminalID,
				"error":      "not found",
			}})
			return
		}
		viewer := ""
		cli := ""
		if msg.Data == "cli" {
			cli = conn.ID
		} else {
			viewer = conn.ID
		}
		if _, ok := h.Terminals.Rebind(msg.TerminalID, viewer, cli); !ok {
			h.reply(conn, serverMessage{Type: "terminal-error", Body: gin.H{
				"terminalId": msg.TerminalID,
				"error":      "not found",
			}})
		}

	case "terminal-input":
		if msg.TerminalID == "" {
			return
		}
		en, ok := h.ownedTerminal(msg.TerminalID, namespace)
		if !ok {
			h.reply(conn, serverMessage{Type: "terminal-error", Body: gin.H{
				"terminalId": msg.TerminalID,
				"error":      "not found",
			}})
			return
		}
		h.Terminals.MarkActivity(msg.TerminalID)
		target := en.CliSocketID
		if conn.ID == en.CliSocketID {
			target = en.SocketID
		}
		if target == "" {
			h.reply(conn, serverMessage{Type: "terminal-error", Body: gin.H{
				"terminalId": msg.TerminalID,
				"error":      "not connected",
			}})
			return
		}
		h.forward(target, serverMessage{Type: "terminal-data", Body: gin.H{
			"terminalId": msg.TerminalID,
			"data":       msg.Data,
		}})

	case "terminal-close":
		if msg.TerminalID == "" {
			return
		}
		if _, ok := h.ownedTerminal(msg.TerminalID, namespace); !ok {
			return
		}
		en, ok := h.Terminals.Remove(msg.TerminalID)
		if !ok {
			return
		}
		for _, target := range []string{en.SocketID, en.CliSocketID} {
			if target != "" && target != conn.ID {
				h.forward(target, serverMessage{Type: "terminal-closed", Body: gin.H{
					"terminalId": msg.TerminalID,
				}})
			}
		}
	}
}

// ownedTerminal loads a terminal entry and confirms the caller's namespace
// owns the session behind it. A terminal bound to a foreign session looks
// absent, the same way foreign reads do everywhere else.
func (h *WebSocketHandler) ownedTerminal(terminalID, namespace string) (terminal.Entry, bool) {
	en, ok := h.Terminals.Get(terminalID)
	if !ok {
		return terminal.Entry{}, false
	}
	if _, ok, err := h.Engine.GetSession(en.SessionID, namespace); err != nil || !ok {
		return terminal.Entry{}, false
	}
	return en, true
}

func (h *WebSocketHandler) reply(conn *hub.Connection, msg serverMessage) {
	out, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = conn.Writer.Write(out)
}

func (h *WebSocketHandler) forward(socketID string, msg serverMessage) {
	out, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.Hub.Publish(SocketTopic(socketID), out)
}

// cleanup runs on disconnect: rpc methods bound to this socket become
// unreachable, CLI-side terminal bridges die (their viewers are told), and
// viewer-side bridges detach with a grace window so the viewer can rebind.
func (h *WebSocketHandler) cleanup(socketID string) {
	h.Rpc.UnregisterSocket(socketID)

	for _, en := range h.Terminals.RemoveByCliSocket(socketID) {
		if en.SocketID != "" {
			h.forward(en.SocketID, serverMessage{Type: "terminal-closed", Body: gin.H{
				"terminalId": en.TerminalID,
			}})
		}
	}
	h.Terminals.DetachBySocket(socketID)
}
