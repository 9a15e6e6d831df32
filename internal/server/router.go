package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"agent-hub/internal/auth"
	"agent-hub/internal/handler"
	"agent-hub/internal/hub"
	"agent-hub/internal/middleware"
	"agent-hub/internal/rpc"
	"agent-hub/internal/store"
	syncengine "agent-hub/internal/sync"
	"agent-hub/internal/terminal"
)

type Deps struct {
	Store       *store.Store
	Engine      *syncengine.Engine
	Hub         *hub.Hub
	Rpc         *rpc.Registry
	Terminals   *terminal.Registry
	Resolver    *auth.Resolver
	TokenConfig auth.TokenConfig
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	authRequestLimiter := middleware.NewRateLimiter(10, time.Minute)
	authHandler := &handler.AuthHandler{Store: deps.Store, TokenConfig: deps.TokenConfig, AuthRequestLimiter: authRequestLimiter}

	// Bootstrap routes: everything else requires a resolved namespace.
	r.POST("/v1/auth", authHandler.Auth)
	r.POST("/v1/auth/request", authHandler.Request)
	r.GET("/v1/auth/request/status", authHandler.RequestStatus)

	protected := r.Group("/v1")
	protected.Use(middleware.RequireAuth(deps.Resolver))
	protected.POST("/auth/response", authHandler.Response)

	sessionHandler := &handler.SessionHandler{Engine: deps.Engine}
	protected.GET("/sessions", sessionHandler.List)
	protected.POST("/sessions", sessionHandler.GetOrCreate)
	protected.GET("/sessions/:id", sessionHandler.Get)
	protected.DELETE("/sessions/:id", sessionHandler.Delete)
	protected.POST("/sessions/:id/messages", sessionHandler.SendMessage)
	protected.GET("/sessions/:id/messages", sessionHandler.Messages)

	machineHandler := &handler.MachineHandler{Engine: deps.Engine}
	protected.GET("/machines", machineHandler.List)
	protected.POST("/machines", machineHandler.GetOrCreate)
	protected.GET("/machines/:id", machineHandler.Get)

	tokenHandler := &handler.TokenHandler{Store: deps.Store}
	protected.POST("/tokens", tokenHandler.Create)
	protected.GET("/tokens", tokenHandler.List)
	protected.DELETE("/tokens/:id", tokenHandler.Revoke)

	hookHandler := &handler.HookHandler{Engine: deps.Engine, Terminals: deps.Terminals}
	protected.POST("/hooks/terminal", hookHandler.Terminal)

	wsHandler := &handler.WebSocketHandler{
		Hub:       deps.Hub,
		Engine:    deps.Engine,
		Rpc:       deps.Rpc,
		Terminals: deps.Terminals,
	}
	r.GET("/ws", middleware.RequireAuth(deps.Resolver), wsHandler.Serve)

	return r
}
