package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"agent-hub/internal/auth"
	"agent-hub/internal/config"
	"agent-hub/internal/handler"
	"agent-hub/internal/hub"
	"agent-hub/internal/rpc"
	"agent-hub/internal/server"
	"agent-hub/internal/store"
	syncengine "agent-hub/internal/sync"
	"agent-hub/internal/terminal"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	gin.SetMode(cfg.GinMode)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	wsHub := hub.New()
	engine := syncengine.New(st, wsHub)
	rpcRegistry := rpc.NewRegistry()

	terminals := terminal.NewRegistry(cfg.TerminalIdleTimeout, func(en terminal.Entry) {
		payload, err := json.Marshal(map[string]any{
			"type": "terminal-closed",
			"body": map[string]any{"terminalId": en.TerminalID, "reason": "idle"},
		})
		if err != nil {
			return
		}
		for _, socketID := range []string{en.SocketID, en.CliSocketID} {
			if socketID != "" {
				wsHub.Publish(handler.SocketTopic(socketID), payload)
			}
		}
	})

	tokenCfg := auth.TokenConfig{
		Secret: cfg.MasterSecret,
		Expiry: cfg.TokenExpiry,
		Issuer: "agent-hub",
	}
	resolver := auth.NewResolver(st, cfg.CliApiToken, tokenCfg)

	router := server.NewRouter(server.Deps{
		Store:       st,
		Engine:      engine,
		Hub:         wsHub,
		Rpc:         rpcRegistry,
		Terminals:   terminals,
		Resolver:    resolver,
		TokenConfig: tokenCfg,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("listening on %s", fmt.Sprintf(":%d", cfg.Port))
	err = server.Run(ctx, cfg, router)
	engine.Stop()
	terminals.Stop()
	if err != nil {
		log.Fatal(err)
	}
}
