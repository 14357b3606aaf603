package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/danmakubot/danmaku-bridge/internal/conf"
	"github.com/danmakubot/danmaku-bridge/internal/mcp"
)

const version = "v1.0.0"

// danmaku-mcp serves the danmaku tools over MCP stdio and relays every call
// to the bridge's admin API at BRIDGE_API_URL.
func main() {
	_ = godotenv.Load()

	cfg := conf.LoadFromEnv()

	// zap writes to stderr, stdout belongs to the MCP transport
	logger, err := conf.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := mcp.NewServer(mcp.NewHandler(mcp.NewClient(cfg.API.URL)), version)
	logger.Info("serving MCP over stdio", zap.String("bridge_api", cfg.API.URL))

	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("MCP server stopped", zap.Error(err))
	}
}
