package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/danmakubot/danmaku-bridge/internal/api"
	"github.com/danmakubot/danmaku-bridge/internal/biz/usecase"
	"github.com/danmakubot/danmaku-bridge/internal/conf"
	"github.com/danmakubot/danmaku-bridge/internal/data"
	"github.com/danmakubot/danmaku-bridge/internal/infra/danmaku"
	"github.com/danmakubot/danmaku-bridge/internal/infra/feishu"
	"github.com/danmakubot/danmaku-bridge/internal/server"
	"github.com/danmakubot/danmaku-bridge/internal/service"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := conf.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := conf.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("bridge stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *conf.Config, logger *zap.Logger) error {
	// Initialize repository layer
	repos, err := data.NewRepositories(cfg.DataDir, cfg.NATSURL, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := repos.Close(); err != nil {
			logger.Warn("failed to close repositories", zap.Error(err))
		}
	}()
	logger.Info("data directory ready", zap.String("path", cfg.DataDir), zap.Bool("nats", repos.Publisher != nil))

	// Initialize usecase layer
	ruleUC, err := usecase.NewRuleUsecase(ctx, repos.Rule, logger)
	if err != nil {
		return err
	}
	if err := seedRules(ctx, ruleUC, cfg.Filter.RulesPath, logger); err != nil {
		return err
	}

	filterUC, err := usecase.NewFilterUsecase(ruleUC, repos.Audit, repos.Publisher, cfg.Filter.ToFilterConfig(), logger)
	if err != nil {
		return err
	}
	queueUC, err := usecase.NewQueueUsecase(ctx, filterUC, repos.Queue, cfg.Queue.ToQueueConfig(), logger)
	if err != nil {
		return err
	}

	// Overlay client
	danmakuClient := danmaku.NewClient(cfg.Danmaku.BaseURL, cfg.Danmaku.APIKey, cfg.Danmaku.RPS, cfg.Danmaku.Timeout)
	overlay := data.NewDanmakuSink(danmakuClient)

	// Initialize service layer
	processor := service.NewQueueProcessor(queueUC, cfg.Queue.CleanupInterval, logger)
	svc := service.NewDanmakuService(ctx, queueUC, filterUC, ruleUC, processor, overlay, overlay, cfg.Queue.Interval, logger)
	if err := svc.StartProcessor(); err != nil {
		return err
	}

	// HTTP API server for danmaku-mcp and scripts
	apiServer := api.NewServer(svc, cfg.API.Port, logger)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server error", zap.Error(err))
		}
	}()

	// Chat front end
	feishuClient := feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, logger)
	srv := server.NewFeishuServer(feishuClient, svc, cfg.Feishu.AdminIDs, logger)
	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error("feishu server error", zap.Error(err))
		}
	}()

	logger.Info("danmaku bridge started",
		zap.Int("api_port", cfg.API.Port),
		zap.String("overlay", cfg.Danmaku.BaseURL),
		zap.Int("admins", len(cfg.Feishu.AdminIDs)))

	<-ctx.Done()
	logger.Info("shutting down")

	srv.Stop()
	if err := svc.StopProcessor(); err != nil && !errors.Is(err, service.ErrNotRunning) {
		logger.Warn("failed to stop processor", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Warn("failed to stop API server", zap.Error(err))
	}
	return nil
}

// seedRules writes the default rule set into an empty rule store
func seedRules(ctx context.Context, ruleUC *usecase.RuleUsecase, rulesPath string, logger *zap.Logger) error {
	set, err := conf.LoadDefaultRules(rulesPath, logger)
	if err != nil {
		return err
	}

	seeded, err := ruleUC.SeedDefaults(ctx, set.Rules)
	if err != nil {
		return err
	}
	if seeded == 0 {
		return nil
	}

	for _, word := range set.SensitiveWords {
		if err := ruleUC.AddSensitiveWord(ctx, word, "default", 1); err != nil {
			return err
		}
	}
	logger.Info("seeded default rules", zap.Int("rules", seeded), zap.Int("words", len(set.SensitiveWords)))
	return nil
}
