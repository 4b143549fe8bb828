package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/warden/internal/agent"
	"github.com/nidhogg/warden/internal/alerting"
	"github.com/nidhogg/warden/internal/api"
	"github.com/nidhogg/warden/internal/audit"
	"github.com/nidhogg/warden/internal/bus"
	"github.com/nidhogg/warden/internal/compliance"
	"github.com/nidhogg/warden/internal/config"
	"github.com/nidhogg/warden/internal/executor"
	"github.com/nidhogg/warden/internal/generate"
	"github.com/nidhogg/warden/internal/guard"
	"github.com/nidhogg/warden/internal/llm"
	"github.com/nidhogg/warden/internal/orchestrator"
	"github.com/nidhogg/warden/internal/router"
	pgstore "github.com/nidhogg/warden/internal/store"
	"github.com/nidhogg/warden/internal/tool"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Warden...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/warden.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize LLM client chain
	chain := llm.NewChain(logger)
	for _, pc := range cfg.Providers {
		clientCfg := llm.ClientConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey, Model: pc.Model,
		}
		switch pc.Type {
		case "openai":
			chain.Register(llm.NewOpenAIClient(clientCfg, logger))
		case "anthropic":
			chain.Register(llm.NewAnthropicClient(clientCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}

	// Initialize PostgreSQL store
	var store *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			store = ps
		}
	}

	// Audit sink: async over Postgres when available, otherwise log-only
	var sink audit.Sink
	var asyncSink *audit.AsyncSink
	if store != nil {
		asyncSink = audit.NewAsyncSink(audit.NewPostgresSink(store.Pool()), 1024, logger)
		sink = asyncSink
	} else {
		sink = audit.NewLogSink(logger)
	}

	// Alerting dispatcher
	alerts := alerting.NewDispatcher(logger)
	alerts.Register(alerting.NewLogNotifier(logger))
	if cfg.Alerting.Slack.Enabled && cfg.Alerting.Slack.BotToken != "" {
		alerts.Register(alerting.NewSlackNotifier(cfg.Alerting.Slack.BotToken, cfg.Alerting.Slack.ChannelID, logger))
	}
	var discordNotifier *alerting.DiscordNotifier
	if cfg.Alerting.Discord.Enabled && cfg.Alerting.Discord.BotToken != "" {
		dn, dErr := alerting.NewDiscordNotifier(cfg.Alerting.Discord.BotToken, cfg.Alerting.Discord.ChannelID, logger)
		if dErr != nil {
			logger.Warn("Discord notifier unavailable", zap.Error(dErr))
		} else {
			discordNotifier = dn
			alerts.Register(dn)
		}
	}

	// Compliance evaluator: LLM-backed when a provider exists
	var evaluator compliance.Evaluator
	if chain.Len() > 0 {
		evaluator = compliance.NewLLMEvaluator(chain, "", logger)
	} else {
		logger.Warn("no LLM providers configured, using rule-based compliance evaluator")
		evaluator = compliance.NewRuleEvaluator(nil, logger)
	}

	// Content generator for the policy drafting tool
	var gen generate.ContentGenerator
	if chain.Len() > 0 {
		gen = generate.NewLLMGenerator(chain, "", logger)
	}

	// Tool registry with builtin tools, frozen after wiring
	registry := tool.NewRegistry(logger)
	if err := tool.RegisterBuiltinTools(registry, gen, evaluator); err != nil {
		logger.Fatal("tool registration failed", zap.Error(err))
	}
	registry.Freeze()

	// Safety pipeline
	memCeiling := cfg.Executor.MemoryCeilingMB
	if memCeiling <= 0 {
		memCeiling = guard.DefaultMemoryCeilingMB
	}
	cpuCeiling := cfg.Executor.CPUCeilingPercent
	if cpuCeiling <= 0 {
		cpuCeiling = guard.DefaultCPUCeilingPercent
	}
	threshold := cfg.Executor.BreakerThreshold
	if threshold <= 0 {
		threshold = guard.DefaultFailureThreshold
	}
	cooldown := guard.DefaultCooldown
	if cfg.Executor.BreakerCooldownS > 0 {
		cooldown = time.Duration(cfg.Executor.BreakerCooldownS) * time.Second
	}
	exec := executor.New(
		guard.NewRateLimiter(),
		guard.NewCircuitBreaker(threshold, cooldown),
		guard.NewResourceLedger(memCeiling, cpuCeiling),
		nil,
		sink,
		alerts,
		logger,
	)
	toolRouter := router.New(registry, exec, logger)

	// Inter-agent message bus: Redis when available, in-process otherwise
	var messageBus bus.Bus
	if cfg.Database.Redis.URL != "" {
		rb, busErr := bus.NewRedisBus(cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, using in-process message bus", zap.Error(busErr))
			messageBus = bus.NewMemoryBus(64, logger)
		} else {
			messageBus = rb
		}
	} else {
		messageBus = bus.NewMemoryBus(64, logger)
	}

	// Orchestrator
	var workflowStore orchestrator.WorkflowStore
	if store != nil {
		workflowStore = store
	}
	orch := orchestrator.New(toolRouter, evaluator, messageBus, alerts, sink, workflowStore, logger)
	orch.SetAgentDefaults(agent.Config{
		MaxMemoryMB:        cfg.Agents.MaxMemoryMB,
		MaxCPUPercent:      cfg.Agents.MaxCPUPercent,
		MaxConcurrentTasks: cfg.Agents.MaxConcurrentTasks,
		QueueCapacity:      cfg.Agents.QueueCapacity,
	})

	// Build HTTP handler
	handler := api.NewHandler(orch, toolRouter, cfg.ConstitutionHash, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Warden listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Warden...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	orch.Shutdown()
	messageBus.Close()
	if asyncSink != nil {
		asyncSink.Close()
	}
	if discordNotifier != nil {
		discordNotifier.Close()
	}
	if store != nil {
		store.Close()
	}
}
