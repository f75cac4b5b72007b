package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/louisjham/hexstrike-ai/internal/adapters/duckdb"
	"github.com/louisjham/hexstrike-ai/internal/adapters/llm"
	"github.com/louisjham/hexstrike-ai/internal/adapters/providers"
	"github.com/louisjham/hexstrike-ai/internal/adapters/telegram"
	"github.com/louisjham/hexstrike-ai/internal/adapters/tools"
	"github.com/louisjham/hexstrike-ai/internal/config"
	"github.com/louisjham/hexstrike-ai/internal/core/ports"
	"github.com/louisjham/hexstrike-ai/internal/core/services"
	"github.com/louisjham/hexstrike-ai/pkg/api"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			logger.Info("starting hexstrike orchestrator")

			if err := run(logger); err != nil {
				logger.Error("startup failed", "error", err)
				return err
			}
			return nil
		},
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := duckdb.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	skills := services.NewSkillRegistry(logger, cfg.SkillsDir)
	if err := skills.Load(); err != nil {
		return fmt.Errorf("load skills: %w", err)
	}
	logger.Info("skills loaded", "count", len(skills.List()))

	eventBus := services.NewEventBus(logger)
	gate := services.NewApprovalGate(logger, eventBus)

	// Semantic cache embedder ladder: remote Ollama when reachable, local
	// n-gram fallback otherwise.
	var embedder ports.Embedder
	remote := llm.NewOllamaEmbedder(cfg.Cache.EmbedderURL, cfg.Cache.EmbedderModel)
	if err := remote.Probe(ctx); err != nil {
		logger.Warn("embedding backend unreachable, using n-gram fallback", "error", err)
		embedder = services.NewNGramEmbedder()
	} else {
		embedder = remote
	}
	logger.Info("semantic cache embedder selected", "embedder", embedder.Name())

	cache := services.NewCacheGate(logger, store, embedder, services.CacheGateConfig{
		Threshold:   cfg.Cache.Threshold,
		ExactTTL:    cfg.Cache.ExactTTL,
		SemanticTTL: cfg.Cache.SemanticTTL,
		MaxEntries:  cfg.Cache.MaxEntries,
	})

	tiers, err := providers.Build(cfg)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}
	router := services.NewInferenceRouter(logger, tiers, store)

	bridge := tools.NewBridgeClient(cfg.Tools.BridgeURL)
	var runner *tools.DockerRunner
	if r, err := tools.NewDockerRunner(); err != nil {
		logger.Warn("docker unavailable, docker-runtime tools disabled", "error", err)
	} else {
		runner = r
	}
	invoker := tools.NewInvoker(logger, bridge, runner, cfg.Tools.Catalog)

	var notifier ports.Notifier
	var tgNotifier *telegram.Notifier
	if cfg.Telegram.Token != "" {
		tgNotifier, err = telegram.New(logger, cfg.Telegram.Token, cfg.Telegram.ChatID, store, store)
		if err != nil {
			return fmt.Errorf("init telegram notifier: %w", err)
		}
		tgNotifier.SetResolver(gate)
		notifier = tgNotifier
	} else {
		logger.Info("telegram token not set, operator notifications disabled")
	}

	engine := services.NewEngine(logger, store, invoker, cache, router, gate, notifier, eventBus, cfg.GateTimeout)
	planner := services.NewPlanner(logger, skills)
	orch := services.NewOrchestrator(logger, store, skills, engine, eventBus, services.OrchestratorConfig{
		Heartbeat:         cfg.Heartbeat,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		StaleJobCutoff:    cfg.StaleJobCutoff,
	})

	apiServer := api.NewServer(logger, store, store, orch, planner, skills, gate, cache, eventBus)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	})
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: c.Handler(apiServer.Handler()),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return orch.Run(gCtx)
	})

	g.Go(func() error {
		logger.Info("starting api server", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if tgNotifier != nil {
		g.Go(func() error {
			tgNotifier.Start(gCtx)
			return nil
		})
	}

	return g.Wait()
}
