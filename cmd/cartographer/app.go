package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/MikeSquared-Agency/cartographer/internal/anthropic"
	"github.com/MikeSquared-Agency/cartographer/internal/cluster"
	"github.com/MikeSquared-Agency/cartographer/internal/config"
	"github.com/MikeSquared-Agency/cartographer/internal/embedding"
	"github.com/MikeSquared-Agency/cartographer/internal/enrich"
	"github.com/MikeSquared-Agency/cartographer/internal/hermes"
	"github.com/MikeSquared-Agency/cartographer/internal/llm"
	"github.com/MikeSquared-Agency/cartographer/internal/metrics"
	"github.com/MikeSquared-Agency/cartographer/internal/notify"
	"github.com/MikeSquared-Agency/cartographer/internal/pipeline"
	"github.com/MikeSquared-Agency/cartographer/internal/projection"
	"github.com/MikeSquared-Agency/cartographer/internal/status"
	"github.com/MikeSquared-Agency/cartographer/internal/store"
)

// app is the wired service shared by the serve and import commands.
type app struct {
	cfg      config.Config
	db       *store.Store
	status   status.Store
	hermes   *hermes.Client
	recorder *metrics.Recorder
	pipeline *pipeline.Pipeline
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	setupLogging(cfg.LogLevel)
	return cfg, nil
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Database
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	slog.Info("database connected")

	a := &app{cfg: cfg, db: db, status: db}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.recorder = metrics.NewRecorder(registry)

	// LLM
	openaiClient := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	var completer llm.Completer
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		completer = llm.NewAnthropic(anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel))
		slog.Info("anthropic client ready", "model", cfg.AnthropicModel)
	default:
		completer = llm.NewOpenAI(openaiClient, cfg.Model)
		slog.Info("openai client ready", "model", cfg.Model)
	}

	embedder, err := embedding.NewCached(
		embedding.NewOpenAI(openaiClient, cfg.EmbeddingModel, cfg.EmbeddingBatchSize, cfg.MaxParallelRequests, slog.Default()),
		cfg.EmbeddingCacheSize,
		a.recorder,
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	// NATS/Hermes (optional)
	var notifiers pipeline.Notifiers
	if cfg.NatsURL != "" {
		a.hermes, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		a.status = status.WithPublisher(db, a.hermes)
		notifiers = append(notifiers, a.hermes)
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured, running without bus")
	}

	// Slack (optional)
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		notifiers = append(notifiers, notify.NewSlack(cfg.SlackBotToken, cfg.SlackChannel, slog.Default()))
		slog.Info("slack notifier ready", "channel", cfg.SlackChannel)
	}

	conversationMap := projection.NewUMAP(cfg.ClusterSeed)
	conversationMap.Neighbors = cfg.UMAPNeighbors
	conversationMap.MinDist = cfg.UMAPMinDist

	deps := pipeline.Deps{
		Repo:                  db,
		Status:                a.status,
		Enricher:              enrich.NewEnricher(completer, cfg.MaxParallelRequests, cfg.MaxContextChars, slog.Default()),
		Labeler:               enrich.NewLabeler(completer, cfg.MaxParallelRequests, slog.Default()),
		Embedder:              embedder,
		ConversationProjector: conversationMap,
		CentroidProjector:     conversationMap,
		Partitioner:           cluster.NewKMeans(cfg.ClusterSeed),
		Observer:              a.recorder,
		Logger:                slog.Default(),
	}
	if len(notifiers) > 0 {
		deps.Notifier = notifiers
	}
	a.pipeline = pipeline.New(deps, pipeline.Options{
		MaxClusters:     cfg.MaxClusters,
		CentroidDocs:    cfg.CentroidDocs,
		MaxTags:         cfg.MaxTagsPerCluster,
		MaxContextChars: cfg.MaxContextChars,
	})
	return a, nil
}

func (a *app) Close() {
	if a.hermes != nil {
		a.hermes.Close()
	}
	a.db.Close()
}
