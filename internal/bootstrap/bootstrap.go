package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/retrieval-engine/internal/config"
	"github.com/kirillkom/retrieval-engine/internal/core/ports"
	"github.com/kirillkom/retrieval-engine/internal/core/usecase"
	"github.com/kirillkom/retrieval-engine/internal/infrastructure/cache"
	"github.com/kirillkom/retrieval-engine/internal/infrastructure/crossencoder"
	keywordpg "github.com/kirillkom/retrieval-engine/internal/infrastructure/keyword/postgres"
	"github.com/kirillkom/retrieval-engine/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/retrieval-engine/internal/infrastructure/resilience"
	synneo4j "github.com/kirillkom/retrieval-engine/internal/infrastructure/synonyms/neo4j"
	"github.com/kirillkom/retrieval-engine/internal/infrastructure/synonyms/static"
	"github.com/kirillkom/retrieval-engine/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/retrieval-engine/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	QueryUC ports.QueryService
	Metrics *metrics.QueryMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	queryMetrics := metrics.NewQueryMetrics("api")

	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    cfg.RetryMaxAttempts,
		RetryInitialBackoff: time.Duration(cfg.RetryInitialBackoffMS) * time.Millisecond,
		RetryMaxBackoff:     time.Duration(cfg.RetryMaxBackoffMS) * time.Millisecond,
		RetryMultiplier:     cfg.RetryMultiplier,
		RetryJitter:         cfg.RetryJitter,

		BreakerEnabled:          cfg.BreakerEnabled,
		BreakerFailureThreshold: uint32(cfg.BreakerFailureThreshold),
		BreakerFailureWindow:    time.Duration(cfg.BreakerFailureWindowS) * time.Second,
		BreakerRecoveryTimeout:  time.Duration(cfg.BreakerRecoveryTimeoutS) * time.Second,
	}, queryMetrics)

	exactCache, err := cache.NewResultCache(cfg.CacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("init result cache: %w", err)
	}
	semanticCache, err := cache.NewSemanticCache(cfg.SemanticCacheCapacity, cfg.SemanticCacheThreshold)
	if err != nil {
		return nil, fmt.Errorf("init semantic cache: %w", err)
	}

	db, err := keywordpg.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	keywordIndex := keywordpg.NewKeywordIndex(db)
	if err := keywordIndex.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure keyword schema: %w", err)
	}

	embedder := ollama.NewEmbedder(
		ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel),
		exec,
		time.Duration(cfg.BackendTimeoutMS)*time.Millisecond,
	)
	vectorBackend := qdrant.NewBackend(
		qdrant.New(cfg.QdrantURL, cfg.QdrantCollection),
		exec,
		time.Duration(cfg.BackendTimeoutMS)*time.Millisecond,
		cfg.VectorRatePerSecond,
		cfg.VectorRateBurst,
	)

	var encoder ports.CrossEncoder = crossencoder.Lexical{}
	if cfg.RerankURL != "" {
		encoder = crossencoder.New(cfg.RerankURL)
	}
	reranker := usecase.NewReranker(
		encoder,
		time.Duration(cfg.RerankTimeoutMS)*time.Millisecond,
		queryMetrics,
		logger,
	)

	var synonymSource ports.SynonymSource = static.Default()
	var graphSource *synneo4j.Source
	if cfg.Neo4jURI != "" {
		graphSource, err = synneo4j.New(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init neo4j synonym source: %w", err)
		}
		synonymSource = graphSource
	}
	expander := usecase.NewQueryExpander(synonymSource, cfg.ExpansionMaxFactor, cfg.ExpansionMinWeight, logger)

	queryUC := usecase.NewHybridQueryUseCase(
		embedder,
		vectorBackend,
		keywordIndex,
		expander,
		reranker,
		exactCache,
		semanticCache,
		exec,
		queryMetrics,
		logger,
		usecase.SearchConfig{
			DefaultLimit:    cfg.SearchDefaultLimit,
			CandidateLimit:  cfg.CandidateLimit,
			FusionRRFK:      cfg.FusionRRFK,
			RerankTopK:      cfg.RerankTopK,
			BackendTimeout:  time.Duration(cfg.BackendTimeoutMS) * time.Millisecond,
			DiversityLambda: cfg.DiversityLambda,
		},
	)

	return &App{
		Config:  cfg,
		QueryUC: queryUC,
		Metrics: queryMetrics,

		closeFn: func() {
			if graphSource != nil {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = graphSource.Close(closeCtx)
				cancel()
			}
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
