package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/scrypster/farmmemory/internal/config"
	"github.com/scrypster/farmmemory/internal/embedding"
	"github.com/scrypster/farmmemory/internal/engine"
	"github.com/scrypster/farmmemory/internal/llm"
	"github.com/scrypster/farmmemory/internal/storage"
	"github.com/scrypster/farmmemory/internal/storage/postgres"
	"github.com/scrypster/farmmemory/internal/storage/sqlite"
	"github.com/scrypster/farmmemory/internal/topics"
)

// dbFileName is the SQLite database created under the data path.
const dbFileName = "farmmemory.db"

// app holds the wired components used by the subcommands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	store     *sqlite.Store
	index     storage.VectorIndex
	generator llm.Generator
	encoder   llm.EmbeddingGenerator

	recorder     *engine.Recorder
	composer     *engine.ContextComposer
	insights     *engine.InsightMiner
	consolidator *engine.SessionConsolidator

	closers []func() error
}

// newApp opens storage and builds the engine components.
//
// Startup sequence:
//  1. Ensure the data directory exists and open the SQLite store.
//  2. Open the pgvector index when the postgres engine is selected;
//     otherwise the SQLite store doubles as the vector index.
//  3. Load the topic taxonomy.
//  4. Create the completion and embedding clients.
//  5. Wire the recorder, relevance engine, insight miner, consolidator
//     and context composer.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory %q: %w", cfg.Storage.DataPath, err)
	}

	dbPath := filepath.Join(cfg.Storage.DataPath, dbFileName)
	store, err := sqlite.Open(ctx, dbPath, sqlite.Options{
		Dimension: cfg.LLM.EmbeddingDimension,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %q: %w", dbPath, err)
	}
	a.store = store
	a.index = store
	a.closers = append(a.closers, store.Close)

	if cfg.Storage.Engine == "postgres" {
		vi, err := postgres.Open(ctx, cfg.Storage.PostgresDSN, postgres.Options{
			Dimension: cfg.LLM.EmbeddingDimension,
			Logger:    logger,
		})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to open vector index: %w", err)
		}
		a.index = vi
		a.closers = append(a.closers, vi.Close)
	}

	classifier, err := loadClassifier(cfg.Memory.TaxonomyPath)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	if a.generator, err = llm.NewGenerator(cfg.LLM, logger); err != nil {
		_ = a.Close()
		return nil, err
	}
	if a.encoder, err = llm.NewEmbeddingGenerator(cfg.LLM, logger); err != nil {
		_ = a.Close()
		return nil, err
	}
	gateway := embedding.NewGateway(a.encoder, embedding.Config{
		Dimension: cfg.LLM.EmbeddingDimension,
		Timeout:   cfg.LLM.EmbeddingTimeout,
	}, logger)

	engCfg := engineConfig(cfg)
	if err := engCfg.Validate(); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("invalid memory configuration: %w", err)
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.Memory.GenerationRate), cfg.Memory.GenerationBurst)

	relevance := engine.NewRelevanceEngine(classifier, store, engCfg, logger)
	a.insights = engine.NewInsightMiner(store, a.generator, classifier, limiter, engCfg, logger)
	a.consolidator = engine.NewSessionConsolidator(store, a.generator, classifier, engCfg, logger)
	a.composer = engine.NewContextComposer(gateway, a.index, relevance, a.insights, engCfg, logger)
	a.recorder = engine.NewRecorder(store, a.index, gateway, engCfg, logger)

	logger.Debug().
		Str("storage_engine", cfg.Storage.Engine).
		Str("llm_provider", cfg.LLM.Provider).
		Str("embedding_provider", cfg.LLM.EmbeddingProvider).
		Str("db_path", dbPath).
		Msg("farmmem initialised")
	return a, nil
}

// Close releases storage in reverse open order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func loadClassifier(path string) (topics.Classifier, error) {
	if path == "" {
		return topics.DefaultTaxonomy(), nil
	}
	t, err := topics.LoadTaxonomyFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load taxonomy %q: %w", path, err)
	}
	return t, nil
}

// engineConfig maps the environment configuration onto engine tunables.
func engineConfig(cfg *config.Config) engine.Config {
	m := cfg.Memory
	return engine.Config{
		MaxMemories:          m.MaxMemories,
		MinSimilarity:        m.MinSimilarity,
		InsightWindow:        time.Duration(m.InsightWindowDays) * 24 * time.Hour,
		InsightMinFrequency:  m.InsightMinFrequency,
		InsightMinImportance: m.InsightMinScore,
		InsightLimit:         m.InsightLimit,
		SummaryConcurrency:   m.SummaryConcurrency,
		LookupConcurrency:    m.LookupConcurrency,
		LookupTimeout:        m.LookupTimeout,
		SearchTimeout:        m.SearchTimeout,
		GenerationTimeout:    cfg.LLM.Timeout,
		AgentName:            m.AgentName,
	}
}

// healthChecker is implemented by providers that expose a liveness probe.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// componentHealth is one line of the health report.
type componentHealth struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// health probes storage and any provider that supports it.
func (a *app) health(ctx context.Context) []componentHealth {
	report := []componentHealth{probe("storage", a.store.DB().PingContext(ctx))}

	for _, p := range []struct {
		name   string
		client interface{}
	}{
		{"llm:" + a.cfg.LLM.Provider, a.generator},
		{"embedding:" + a.cfg.LLM.EmbeddingProvider, a.encoder},
	} {
		hc, ok := p.client.(healthChecker)
		if !ok {
			report = append(report, componentHealth{Name: p.name, Status: "unchecked"})
			continue
		}
		report = append(report, probe(p.name, hc.HealthCheck(ctx)))
	}
	return report
}

func probe(name string, err error) componentHealth {
	if err != nil {
		return componentHealth{Name: name, Status: "error", Error: err.Error()}
	}
	return componentHealth{Name: name, Status: "ok"}
}
