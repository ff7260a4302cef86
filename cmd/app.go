package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/docpilot/internal/capture"
	"github.com/docpilot/internal/changesets"
	"github.com/docpilot/internal/config"
	"github.com/docpilot/internal/database"
	"github.com/docpilot/internal/githost"
	"github.com/docpilot/internal/llm"
	"github.com/docpilot/internal/llmcache"
	"github.com/docpilot/internal/logging"
	"github.com/docpilot/internal/messages"
	"github.com/docpilot/internal/pipeline"
	"github.com/docpilot/internal/proposals"
	"github.com/docpilot/internal/rag"
	"github.com/docpilot/internal/ruleset"
	"github.com/docpilot/internal/scheduler"
	"github.com/docpilot/internal/watermark"
)

// app holds the stores and services shared by the commands.
type app struct {
	cfg        *config.Config
	messages   messages.Store
	watermarks watermark.Store
	proposals  proposals.Store
	batches    changesets.Store
	cache      *llmcache.Cache
	rulesets   *ruleset.Registry
	locks      *scheduler.LockRegistry

	closers []io.Closer
}

// loadConfig reads the configuration named by --config and configures
// logging from it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logging.Setup(cfg.General.LogLevel, cfg.General.LogFormat); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.General.LogLevel, err)
	}
	return cfg, nil
}

// newApp opens the database (or in-memory stores without one) and the LLM
// cache.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		rulesets: ruleset.NewRegistry(cfg.Ruleset.Dir),
		locks:    scheduler.NewLockRegistry(),
	}

	if cfg.Database.URL != "" {
		db, err := database.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		a.closers = append(a.closers, db)
		a.messages = messages.NewPostgresStore(db)
		a.watermarks = watermark.NewPostgresStore(db)
		a.proposals = proposals.NewPostgresStore(db)
		a.batches = changesets.NewPostgresStore(db)
	} else {
		log.Warn().Msg("No database configured, state is kept in memory for this process only")
		a.messages = messages.NewInMemoryStore()
		a.watermarks = watermark.NewInMemoryStore()
		a.proposals = proposals.NewInMemoryStore()
		a.batches = changesets.NewInMemoryStore()
	}

	cache, closer, err := openCache(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closer)
	a.cache = cache

	return a, nil
}

// Close releases the database and cache backends.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close resource")
		}
	}
	a.closers = nil
}

// processor builds the batch processor with the LLM connector, retrieval
// backend and input screens the config selects.
func (a *app) processor(ctx context.Context) (*scheduler.Processor, error) {
	cfg := a.cfg
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	connector, err := llm.NewConnector(ctx, llm.ConnectorOptions{
		Provider:          llm.Provider(cfg.LLM.Provider),
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		Temperature:       cfg.LLM.Temperature,
		MaxTokens:         cfg.LLM.MaxTokens,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create llm connector: %w", err)
	}

	var searcher rag.Searcher = rag.NoopSearcher{}
	if cfg.RAG.Backend == "weaviate" {
		ws, err := rag.NewWeaviateSearcher(rag.WeaviateOptions{
			Host:   cfg.RAG.Host,
			Scheme: cfg.RAG.Scheme,
			Class:  cfg.RAG.Class,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to weaviate: %w", err)
		}
		searcher = ws
	}

	var screens []pipeline.Screen
	if cfg.Pipeline.Filter.DetectSecrets {
		s, err := pipeline.NewSecretScreen()
		if err != nil {
			return nil, fmt.Errorf("failed to create secret screen: %w", err)
		}
		screens = append(screens, s)
	}
	if cfg.Pipeline.Filter.DetectInjection {
		screens = append(screens, pipeline.NewInjectionScreen())
	}

	stages := pipeline.BuildStages(cfg.Pipeline, pipeline.RAGOptions{
		TopK:          cfg.RAG.TopK,
		MinSimilarity: cfg.RAG.MinSimilarity,
		Timeout:       cfg.RAG.Timeout,
	}, pipeline.Deps{
		LLM:      connector,
		Cache:    a.cache,
		Searcher: searcher,
		Store:    a.messages,
		Screens:  screens,
	})

	return &scheduler.Processor{
		Messages:   a.messages,
		Watermarks: a.watermarks,
		Proposals:  a.proposals,
		Cache:      a.cache,
		Rulesets:   a.rulesets,
		Engine:     pipeline.NewEngine(capture.New(cfg.General.CaptureDir), stages...),
		BatchSize:  cfg.Pipeline.BatchSize,
		Locks:      a.locks,
	}, nil
}

// clearer builds a processor that can only clear processed state. It needs
// no model or retrieval backend.
func (a *app) clearer() *scheduler.Processor {
	return &scheduler.Processor{
		Messages:   a.messages,
		Watermarks: a.watermarks,
		Proposals:  a.proposals,
		Cache:      a.cache,
		Locks:      a.locks,
	}
}

// postprocessor rebuilds stored proposal text with the tenant rulesets.
func (a *app) postprocessor() *pipeline.Postprocessor {
	return &pipeline.Postprocessor{Rulesets: a.rulesets, Store: a.messages}
}

func (a *app) batchService() (*changesets.Service, error) {
	host, err := githost.New(a.cfg.Git)
	if err != nil {
		return nil, fmt.Errorf("failed to create git host: %w", err)
	}
	return changesets.NewService(a.batches, a.proposals, host, a.cfg.Git.BaseBranch), nil
}
