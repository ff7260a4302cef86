package pipeline

import (
	"time"

	"github.com/docpilot/internal/config"
	"github.com/docpilot/internal/llm"
	"github.com/docpilot/internal/llmcache"
	"github.com/docpilot/internal/messages"
	"github.com/docpilot/internal/prompts"
	"github.com/docpilot/internal/rag"
)

// Deps are the collaborators the stages call out to.
type Deps struct {
	// LLM is the uncached model; each stage wraps it under its own purpose.
	LLM      llm.Handler
	Cache    *llmcache.Cache
	Searcher rag.Searcher
	Store    messages.Store
	Screens  []Screen
}

// RAGOptions tunes the enrichment stage.
type RAGOptions struct {
	TopK          int
	MinSimilarity float64
	Timeout       time.Duration
}

// BuildStages assembles the enabled stages in their fixed order.
func BuildStages(cfg config.PipelineConfig, ragOpts RAGOptions, deps Deps) []Stage {
	builder := prompts.NewPromptBuilder()
	cached := func(p llmcache.Purpose) llm.Handler {
		if deps.Cache == nil {
			return deps.LLM
		}
		return llmcache.NewCachedHandler(deps.LLM, deps.Cache, p)
	}

	var stages []Stage
	if cfg.Stages.Filter {
		stages = append(stages, &FilterStage{
			Include:       cfg.Filter.Include,
			Exclude:       cfg.Filter.Exclude,
			CaseSensitive: cfg.Filter.CaseSensitive,
			Screens:       deps.Screens,
		})
	}
	if cfg.Stages.Classify {
		stages = append(stages, &ClassifyStage{
			LLM:        cached(llmcache.PurposeClassification),
			Store:      deps.Store,
			Categories: cfg.Categories,
			Prompts:    builder,
		})
	}
	if cfg.Stages.Enrich {
		searcher := deps.Searcher
		if searcher == nil {
			searcher = rag.NoopSearcher{}
		}
		stages = append(stages, &EnrichStage{
			Searcher:      searcher,
			Cache:         deps.Cache,
			Store:         deps.Store,
			TopK:          ragOpts.TopK,
			MinSimilarity: ragOpts.MinSimilarity,
			Timeout:       ragOpts.Timeout,
			Workers:       cfg.Workers,
		})
	}
	if cfg.Stages.Generate {
		stages = append(stages, &GenerateStage{
			LLM:     cached(llmcache.PurposeGeneration),
			Prompts: builder,
			Workers: cfg.Workers,
		})
	}
	if cfg.Stages.Ruleset {
		stages = append(stages, &RulesetStage{Store: deps.Store})
	}
	if cfg.Stages.Reformat {
		stages = append(stages, ReformatStage{})
	}
	if cfg.Stages.Condense {
		stages = append(stages, &CondenseStage{
			LLM:      cached(llmcache.PurposeReview),
			Prompts:  builder,
			MaxChars: cfg.Condense.MaxChars,
			Workers:  cfg.Workers,
		})
	}
	return stages
}
