package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/docpilot/internal/config"
	"github.com/docpilot/internal/llmcache"
)

// CacheCommand returns the LLM cache maintenance commands.
func CacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect and purge the LLM response cache",
		Subcommands: []*cli.Command{
			{
				Name:  "purge",
				Usage: "Remove cached responses",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "purpose",
						Usage: "Purpose to purge (classification, generation, embeddings, review, general or all)",
						Value: "all",
					},
					&cli.StringFlag{
						Name:  "older-than",
						Usage: "Only purge entries older than this duration, e.g. 72h",
					},
				},
				Action: runCachePurge,
			},
			{
				Name:   "stats",
				Usage:  "Show entry counts per purpose",
				Action: runCacheStats,
			},
		},
	}
}

func openCache(ctx context.Context, cfg *config.Config) (*llmcache.Cache, io.Closer, error) {
	storage, closer, err := llmcache.OpenStorage(ctx, llmcache.BackendOptions{
		Backend:         cfg.Cache.Backend,
		Dir:             cfg.Cache.Dir,
		Bucket:          cfg.Cache.Bucket,
		Prefix:          cfg.Cache.Prefix,
		CredentialsFile: cfg.Cache.CredentialsFile,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open llm cache: %w", err)
	}
	return llmcache.New(storage), closer, nil
}

func runCachePurge(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	purpose, age, err := llmcache.ParsePurgeScope(c.String("purpose"), c.String("older-than"))
	if err != nil {
		return err
	}
	cache, closer, err := openCache(c.Context, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	removed, err := cache.Purge(c.Context, purpose, age)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d cache entries\n", removed)
	return nil
}

func runCacheStats(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	cache, closer, err := openCache(c.Context, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	stats, err := cache.Stats(c.Context)
	if err != nil {
		return err
	}
	total := 0
	for _, p := range llmcache.AllPurposes {
		fmt.Printf("%-15s %d\n", p, stats[p])
		total += stats[p]
	}
	fmt.Printf("%-15s %d\n", "total", total)
	return nil
}
