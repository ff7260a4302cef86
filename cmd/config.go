package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/docpilot/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "docpilot.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration file",
				Action: runConfigValidate,
			},
			{
				Name:   "show",
				Usage:  "Print the effective configuration with secrets masked",
				Action: runConfigShow,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	storage := "in-memory (no database.url)"
	if cfg.Database.URL != "" {
		storage = "postgres"
	}
	fmt.Println("Configuration is valid")
	fmt.Printf("  llm:     %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Printf("  rag:     %s\n", cfg.RAG.Backend)
	fmt.Printf("  cache:   %s\n", cfg.Cache.Backend)
	fmt.Printf("  git:     %s (%s)\n", cfg.Git.Provider, cfg.Git.BaseBranch)
	fmt.Printf("  storage: %s\n", storage)
	return nil
}

func runConfigShow(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return printJSON(cfg.Redacted())
}

// Commands lists every top-level command.
func Commands() []*cli.Command {
	return []*cli.Command{
		ServeCommand(),
		ProcessCommand(),
		ImportCSVCommand(),
		ClearProcessedCommand(),
		CacheCommand(),
		ReprocessCommand(),
		ConfigCommand(),
	}
}
