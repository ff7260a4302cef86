package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/docpilot/internal/jobqueue"
	"github.com/docpilot/internal/proposals"
)

// ProcessCommand returns the command that runs one batch for a tenant.
func ProcessCommand() *cli.Command {
	return &cli.Command{
		Name:  "process",
		Usage: "Run one pipeline batch for a tenant",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "tenant",
				Aliases:  []string{"t"},
				Usage:    "Tenant whose pending messages are processed",
				Required: true,
			},
		},
		Action: runProcess,
	}
}

func runProcess(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	a, err := newApp(c.Context, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	proc, err := a.processor(c.Context)
	if err != nil {
		return err
	}
	summary, err := proc.RunBatch(c.Context, c.String("tenant"))
	if err != nil {
		return err
	}
	return printJSON(summary)
}

// ClearProcessedCommand returns the command that makes processed messages
// eligible again.
func ClearProcessedCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear-processed",
		Usage: "Reset processed messages of a tenant so they are analysed again",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "tenant",
				Aliases:  []string{"t"},
				Usage:    "Tenant to reset",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "stream",
				Usage: "Only reset messages of this stream",
			},
			&cli.BoolFlag{
				Name:  "queue",
				Usage: "Enqueue the reset on the job queue instead of running it here",
			},
		},
		Action: runClearProcessed,
	}
}

func runClearProcessed(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	tenant, stream := c.String("tenant"), c.String("stream")

	if c.Bool("queue") {
		if cfg.Database.URL == "" {
			return fmt.Errorf("--queue requires database.url")
		}
		jq, err := jobqueue.NewJobQueue(c.Context, cfg.Database.URL, nil, nil)
		if err != nil {
			return err
		}
		defer jq.Close()
		if err := jq.EnqueueClear(c.Context, tenant, stream); err != nil {
			return err
		}
		fmt.Printf("Queued clear-processed for tenant %s\n", tenant)
		return nil
	}

	a, err := newApp(c.Context, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.clearer().ClearProcessed(c.Context, tenant, stream)
	if err != nil {
		return err
	}
	return printJSON(res)
}

// ReprocessCommand returns the command that re-applies formatting to every
// stored proposal.
func ReprocessCommand() *cli.Command {
	return &cli.Command{
		Name:   "reprocess",
		Usage:  "Rebuild every proposal's text from its raw model output with the current ruleset and reformat rules",
		Action: runReprocess,
	}
}

func runReprocess(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	a, err := newApp(c.Context, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := proposals.NewService(a.proposals).Reprocess(c.Context, a.postprocessor().SuggestedText)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
