package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/docpilot/internal/api"
	"github.com/docpilot/internal/jobqueue"
	"github.com/docpilot/internal/proposals"
	"github.com/docpilot/internal/ruleset"
	"github.com/docpilot/internal/scheduler"
)

// ServeCommand returns the command that runs the API server, the scheduler
// and the job queue workers.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the DocPilot API server and batch scheduler",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides server.port)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if port := c.Int("port"); port > 0 {
		cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	proc, err := a.processor(ctx)
	if err != nil {
		return err
	}
	batches, err := a.batchService()
	if err != nil {
		return err
	}

	go reloadRulesetsOnHangup(ctx, a.rulesets)

	var queue jobqueue.Enqueuer = &jobqueue.Inline{Runner: proc, Locks: a.locks}
	if cfg.Queue.Enabled {
		jq, err := jobqueue.NewJobQueue(ctx, cfg.Database.URL, proc, &jobqueue.QueueConfig{
			MaxWorkers: cfg.Queue.MaxWorkers,
			JobTimeout: jobqueue.DefaultQueueConfig().JobTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
		if err := jq.Start(ctx); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := jq.Stop(stopCtx); err != nil {
				log.Warn().Err(err).Msg("Job queue did not stop cleanly")
			}
		}()
		queue = jq
	}

	if cfg.Scheduler.Enabled {
		sched := scheduler.NewScheduler(queue.EnqueueBatch, cfg.Scheduler.Tenants, cfg.Scheduler.Interval, cfg.Scheduler.InitialDelay)
		sched.Start()
		defer sched.Stop()
		log.Info().
			Strs("tenants", cfg.Scheduler.Tenants).
			Dur("interval", cfg.Scheduler.Interval).
			Msg("Batch scheduler started")
	}

	server := api.NewServer(cfg.Server.Port, api.Deps{
		Proposals:     proposals.NewService(a.proposals),
		Batches:       batches,
		Cache:         a.cache,
		Clearer:       proc,
		Queue:         queue,
		Postprocessor: a.postprocessor(),
		JWTSecret:     cfg.Auth.JWTSecret,
	})
	return server.Start(ctx)
}

// reloadRulesetsOnHangup drops the parsed rulesets on SIGHUP so edited rule
// documents apply to the next run.
func reloadRulesetsOnHangup(ctx context.Context, reg *ruleset.Registry) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			reg.Reload()
			log.Info().Msg("Rulesets reloaded")
		}
	}
}
