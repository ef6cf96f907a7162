// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/regenrek/moltlets-sub007/lib/cattle"
	"github.com/regenrek/moltlets-sub007/lib/clock"
	"github.com/regenrek/moltlets-sub007/lib/config"
	"github.com/regenrek/moltlets-sub007/lib/cron"
	"github.com/regenrek/moltlets-sub007/lib/persona"
	"github.com/regenrek/moltlets-sub007/lib/process"
	"github.com/regenrek/moltlets-sub007/lib/queue"
	"github.com/regenrek/moltlets-sub007/lib/secret"
	"github.com/regenrek/moltlets-sub007/lib/service"
	"github.com/regenrek/moltlets-sub007/lib/version"
	"github.com/regenrek/moltlets-sub007/lib/worker"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "path to the YAML configuration file (defaults to $MOLTLETD_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("moltletd")
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Parse the reap schedule before touching anything stateful so a
	// bad expression fails the boot, not the first sweep.
	reapSchedule, err := cron.Parse(cfg.Reap.Schedule)
	if err != nil {
		return fmt.Errorf("parsing reap schedule %q: %w", cfg.Reap.Schedule, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The provider token lives in an mlocked buffer for the life of
	// the process. It never appears in the config file itself.
	token, err := secret.FromFile(cfg.Hetzner.TokenFile)
	if err != nil {
		return fmt.Errorf("loading hetzner token: %w", err)
	}
	defer token.Close()

	provider, err := cattle.NewClient(cattle.Config{
		BaseURL: cfg.Hetzner.APIURL,
		Token:   token,
		Logger:  logger.With("component", "hetzner"),
	})
	if err != nil {
		return fmt.Errorf("creating hetzner client: %w", err)
	}

	var sshAuthorizedKey string
	if cfg.Fleet.SSHPublicKeyFile != "" {
		line, fingerprint, err := cattle.LoadAuthorizedKey(cfg.Fleet.SSHPublicKeyFile)
		if err != nil {
			return fmt.Errorf("loading fleet SSH key: %w", err)
		}
		sshAuthorizedKey = line
		logger.Info("fleet SSH key loaded", "fingerprint", fingerprint)
	}

	clk := clock.Real()

	store, err := queue.OpenStore(queue.StoreConfig{
		Path:               cfg.Database.Path,
		PoolSize:           cfg.Database.PoolSize,
		Clock:              clk,
		Logger:             logger.With("component", "queue"),
		DefaultMaxAttempts: cfg.Worker.MaxAttempts,
		DefaultRetry: queue.RetryPolicy{
			Base: cfg.Worker.RetryBase.Std(),
			Max:  cfg.Worker.RetryMax.Std(),
		},
		DefaultTokenTTL: cfg.Bootstrap.TokenTTL.Std(),
	})
	if err != nil {
		return fmt.Errorf("opening queue store: %w", err)
	}
	defer store.Close()
	logger.Info("queue store open", "path", cfg.Database.Path)

	personas := persona.NewStore(cfg.Personas.Dir, logger.With("component", "persona"))

	fleet := worker.FleetSettings{
		Name:             cfg.Fleet.Name,
		MaxInstances:     cfg.Fleet.MaxInstances,
		DefaultTTL:       cfg.Fleet.DefaultTTL.Std(),
		ServerType:       cfg.Fleet.ServerType,
		Image:            cfg.Fleet.Image,
		Location:         cfg.Fleet.Location,
		SSHAuthorizedKey: sshAuthorizedKey,
		CattleAPIURL:     cfg.Fleet.CattleAPIURL,
	}

	var workers sync.WaitGroup
	for i := range cfg.Worker.Count {
		w := worker.New(worker.Config{
			ID:                fmt.Sprintf("worker-%d", i+1),
			Store:             store,
			Personas:          personas,
			Provider:          provider,
			Fleet:             fleet,
			Clock:             clk,
			Logger:            logger,
			Lease:             cfg.Worker.LeaseDuration.Std(),
			HeartbeatInterval: cfg.Worker.HeartbeatInterval.Std(),
			PollInterval:      cfg.Worker.PollInterval.Std(),
			TokenTTL:          cfg.Bootstrap.TokenTTL.Std(),
		})
		workers.Add(1)
		go func() {
			defer workers.Done()
			w.Run(ctx)
		}()
	}
	logger.Info("worker pool started", "workers", cfg.Worker.Count, "fleet", cfg.Fleet.Name)

	orchestrator := service.NewHTTPServer(service.HTTPServerConfig{
		Name:    "orchestrator",
		Address: cfg.Listen.Orchestrator,
		Handler: newOrchestratorMux(&orchestratorAPI{
			store:       store,
			personas:    personas,
			environment: string(cfg.Environment),
			fleet:       cfg.Fleet.Name,
			startedAt:   clk.Now(),
			clock:       clk,
			logger:      logger.With("component", "orchestrator"),
		}),
		Logger: logger,
	})
	cattleServer := service.NewHTTPServer(service.HTTPServerConfig{
		Name:    "cattle",
		Address: cfg.Listen.Cattle,
		Handler: newCattleMux(&cattleAPI{
			store:  store,
			getenv: os.Getenv,
			logger: logger.With("component", "cattle-api"),
		}),
		Logger: logger,
	})

	serveErrs := make(chan error, 2)
	go func() { serveErrs <- orchestrator.Serve(ctx) }()
	go func() { serveErrs <- cattleServer.Serve(ctx) }()

	// Scheduled reaps: enqueue a cattle.reap at each cron tick. The
	// idempotency key is derived from the scheduled minute, so
	// cooperating daemons sharing a store dedupe to one job per
	// window.
	go runReapSchedule(ctx, store, reapSchedule, cfg.Reap.DryRun, clk, logger)

	// Retention sweep: prune terminal jobs past the keep window and
	// expired bootstrap tokens.
	go service.RunPollLoop(ctx, service.PollLoopConfig{
		Name:     "retention",
		Interval: cfg.Retention.SweepInterval.Std(),
	}, func(ctx context.Context) (bool, error) {
		pruned, err := store.Prune(ctx, cfg.Retention.KeepDays)
		if err != nil {
			return false, err
		}
		tokens, err := store.PruneCattleBootstrapTokens(ctx)
		if err != nil {
			return false, err
		}
		if pruned > 0 || tokens > 0 {
			logger.Info("retention sweep", "jobs", pruned, "tokens", tokens)
		}
		return false, nil
	}, clk, logger)

	logger.Info("moltletd ready",
		"version", version.Info(),
		"environment", cfg.Environment,
		"orchestrator", cfg.Listen.Orchestrator,
		"cattle", cfg.Listen.Cattle,
	)

	remaining := 2
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrs:
		// A listener died on its own. Tear everything else down too.
		remaining--
		stop()
	}

	logger.Info("shutting down")
	workers.Wait()

	// Both Serve calls return once ctx is canceled; collect them so
	// shutdown failures surface in the exit status.
	for ; remaining > 0; remaining-- {
		if err := <-serveErrs; err != nil && serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

// runReapSchedule enqueues a cattle.reap job at every tick of the
// configured cron schedule until ctx is canceled.
func runReapSchedule(ctx context.Context, store *queue.Store, schedule cron.Schedule, dryRun bool, clk clock.Clock, logger *slog.Logger) {
	for {
		next, err := schedule.Next(clk.Now())
		if err != nil {
			// Parse succeeded at boot, so Next only fails if the
			// schedule never fires again within its search horizon.
			logger.Error("reap schedule exhausted", "error", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-clk.After(next.Sub(clk.Now())):
		}

		payload, err := json.Marshal(worker.ReapPayload{DryRun: dryRun})
		if err != nil {
			logger.Error("encoding reap payload", "error", err)
			return
		}
		result, err := store.Enqueue(ctx, queue.EnqueueRequest{
			Kind:           queue.KindCattleReap,
			Requester:      "scheduler",
			IdempotencyKey: "reap-" + next.UTC().Format("200601021504"),
			Payload:        payload,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("enqueueing scheduled reap", "error", err)
			continue
		}
		if !result.Deduped {
			logger.Info("scheduled reap enqueued", "job_id", result.JobID, "at", next)
		}
	}
}
