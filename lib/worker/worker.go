// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker executes cattle jobs claimed from the queue.
//
// A Worker repeatedly claims the next eligible job under a lease,
// dispatches it to the handler for its kind (spawn or reap), and
// reports the outcome back to the queue. While a handler runs, a
// heartbeat goroutine extends the lease; if an extension is rejected
// the lease has been lost to another worker and the handler's context
// is canceled so it stops incurring side effects.
//
// Handlers are written to be safe under reclaim: instance names derive
// deterministically from the job ID, creates adopt an existing
// instance instead of duplicating it, and deletes are idempotent. A
// job that fails is retried by the queue until its attempt ceiling,
// with no special-casing of error kinds here: retryability is a
// property of the job, not of the error.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/regenrek/moltlets-sub007/lib/cattle"
	"github.com/regenrek/moltlets-sub007/lib/clock"
	"github.com/regenrek/moltlets-sub007/lib/persona"
	"github.com/regenrek/moltlets-sub007/lib/queue"
	"github.com/regenrek/moltlets-sub007/lib/service"
)

// FleetSettings is the slice of daemon configuration the handlers act
// on: which fleet this worker manages and the defaults applied when a
// spawn payload leaves placement unspecified.
type FleetSettings struct {
	// Name labels and prefixes every instance of this fleet.
	Name string

	// MaxInstances caps concurrently live instances.
	MaxInstances int

	// DefaultTTL, ServerType, Image, and Location are the lowest layer
	// of spawn defaults, below persona defaults and payload overrides.
	DefaultTTL time.Duration
	ServerType string
	Image      string
	Location   string

	// SSHAuthorizedKey is the operator public key line installed on
	// every instance. Optional.
	SSHAuthorizedKey string

	// CattleAPIURL is where spawned instances redeem bootstrap tokens.
	CattleAPIURL string
}

// Config assembles a Worker.
type Config struct {
	// ID identifies this worker in leases, events, and logs. Must be
	// unique among cooperating workers.
	ID string

	// Store is the job queue. Required.
	Store *queue.Store

	// Personas loads persona definitions for spawn jobs. Required.
	Personas *persona.Store

	// Provider is the cloud client. Required.
	Provider *cattle.Client

	// Fleet configures the handlers.
	Fleet FleetSettings

	// Clock is the time source. Required.
	Clock clock.Clock

	// Logger receives structured logs. Required.
	Logger *slog.Logger

	// Events receives handler progress events. Defaults to a LogSink
	// on Logger.
	Events EventSink

	// Lease is how long a claim lasts before another worker may
	// reclaim the job. Defaults to 60s.
	Lease time.Duration

	// HeartbeatInterval is how often the lease is extended while a
	// handler runs. Defaults to Lease / 3.
	HeartbeatInterval time.Duration

	// PollInterval is the idle wait between claim attempts in Run.
	// Defaults to 2s.
	PollInterval time.Duration

	// TokenTTL bounds the bootstrap-token redemption window. Zero uses
	// the store default.
	TokenTTL time.Duration

	// Retry overrides the backoff policy applied when a handler fails.
	// Nil uses the store default.
	Retry *queue.RetryPolicy
}

// Worker claims and executes jobs. Safe for use by a single goroutine;
// run several Workers (with distinct IDs) for concurrency.
type Worker struct {
	id           string
	store        *queue.Store
	personas     *persona.Store
	provider     *cattle.Client
	fleet        FleetSettings
	clock        clock.Clock
	logger       *slog.Logger
	events       EventSink
	lease        time.Duration
	heartbeatGap time.Duration
	pollInterval time.Duration
	tokenTTL     time.Duration
	retry        *queue.RetryPolicy
}

// New builds a Worker from config. Panics on missing required fields:
// those are wiring bugs, not runtime conditions.
func New(config Config) *Worker {
	if config.ID == "" {
		panic("worker.New: ID is required")
	}
	if config.Store == nil {
		panic("worker.New: Store is required")
	}
	if config.Personas == nil {
		panic("worker.New: Personas is required")
	}
	if config.Provider == nil {
		panic("worker.New: Provider is required")
	}
	if config.Clock == nil {
		panic("worker.New: Clock is required")
	}
	if config.Logger == nil {
		panic("worker.New: Logger is required")
	}
	if config.Fleet.Name == "" {
		panic("worker.New: Fleet.Name is required")
	}
	if config.Fleet.MaxInstances < 1 {
		panic("worker.New: Fleet.MaxInstances must be at least 1")
	}

	logger := config.Logger.With("worker", config.ID)
	if config.Events == nil {
		config.Events = LogSink{Logger: logger}
	}
	if config.Lease <= 0 {
		config.Lease = 60 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = config.Lease / 3
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}

	return &Worker{
		id:           config.ID,
		store:        config.Store,
		personas:     config.Personas,
		provider:     config.Provider,
		fleet:        config.Fleet,
		clock:        config.Clock,
		logger:       logger,
		events:       config.Events,
		lease:        config.Lease,
		heartbeatGap: config.HeartbeatInterval,
		pollInterval: config.PollInterval,
		tokenTTL:     config.TokenTTL,
		retry:        config.Retry,
	}
}

// Run claims and executes jobs until ctx is canceled. The stop signal
// is honored between jobs only: a handler that is already running
// finishes (or loses its lease) on its own schedule.
func (w *Worker) Run(ctx context.Context) {
	service.RunPollLoop(ctx, service.PollLoopConfig{
		Name:     "worker " + w.id,
		Interval: w.pollInterval,
	}, w.RunOnce, w.clock, w.logger)
}

// RunOnce claims and executes at most one job. It reports whether a
// job was claimed; the returned error covers claim failures only.
// Handler failures are reported to the queue, logged, and never
// propagate, so one bad job cannot halt the loop.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNext(ctx, w.id, w.lease)
	if err != nil {
		return false, fmt.Errorf("claiming next job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	w.execute(ctx, job)
	return true, nil
}

// execute runs one claimed job to its outcome.
func (w *Worker) execute(ctx context.Context, job *queue.Job) {
	logger := w.logger.With("job", job.ID, "kind", string(job.Kind), "attempt", job.Attempt)
	logger.Info("job claimed")

	// The handler context is detached from the loop context: daemon
	// shutdown stops the loop between jobs, never mid-handler. Losing
	// the lease is the only thing that aborts a running handler.
	handlerCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		w.heartbeat(handlerCtx, job.ID, abort, logger)
	}()

	result, handlerErr := w.dispatch(handlerCtx, job)

	abort()
	<-heartbeatDone

	reportCtx := context.WithoutCancel(ctx)
	if handlerErr != nil {
		failed, err := w.store.Fail(reportCtx, job.ID, w.id, handlerErr.Error(), w.retry)
		if err != nil {
			logger.Error("recording job failure", "error", err)
			return
		}
		if failed == nil {
			logger.Warn("lease lost before the failure could be recorded", "error", handlerErr)
			return
		}
		if failed.Status == queue.StatusFailed {
			logger.Error("job failed terminally", "error", handlerErr, "attempts", failed.Attempt)
		} else {
			logger.Warn("job failed, rescheduled", "error", handlerErr, "run_at", failed.RunAt)
		}
		return
	}

	acked, err := w.store.Ack(reportCtx, job.ID, w.id, result)
	if err != nil {
		logger.Error("recording job result", "error", err)
		return
	}
	if !acked {
		logger.Warn("lease lost before the result could be recorded")
		return
	}
	logger.Info("job done")
}

// dispatch routes a job to its handler. The switch is exhaustive over
// the kinds ParseKind accepts; reaching default means the database
// holds a kind this build does not know (a newer daemon enqueued it).
func (w *Worker) dispatch(ctx context.Context, job *queue.Job) (any, error) {
	switch job.Kind {
	case queue.KindCattleSpawn:
		return w.spawn(ctx, job)
	case queue.KindCattleReap:
		return w.reap(ctx, job)
	default:
		return nil, fmt.Errorf("no handler for job kind %q", job.Kind)
	}
}

// heartbeat extends the job's lease on every tick until the handler
// context ends. A rejected extension means another worker owns the job
// now; abort cancels the handler so it stops incurring side effects.
func (w *Worker) heartbeat(ctx context.Context, jobID string, abort context.CancelFunc, logger *slog.Logger) {
	ticker := w.clock.NewTicker(w.heartbeatGap)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		extended, err := w.store.ExtendLease(ctx, jobID, w.id, w.clock.Now().Add(w.lease))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// The current lease may still be live; keep the handler
			// running and try again next tick.
			logger.Warn("extending lease", "error", err)
			continue
		}
		if !extended {
			logger.Warn("lease lost mid-run, aborting handler")
			abort()
			return
		}
	}
}

// emit sends a progress event to the configured sink.
func (w *Worker) emit(jobID, stage, message string) {
	w.events.Emit(Event{
		JobID:   jobID,
		Stage:   stage,
		Message: message,
		At:      w.clock.Now(),
	})
}
