// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue implements the durable cattle job queue.
//
// The queue is a single SQLite file shared by every cooperating
// process: HTTP frontends enqueue and inspect jobs, workers claim and
// execute them, and the retention sweep prunes what is finished.
// Mutual exclusion between workers is lease-based: a worker owns a
// job only while its lease holds, and a crashed worker's jobs become
// claimable again the moment the lease expires, with no separate
// crash detection.
//
// Every state transition is a single IMMEDIATE transaction (or a
// single atomic statement), so concurrent callers, including other
// processes on the same file, never observe a half-applied
// transition. Expected races (a stale worker acking a reclaimed job,
// a token redeemed twice) are reported through false/nil returns, not
// errors; errors are reserved for caller bugs and storage failures.
//
// The queue also stores single-use bootstrap tokens: the worker mints
// one per spawned instance, and the instance redeems it at boot for
// its environment. Only keyed BLAKE3 digests of tokens are persisted.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/regenrek/moltlets-sub007/lib/clock"
	"github.com/regenrek/moltlets-sub007/lib/codec"
	"github.com/regenrek/moltlets-sub007/lib/sqlitepool"
)

// Defaults applied when StoreConfig leaves the tunables zero.
const (
	DefaultMaxAttempts = 3
	DefaultTokenTTL    = 15 * time.Minute

	// DefaultListLimit and MaxListLimit bound List results.
	DefaultListLimit = 100
	MaxListLimit     = 500

	// claimWaitInterval is the fixed sub-interval ClaimNextWait polls
	// at while blocking. Short enough that a long-poll caller sees a
	// fresh enqueue promptly, long enough not to hammer the database.
	claimWaitInterval = 250 * time.Millisecond
)

// DefaultRetry is the retry policy used when Fail is called without
// one.
var DefaultRetry = RetryPolicy{Base: 30 * time.Second, Max: 5 * time.Minute}

// StoreConfig holds the parameters for opening a queue store.
type StoreConfig struct {
	// Path is the filesystem path to the SQLite database file. The
	// containing directory is created and restricted to owner-only
	// access on open.
	Path string

	// PoolSize is the connection pool size. Defaults to 4 if zero or
	// negative.
	PoolSize int

	// Clock provides the current time for scheduling, leases, and
	// token expiry. Required.
	Clock clock.Clock

	// Logger receives operational messages. Required.
	Logger *slog.Logger

	// DefaultMaxAttempts is used when an enqueue does not specify a
	// retry ceiling. Defaults to 3.
	DefaultMaxAttempts int

	// DefaultRetry is used when Fail is called without a policy.
	// Defaults to base 30s, max 5m.
	DefaultRetry RetryPolicy

	// DefaultTokenTTL is used when a token is minted without an
	// explicit TTL. Defaults to 15m.
	DefaultTokenTTL time.Duration
}

// Store is the durable job queue. Safe for concurrent use; all
// mutating operations are atomic with respect to concurrent callers,
// including other processes opening the same file.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
	path   string

	defaultMaxAttempts int
	defaultRetry       RetryPolicy
	defaultTokenTTL    time.Duration
}

// OpenStore opens (creating if necessary) the queue database at
// cfg.Path and applies the schema. The caller must Close the store
// when done.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("queue store: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("queue store: Logger is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("queue store: %w", err)
	}

	store := &Store{
		pool:               pool,
		clock:              cfg.Clock,
		logger:             cfg.Logger,
		path:               cfg.Path,
		defaultMaxAttempts: cfg.DefaultMaxAttempts,
		defaultRetry:       cfg.DefaultRetry,
		defaultTokenTTL:    cfg.DefaultTokenTTL,
	}
	if store.defaultMaxAttempts <= 0 {
		store.defaultMaxAttempts = DefaultMaxAttempts
	}
	if store.defaultRetry == (RetryPolicy{}) {
		store.defaultRetry = DefaultRetry
	}
	if store.defaultTokenTTL <= 0 {
		store.defaultTokenTTL = DefaultTokenTTL
	}

	return store, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// EnqueueRequest describes a job to enqueue.
type EnqueueRequest struct {
	// Kind selects the worker handler. Required, must be known.
	Kind Kind

	// Requester identifies the caller. Required.
	Requester string

	// IdempotencyKey deduplicates: when set and a job already exists
	// for (Requester, IdempotencyKey), that job is returned instead of
	// inserting a new one.
	IdempotencyKey string

	// Payload is kind-specific JSON, stored verbatim. Optional.
	Payload json.RawMessage

	// RunAt is the earliest claim time. Zero means immediately.
	RunAt time.Time

	// MaxAttempts is the retry ceiling. Zero means the store default.
	MaxAttempts int
}

// EnqueueResult reports the outcome of an enqueue.
type EnqueueResult struct {
	JobID   string `json:"jobId"`
	Deduped bool   `json:"deduped"`
}

// Enqueue inserts a new queued job and records its enqueue event, or
// returns the existing job when the idempotency key has been seen
// before. The dedup check and the insert happen in one transaction,
// so two racing enqueues with the same key resolve to one job.
func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResult, error) {
	if !knownKinds[req.Kind] {
		return EnqueueResult{}, fmt.Errorf("%w: unsupported job kind %q", ErrValidation, string(req.Kind))
	}
	if req.Requester == "" {
		return EnqueueResult{}, fmt.Errorf("%w: requester is required", ErrValidation)
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return EnqueueResult{}, fmt.Errorf("%w: payload is not valid JSON", ErrValidation)
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.defaultMaxAttempts
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("queue store: enqueue: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("queue store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	if req.IdempotencyKey != "" {
		var existing string
		err = sqlitex.Execute(conn,
			`SELECT id FROM jobs WHERE requester = ? AND idempotency_key = ?`,
			&sqlitex.ExecOptions{
				Args: []any{req.Requester, req.IdempotencyKey},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					existing = stmt.ColumnText(0)
					return nil
				},
			})
		if err != nil {
			return EnqueueResult{}, fmt.Errorf("queue store: idempotency lookup: %w", err)
		}
		if existing != "" {
			return EnqueueResult{JobID: existing, Deduped: true}, nil
		}
	}

	jobID, err := s.freshJobID(conn)
	if err != nil {
		return EnqueueResult{}, err
	}

	now := s.clock.Now()
	runAt := req.RunAt
	if runAt.IsZero() {
		runAt = now
	}

	var idempotencyKey any
	if req.IdempotencyKey != "" {
		idempotencyKey = req.IdempotencyKey
	}
	var payload any
	if len(req.Payload) > 0 {
		payload = string(req.Payload)
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO jobs
			(id, kind, requester, idempotency_key, payload, status,
			 attempt, max_attempts, run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				jobID, string(req.Kind), req.Requester, idempotencyKey, payload,
				string(StatusQueued), maxAttempts, millis(runAt), millis(now), millis(now),
			},
		})
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("queue store: insert job: %w", err)
	}

	// Enqueue events always record attempt 0; no lease is involved.
	err = s.recordEvent(conn, jobID, EventEnqueue, 0, now, map[string]any{
		"kind": string(req.Kind),
	})
	if err != nil {
		return EnqueueResult{}, err
	}

	return EnqueueResult{JobID: jobID}, nil
}

// freshJobID generates a job identifier that is not already in use.
// With 64 random bits a collision is theoretical, but regeneration is
// cheap and removes the failure mode outright.
func (s *Store) freshJobID(conn *sqlite.Conn) (string, error) {
	for range 5 {
		id := newJobID()
		taken := false
		err := sqlitex.Execute(conn, `SELECT 1 FROM jobs WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				taken = true
				return nil
			},
		})
		if err != nil {
			return "", fmt.Errorf("queue store: id check: %w", err)
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("queue store: could not generate a unique job id")
}

// ClaimNext claims the single oldest eligible job for workerID and
// returns it with the lease applied, or nil when nothing is eligible.
// Eligible means queued with run_at due, or running with an expired
// lease. The latter is a reclaim and increments the attempt counter
// exactly like a fresh claim.
func (s *Store) ClaimNext(ctx context.Context, workerID string, lease time.Duration) (*Job, error) {
	if workerID == "" {
		return nil, fmt.Errorf("%w: workerID is required", ErrValidation)
	}
	if lease <= 0 {
		return nil, fmt.Errorf("%w: lease must be positive", ErrValidation)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue store: claim: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("queue store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	now := s.clock.Now()
	var job *Job
	err = sqlitex.Execute(conn, `
		SELECT `+jobColumns+` FROM jobs
		WHERE (status = ? AND run_at <= ?)
		   OR (status = ? AND lease_expires_at < ?)
		ORDER BY run_at
		LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{string(StatusQueued), millis(now), string(StatusRunning), millis(now)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var scanErr error
				job, scanErr = scanJob(stmt)
				return scanErr
			},
		})
	if err != nil {
		return nil, fmt.Errorf("queue store: claim scan: %w", err)
	}
	if job == nil {
		return nil, nil
	}

	job.Attempt++
	job.Status = StatusRunning
	job.LockedBy = workerID
	expiry := now.Add(lease)
	job.LeaseExpiresAt = &expiry
	job.UpdatedAt = now

	err = sqlitex.Execute(conn, `
		UPDATE jobs
		SET status = ?, attempt = ?, locked_by = ?, lease_expires_at = ?, updated_at = ?
		WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{
				string(StatusRunning), job.Attempt, workerID, millis(expiry), millis(now),
				job.ID,
			},
		})
	if err != nil {
		return nil, fmt.Errorf("queue store: apply lease: %w", err)
	}

	err = s.recordEvent(conn, job.ID, EventClaim, job.Attempt, now, map[string]any{
		"worker": workerID,
	})
	if err != nil {
		return nil, err
	}

	return job, nil
}

// ClaimNextWait behaves like ClaimNext but blocks up to maxWait for a
// job to become eligible, polling at a fixed sub-interval. Returns
// nil when the wait elapses empty. This is the only store operation
// that intentionally suspends; long-poll HTTP callers use it to avoid
// busy-looping.
func (s *Store) ClaimNextWait(ctx context.Context, workerID string, lease, maxWait time.Duration) (*Job, error) {
	deadline := s.clock.Now().Add(maxWait)
	for {
		job, err := s.ClaimNext(ctx, workerID, lease)
		if err != nil || job != nil {
			return job, err
		}

		remaining := deadline.Sub(s.clock.Now())
		if remaining <= 0 {
			return nil, nil
		}
		wait := claimWaitInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.clock.After(wait):
		}
	}
}

// ExtendLease pushes the lease expiry of a running job forward.
// Returns true iff the job is still running and leased by workerID;
// false means the lease was lost (reclaimed, finished, or canceled)
// and the worker should stop incurring side effects.
func (s *Store) ExtendLease(ctx context.Context, jobID, workerID string, leaseUntil time.Time) (bool, error) {
	if workerID == "" {
		return false, fmt.Errorf("%w: workerID is required", ErrValidation)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("queue store: extend lease: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE jobs SET lease_expires_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND locked_by = ?`,
		&sqlitex.ExecOptions{
			Args: []any{
				millis(leaseUntil), millis(s.clock.Now()),
				jobID, string(StatusRunning), workerID,
			},
		})
	if err != nil {
		return false, fmt.Errorf("queue store: extend lease: %w", err)
	}
	return conn.Changes() > 0, nil
}

// Ack completes a job: status done, lease cleared, result stored as
// deterministic CBOR. Returns true iff workerID still held the lease;
// false means the job was reclaimed or is no longer running, and the
// caller's result is discarded.
func (s *Store) Ack(ctx context.Context, jobID, workerID string, result any) (bool, error) {
	if workerID == "" {
		return false, fmt.Errorf("%w: workerID is required", ErrValidation)
	}

	var resultBlob any
	if result != nil {
		encoded, err := codec.Marshal(result)
		if err != nil {
			return false, fmt.Errorf("queue store: encode result: %w", err)
		}
		resultBlob = encoded
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("queue store: ack: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return false, fmt.Errorf("queue store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	attempt, held, err := s.leasedAttempt(conn, jobID, workerID)
	if err != nil {
		return false, err
	}
	if !held {
		return false, nil
	}

	now := s.clock.Now()
	err = sqlitex.Execute(conn, `
		UPDATE jobs
		SET status = ?, locked_by = NULL, lease_expires_at = NULL,
		    result = ?, updated_at = ?
		WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{string(StatusDone), resultBlob, millis(now), jobID},
		})
	if err != nil {
		return false, fmt.Errorf("queue store: ack update: %w", err)
	}

	err = s.recordEvent(conn, jobID, EventAck, attempt, now, map[string]any{
		"worker": workerID,
	})
	if err != nil {
		return false, err
	}

	return true, nil
}

// Fail reports a handler failure. On lease match, the job either goes
// back to queued with run_at pushed out by the retry policy's backoff
// (attempts remaining) or transitions to terminal failed (ceiling
// reached); the updated job is returned either way. A nil return with
// nil error means the lease was lost and nothing was recorded.
func (s *Store) Fail(ctx context.Context, jobID, workerID, failure string, retry *RetryPolicy) (*Job, error) {
	if workerID == "" {
		return nil, fmt.Errorf("%w: workerID is required", ErrValidation)
	}

	policy := s.defaultRetry
	if retry != nil {
		policy = *retry
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue store: fail: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("queue store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	var job *Job
	err = sqlitex.Execute(conn,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ? AND status = ? AND locked_by = ?`,
		&sqlitex.ExecOptions{
			Args: []any{jobID, string(StatusRunning), workerID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var scanErr error
				job, scanErr = scanJob(stmt)
				return scanErr
			},
		})
	if err != nil {
		return nil, fmt.Errorf("queue store: fail scan: %w", err)
	}
	if job == nil {
		return nil, nil
	}

	now := s.clock.Now()
	job.LockedBy = ""
	job.LeaseExpiresAt = nil
	job.LastError = failure
	job.UpdatedAt = now

	rescheduled := job.Attempt < job.MaxAttempts
	if rescheduled {
		job.Status = StatusQueued
		job.RunAt = now.Add(policy.Backoff())
		err = sqlitex.Execute(conn, `
			UPDATE jobs
			SET status = ?, locked_by = NULL, lease_expires_at = NULL,
			    run_at = ?, last_error = ?, updated_at = ?
			WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{string(StatusQueued), millis(job.RunAt), failure, millis(now), jobID},
			})
	} else {
		job.Status = StatusFailed
		err = sqlitex.Execute(conn, `
			UPDATE jobs
			SET status = ?, locked_by = NULL, lease_expires_at = NULL,
			    last_error = ?, updated_at = ?
			WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{string(StatusFailed), failure, millis(now), jobID},
			})
	}
	if err != nil {
		return nil, fmt.Errorf("queue store: fail update: %w", err)
	}

	err = s.recordEvent(conn, jobID, EventFail, job.Attempt, now, map[string]any{
		"worker":      workerID,
		"error":       failure,
		"rescheduled": rescheduled,
	})
	if err != nil {
		return nil, err
	}

	return job, nil
}

// Cancel administratively stops a job. Any non-terminal job flips to
// canceled regardless of lease ownership; a worker mid-execution
// discovers the cancellation when its ack or fail comes back false.
// Canceling a job that is already terminal is a no-op reported as
// success; only a missing job returns false.
func (s *Store) Cancel(ctx context.Context, jobID string) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("queue store: cancel: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return false, fmt.Errorf("queue store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	var status Status
	found := false
	err = sqlitex.Execute(conn, `SELECT status FROM jobs WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{jobID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			status = Status(stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("queue store: cancel lookup: %w", err)
	}
	if !found {
		return false, nil
	}
	if status.Terminal() {
		return true, nil
	}

	now := s.clock.Now()
	err = sqlitex.Execute(conn, `
		UPDATE jobs
		SET status = ?, locked_by = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{string(StatusCanceled), millis(now), jobID},
		})
	if err != nil {
		return false, fmt.Errorf("queue store: cancel update: %w", err)
	}

	// Cancel events record attempt 0: cancellation is administrative
	// and not tied to any lease.
	if err = s.recordEvent(conn, jobID, EventCancel, 0, now, nil); err != nil {
		return false, err
	}

	return true, nil
}

// Get returns the full job row, or nil when no such job exists.
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue store: get: %w", err)
	}
	defer s.pool.Put(conn)

	var job *Job
	err = sqlitex.Execute(conn,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{jobID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var scanErr error
				job, scanErr = scanJob(stmt)
				return scanErr
			},
		})
	if err != nil {
		return nil, fmt.Errorf("queue store: get: %w", err)
	}
	return job, nil
}

// ListFilter narrows List results. Zero values mean "no constraint".
type ListFilter struct {
	Requester string
	Statuses  []Status
	Kinds     []Kind

	// Limit caps the result count. Zero means DefaultListLimit;
	// values above MaxListLimit are clamped.
	Limit int
}

// List returns matching jobs, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	var clauses []string
	var args []any
	if filter.Requester != "" {
		clauses = append(clauses, "requester = ?")
		args = append(args, filter.Requester)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	if len(filter.Kinds) > 0 {
		clauses = append(clauses, "kind IN ("+placeholders(len(filter.Kinds))+")")
		for _, kind := range filter.Kinds {
			args = append(args, string(kind))
		}
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue store: list: %w", err)
	}
	defer s.pool.Put(conn)

	var jobs []Job
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			job, scanErr := scanJob(stmt)
			if scanErr != nil {
				return scanErr
			}
			jobs = append(jobs, *job)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("queue store: list: %w", err)
	}
	return jobs, nil
}

// Events returns a job's audit trail in recording order. An unknown
// job yields an empty trail, not an error; callers that care check
// Get first.
func (s *Store) Events(ctx context.Context, jobID string) ([]Event, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue store: events: %w", err)
	}
	defer s.pool.Put(conn)

	var events []Event
	err = sqlitex.Execute(conn, `
		SELECT job_id, type, attempt, at, details
		FROM job_events WHERE job_id = ? ORDER BY id`,
		&sqlitex.ExecOptions{
			Args: []any{jobID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				event := Event{
					JobID:   stmt.ColumnText(0),
					Type:    EventType(stmt.ColumnText(1)),
					Attempt: stmt.ColumnInt(2),
					At:      fromMillis(stmt.ColumnInt64(3)),
				}
				if stmt.ColumnType(4) != sqlite.TypeNull {
					if err := json.Unmarshal([]byte(stmt.ColumnText(4)), &event.Details); err != nil {
						return fmt.Errorf("queue store: decode event details: %w", err)
					}
				}
				events = append(events, event)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("queue store: events: %w", err)
	}
	return events, nil
}

// Prune deletes terminal jobs (and their event trails) whose last
// update is older than keepDays. Active jobs are never touched.
// Returns the number of jobs deleted.
func (s *Store) Prune(ctx context.Context, keepDays int) (int, error) {
	if keepDays < 1 {
		return 0, fmt.Errorf("%w: keepDays must be at least 1", ErrValidation)
	}
	cutoff := s.clock.Now().Add(-time.Duration(keepDays) * 24 * time.Hour)

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue store: prune: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("queue store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	terminal := []any{
		string(StatusDone), string(StatusFailed), string(StatusCanceled),
		millis(cutoff),
	}

	err = sqlitex.Execute(conn, `
		DELETE FROM job_events WHERE job_id IN (
			SELECT id FROM jobs WHERE status IN (?, ?, ?) AND updated_at < ?
		)`,
		&sqlitex.ExecOptions{Args: terminal})
	if err != nil {
		return 0, fmt.Errorf("queue store: prune events: %w", err)
	}

	err = sqlitex.Execute(conn,
		`DELETE FROM jobs WHERE status IN (?, ?, ?) AND updated_at < ?`,
		&sqlitex.ExecOptions{Args: terminal})
	if err != nil {
		return 0, fmt.Errorf("queue store: prune jobs: %w", err)
	}

	deleted := conn.Changes()
	if deleted > 0 {
		s.logger.Info("pruned terminal jobs", "count", deleted, "keep_days", keepDays)
	}
	return deleted, nil
}

// Stats summarizes queue state for the status endpoint: job counts by
// status, live token count, database size, and free space on the
// filesystem holding the database.
type Stats struct {
	Jobs              map[Status]int64 `json:"jobs"`
	LiveTokens        int64            `json:"liveTokens"`
	DatabaseSizeBytes int64            `json:"databaseSizeBytes"`
	DiskFreeBytes     int64            `json:"diskFreeBytes"`
}

// Stats gathers queue statistics.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("queue store: stats: %w", err)
	}
	defer s.pool.Put(conn)

	stats := Stats{Jobs: make(map[Status]int64)}

	err = sqlitex.Execute(conn, `SELECT status, COUNT(*) FROM jobs GROUP BY status`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			stats.Jobs[Status(stmt.ColumnText(0))] = stmt.ColumnInt64(1)
			return nil
		},
	})
	if err != nil {
		return stats, fmt.Errorf("queue store: job counts: %w", err)
	}

	err = sqlitex.Execute(conn,
		`SELECT COUNT(*) FROM cattle_tokens WHERE used_at IS NULL AND expires_at > ?`,
		&sqlitex.ExecOptions{
			Args: []any{millis(s.clock.Now())},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stats.LiveTokens = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return stats, fmt.Errorf("queue store: token count: %w", err)
	}

	// Database size via page_count * page_size.
	err = sqlitex.Execute(conn,
		"SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stats.DatabaseSizeBytes = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return stats, fmt.Errorf("queue store: database size: %w", err)
	}

	// Free space on the filesystem holding the database. In-memory
	// databases have no meaningful answer; leave zero.
	if s.path != ":memory:" {
		var fsStats unix.Statfs_t
		if err := unix.Statfs(filepath.Dir(s.path), &fsStats); err == nil {
			stats.DiskFreeBytes = int64(fsStats.Bavail) * int64(fsStats.Bsize)
		}
	}

	return stats, nil
}

// leasedAttempt returns the current attempt of a job iff it is running
// and leased by workerID.
func (s *Store) leasedAttempt(conn *sqlite.Conn, jobID, workerID string) (attempt int, held bool, err error) {
	err = sqlitex.Execute(conn,
		`SELECT attempt FROM jobs WHERE id = ? AND status = ? AND locked_by = ?`,
		&sqlitex.ExecOptions{
			Args: []any{jobID, string(StatusRunning), workerID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				attempt = stmt.ColumnInt(0)
				held = true
				return nil
			},
		})
	if err != nil {
		return 0, false, fmt.Errorf("queue store: lease lookup: %w", err)
	}
	return attempt, held, nil
}

// recordEvent appends one audit trail entry inside the caller's
// transaction.
func (s *Store) recordEvent(conn *sqlite.Conn, jobID string, eventType EventType, attempt int, at time.Time, details map[string]any) error {
	var detailsJSON any
	if len(details) > 0 {
		data, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("queue store: marshal event details: %w", err)
		}
		detailsJSON = string(data)
	}

	err := sqlitex.Execute(conn, `
		INSERT INTO job_events (job_id, type, attempt, at, details)
		VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{jobID, string(eventType), attempt, millis(at), detailsJSON},
		})
	if err != nil {
		return fmt.Errorf("queue store: record event: %w", err)
	}
	return nil
}

// jobColumns is the canonical SELECT column list scanJob expects.
const jobColumns = `id, kind, requester, idempotency_key, payload, status,
	attempt, max_attempts, run_at, locked_by, lease_expires_at,
	last_error, result, created_at, updated_at`

// scanJob builds a Job from a row selected with jobColumns.
func scanJob(stmt *sqlite.Stmt) (*Job, error) {
	job := &Job{
		ID:          stmt.ColumnText(0),
		Kind:        Kind(stmt.ColumnText(1)),
		Requester:   stmt.ColumnText(2),
		Status:      Status(stmt.ColumnText(5)),
		Attempt:     stmt.ColumnInt(6),
		MaxAttempts: stmt.ColumnInt(7),
		RunAt:       fromMillis(stmt.ColumnInt64(8)),
		CreatedAt:   fromMillis(stmt.ColumnInt64(13)),
		UpdatedAt:   fromMillis(stmt.ColumnInt64(14)),
	}
	if stmt.ColumnType(3) != sqlite.TypeNull {
		job.IdempotencyKey = stmt.ColumnText(3)
	}
	if stmt.ColumnType(4) != sqlite.TypeNull {
		job.Payload = []byte(stmt.ColumnText(4))
	}
	if stmt.ColumnType(9) != sqlite.TypeNull {
		job.LockedBy = stmt.ColumnText(9)
	}
	if stmt.ColumnType(10) != sqlite.TypeNull {
		expiry := fromMillis(stmt.ColumnInt64(10))
		job.LeaseExpiresAt = &expiry
	}
	if stmt.ColumnType(11) != sqlite.TypeNull {
		job.LastError = stmt.ColumnText(11)
	}
	if stmt.ColumnType(12) != sqlite.TypeNull {
		blob := make([]byte, stmt.ColumnLen(12))
		stmt.ColumnBytes(12, blob)
		if err := codec.Unmarshal(blob, &job.Result); err != nil {
			return nil, fmt.Errorf("queue store: decode result: %w", err)
		}
	}
	return job, nil
}

// placeholders returns "?, ?, ..." with n markers for an IN clause.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// millis converts a time to the Unix-millisecond representation
// stored in the database.
func millis(t time.Time) int64 { return t.UnixMilli() }

// fromMillis converts a stored Unix-millisecond timestamp back to a
// UTC time.
func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
