// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Kind identifies what a job does. The worker dispatches handlers by
// kind; everything else in the queue treats jobs uniformly.
type Kind string

// The job kinds the platform executes. New kinds extend this list;
// the parse step (not the execution step) rejects anything unknown so
// a typo fails at enqueue time instead of sitting queued forever.
const (
	KindCattleSpawn Kind = "cattle.spawn"
	KindCattleReap  Kind = "cattle.reap"
)

// knownKinds is the set ParseKind accepts.
var knownKinds = map[Kind]bool{
	KindCattleSpawn: true,
	KindCattleReap:  true,
}

// ParseKind validates a kind string from external input.
func ParseKind(s string) (Kind, error) {
	kind := Kind(s)
	if !knownKinds[kind] {
		return "", fmt.Errorf("%w: unsupported job kind %q", ErrValidation, s)
	}
	return kind, nil
}

// Status is a job's position in its lifecycle.
type Status string

// Job statuses. Queued jobs wait for a worker; running jobs are held
// under lease; done, failed, and canceled are terminal.
const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// Terminal reports whether a job in this status will never run again.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// ParseStatus validates a status string from external input (list
// filters, CLI flags).
func ParseStatus(s string) (Status, error) {
	switch status := Status(s); status {
	case StatusQueued, StatusRunning, StatusDone, StatusFailed, StatusCanceled:
		return status, nil
	}
	return "", fmt.Errorf("%w: unknown job status %q", ErrValidation, s)
}

// ErrValidation tags errors caused by invalid caller input: empty
// identifiers, unknown kinds, malformed environment variable names.
// These indicate a caller bug and fail loudly; expected races (lease
// mismatch, duplicate redemption) never carry this error; they are
// reported through false/nil returns instead.
var ErrValidation = errors.New("invalid input")

// Job is one unit of scheduled work.
type Job struct {
	// ID is the opaque job identifier, generated at enqueue time.
	ID string `json:"jobId"`

	// Kind selects the worker handler.
	Kind Kind `json:"kind"`

	// Requester is the free-text identity of whoever enqueued the job.
	// Used for listing, filtering, and token scoping.
	Requester string `json:"requester"`

	// IdempotencyKey deduplicates enqueues: a second enqueue with the
	// same (requester, idempotencyKey) returns this job instead of
	// creating a new one. Empty means no deduplication.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`

	// Payload is the kind-specific request data, stored verbatim as
	// JSON. The queue never interprets it.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Status is the current lifecycle position.
	Status Status `json:"status"`

	// Attempt counts claims made so far: 0 before the first claim.
	Attempt int `json:"attempt"`

	// MaxAttempts is the retry ceiling. A failure at
	// Attempt >= MaxAttempts is terminal.
	MaxAttempts int `json:"maxAttempts"`

	// RunAt is the earliest time the job may be claimed. Enqueue sets
	// it for initial scheduling; Fail pushes it forward for backoff.
	RunAt time.Time `json:"runAt"`

	// LockedBy and LeaseExpiresAt identify the current lease holder.
	// Both are unset whenever the job is not running.
	LockedBy       string     `json:"lockedBy,omitempty"`
	LeaseExpiresAt *time.Time `json:"leaseExpiresAt,omitempty"`

	// LastError is the most recent failure message. Retained after a
	// terminal failure so operators can see why.
	LastError string `json:"lastError,omitempty"`

	// CreatedAt and UpdatedAt are lifecycle timestamps.
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Result is the kind-specific success payload recorded by Ack,
	// decoded from its stored form. Nil until the job is done.
	Result map[string]any `json:"result,omitempty"`
}

// Leased reports whether worker currently holds the job: status
// running, matching lease holder, lease not expired at now.
func (j *Job) Leased(worker string, now time.Time) bool {
	return j.Status == StatusRunning && j.LockedBy == worker &&
		j.LeaseExpiresAt != nil && j.LeaseExpiresAt.After(now)
}

// EventType classifies entries in a job's audit trail.
type EventType string

// The transitions recorded in the audit trail.
const (
	EventEnqueue EventType = "enqueue"
	EventClaim   EventType = "claim"
	EventAck     EventType = "ack"
	EventFail    EventType = "fail"
	EventCancel  EventType = "cancel"
)

// Event is one append-only audit trail entry. Events are written in
// the same transaction as the transition they record and never mutated
// afterwards; only pruning a terminal job removes them.
type Event struct {
	JobID string    `json:"jobId"`
	Type  EventType `json:"type"`

	// Attempt is the attempt number active at the transition. Enqueue
	// and cancel always record 0; they are not tied to a lease.
	Attempt int       `json:"attempt"`
	At      time.Time `json:"at"`

	// Details carries small transition-specific context (worker id,
	// error message). Never secrets.
	Details map[string]any `json:"details,omitempty"`
}

// RetryPolicy bounds the delay before a failed attempt becomes
// claimable again. The delay is min(Max, Base) for every attempt;
// a fixed, predictable cadence rather than exponential growth, so a
// provider outage is retried at a steady rate and the ceiling is
// always respected.
type RetryPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// Backoff returns the delay applied after a failed attempt. The
// result is deterministic given the policy; the attempt number does
// not change it.
func (r RetryPolicy) Backoff() time.Duration {
	return min(r.Max, r.Base)
}

// envKeyPattern matches well-formed environment variable identifiers.
// Applied to every stored env key name, and re-applied at redemption
// time as defense in depth.
var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidEnvKey reports whether name is a well-formed environment
// variable identifier.
func ValidEnvKey(name string) bool {
	return envKeyPattern.MatchString(name)
}

// newJobID returns a fresh job identifier: "job-" followed by 16 hex
// characters (64 random bits).
func newJobID() string {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		// crypto/rand never fails on supported platforms.
		panic("queue: reading random bytes: " + err.Error())
	}
	return "job-" + hex.EncodeToString(raw[:])
}
