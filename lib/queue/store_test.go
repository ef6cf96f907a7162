// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/regenrek/moltlets-sub007/lib/clock"
)

// testEpoch is an arbitrary fixed start time for the fake clock.
var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) (*Store, *clock.FakeClock) {
	t.Helper()
	fakeClock := clock.Fake(testEpoch)
	store, err := OpenStore(StoreConfig{
		Path:   filepath.Join(t.TempDir(), "queue.db"),
		Clock:  fakeClock,
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store, fakeClock
}

func mustEnqueue(t *testing.T, store *Store, req EnqueueRequest) string {
	t.Helper()
	if req.Kind == "" {
		req.Kind = KindCattleSpawn
	}
	if req.Requester == "" {
		req.Requester = "tester"
	}
	result, err := store.Enqueue(context.Background(), req)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return result.JobID
}

func mustClaim(t *testing.T, store *Store, workerID string, lease time.Duration) *Job {
	t.Helper()
	job, err := store.ClaimNext(context.Background(), workerID, lease)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if job == nil {
		t.Fatal("ClaimNext returned no job, want one")
	}
	return job
}

func TestOpenStoreRequiresClockAndLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	_, err := OpenStore(StoreConfig{Path: path, Logger: slog.New(slog.DiscardHandler)})
	if err == nil || !strings.Contains(err.Error(), "Clock") {
		t.Errorf("missing clock: got %v, want Clock error", err)
	}
	_, err = OpenStore(StoreConfig{Path: path, Clock: clock.Fake(testEpoch)})
	if err == nil || !strings.Contains(err.Error(), "Logger") {
		t.Errorf("missing logger: got %v, want Logger error", err)
	}
}

func TestEnqueueAndGet(t *testing.T) {
	store, fakeClock := openTestStore(t)
	ctx := context.Background()

	result, err := store.Enqueue(ctx, EnqueueRequest{
		Kind:      KindCattleSpawn,
		Requester: "alice",
		Payload:   []byte(`{"persona":"reviewer"}`),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if result.Deduped {
		t.Error("fresh enqueue reported deduped")
	}
	if !strings.HasPrefix(result.JobID, "job-") {
		t.Errorf("job id %q does not carry the job- prefix", result.JobID)
	}

	job, err := store.Get(ctx, result.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job == nil {
		t.Fatal("Get returned nil for a job that was just enqueued")
	}
	if job.Status != StatusQueued {
		t.Errorf("status = %q, want %q", job.Status, StatusQueued)
	}
	if job.Attempt != 0 {
		t.Errorf("attempt = %d, want 0", job.Attempt)
	}
	if job.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("maxAttempts = %d, want default %d", job.MaxAttempts, DefaultMaxAttempts)
	}
	if string(job.Payload) != `{"persona":"reviewer"}` {
		t.Errorf("payload = %q, want original JSON", job.Payload)
	}
	if !job.RunAt.Equal(fakeClock.Now()) {
		t.Errorf("runAt = %v, want enqueue time %v", job.RunAt, fakeClock.Now())
	}
	if job.LockedBy != "" || job.LeaseExpiresAt != nil {
		t.Errorf("fresh job carries lease state: lockedBy=%q leaseExpiresAt=%v",
			job.LockedBy, job.LeaseExpiresAt)
	}
}

func TestGetMissing(t *testing.T) {
	store, _ := openTestStore(t)
	job, err := store.Get(context.Background(), "job-0000000000000000")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job != nil {
		t.Errorf("Get returned %+v for a missing job, want nil", job)
	}
}

func TestEnqueueValidation(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  EnqueueRequest
	}{
		{"unknown kind", EnqueueRequest{Kind: "cattle.explode", Requester: "alice"}},
		{"empty requester", EnqueueRequest{Kind: KindCattleSpawn}},
		{"malformed payload", EnqueueRequest{Kind: KindCattleSpawn, Requester: "alice", Payload: []byte(`{`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Enqueue(ctx, tt.req)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Enqueue error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestEnqueueIdempotency(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	first, err := store.Enqueue(ctx, EnqueueRequest{
		Kind: KindCattleSpawn, Requester: "alice", IdempotencyKey: "spawn-1",
	})
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	second, err := store.Enqueue(ctx, EnqueueRequest{
		Kind: KindCattleSpawn, Requester: "alice", IdempotencyKey: "spawn-1",
	})
	if err != nil {
		t.Fatalf("duplicate enqueue: %v", err)
	}
	if !second.Deduped {
		t.Error("duplicate enqueue not reported as deduped")
	}
	if second.JobID != first.JobID {
		t.Errorf("duplicate enqueue returned %q, want original %q", second.JobID, first.JobID)
	}

	// The same key under a different requester is a different job.
	other, err := store.Enqueue(ctx, EnqueueRequest{
		Kind: KindCattleSpawn, Requester: "bob", IdempotencyKey: "spawn-1",
	})
	if err != nil {
		t.Fatalf("other requester enqueue: %v", err)
	}
	if other.Deduped || other.JobID == first.JobID {
		t.Errorf("idempotency key deduped across requesters: %+v", other)
	}

	// Jobs without a key never collide.
	plainA := mustEnqueue(t, store, EnqueueRequest{Requester: "alice"})
	plainB := mustEnqueue(t, store, EnqueueRequest{Requester: "alice"})
	if plainA == plainB {
		t.Error("keyless enqueues returned the same job")
	}
}

func TestEnqueueIdempotencySurvivesCompletion(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	jobID := mustEnqueue(t, store, EnqueueRequest{Requester: "alice", IdempotencyKey: "once"})
	claimed := mustClaim(t, store, "w1", time.Minute)
	if _, err := store.Ack(ctx, claimed.ID, "w1", nil); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	// Dedup applies regardless of job status: done jobs still dedup.
	again, err := store.Enqueue(ctx, EnqueueRequest{
		Kind: KindCattleSpawn, Requester: "alice", IdempotencyKey: "once",
	})
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if !again.Deduped || again.JobID != jobID {
		t.Errorf("re-enqueue after completion = %+v, want dedup to %q", again, jobID)
	}
}

func TestClaimOrderOldestRunAtFirst(t *testing.T) {
	store, fakeClock := openTestStore(t)

	late := mustEnqueue(t, store, EnqueueRequest{
		Requester: "alice", RunAt: fakeClock.Now().Add(-time.Minute),
	})
	early := mustEnqueue(t, store, EnqueueRequest{
		Requester: "alice", RunAt: fakeClock.Now().Add(-time.Hour),
	})

	first := mustClaim(t, store, "w1", time.Minute)
	if first.ID != early {
		t.Errorf("first claim = %q, want oldest run_at %q", first.ID, early)
	}
	second := mustClaim(t, store, "w2", time.Minute)
	if second.ID != late {
		t.Errorf("second claim = %q, want %q", second.ID, late)
	}
}

func TestClaimRespectsRunAt(t *testing.T) {
	store, fakeClock := openTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, store, EnqueueRequest{
		Requester: "alice", RunAt: fakeClock.Now().Add(10 * time.Minute),
	})

	job, err := store.ClaimNext(ctx, "w1", time.Minute)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if job != nil {
		t.Fatalf("claimed %q before its run_at", job.ID)
	}

	fakeClock.Advance(10 * time.Minute)
	if job = mustClaim(t, store, "w1", time.Minute); job == nil {
		t.Fatal("job not claimable once run_at passed")
	}
}

func TestClaimAppliesLease(t *testing.T) {
	store, fakeClock := openTestStore(t)

	jobID := mustEnqueue(t, store, EnqueueRequest{Requester: "alice"})
	job := mustClaim(t, store, "w1", time.Minute)

	if job.ID != jobID {
		t.Errorf("claimed %q, want %q", job.ID, jobID)
	}
	if job.Status != StatusRunning {
		t.Errorf("status = %q, want %q", job.Status, StatusRunning)
	}
	if job.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", job.Attempt)
	}
	if job.LockedBy != "w1" {
		t.Errorf("lockedBy = %q, want w1", job.LockedBy)
	}
	wantExpiry := fakeClock.Now().Add(time.Minute)
	if job.LeaseExpiresAt == nil || !job.LeaseExpiresAt.Equal(wantExpiry) {
		t.Errorf("leaseExpiresAt = %v, want %v", job.LeaseExpiresAt, wantExpiry)
	}

	// The lease is persisted, not just reported.
	stored, err := store.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !stored.Leased("w1", fakeClock.Now()) {
		t.Errorf("stored job not leased by w1: %+v", stored)
	}
}

func TestClaimSkipsLeasedJobs(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, store, EnqueueRequest{Requester: "alice"})
	mustClaim(t, store, "w1", time.Minute)

	job, err := store.ClaimNext(ctx, "w2", time.Minute)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if job != nil {
		t.Errorf("second worker claimed %q while the lease was live", job.ID)
	}
}

func TestClaimValidation(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if _, err := store.ClaimNext(ctx, "", time.Minute); !errors.Is(err, ErrValidation) {
		t.Errorf("empty worker: err = %v, want ErrValidation", err)
	}
	if _, err := store.ClaimNext(ctx, "w1", 0); !errors.Is(err, ErrValidation) {
		t.Errorf("zero lease: err = %v, want ErrValidation", err)
	}
}

func TestExpiredLeaseReclaim(t *testing.T) {
	store, fakeClock := openTestStore(t)
	ctx := context.Background()

	jobID := mustEnqueue(t, store, EnqueueRequest{Requester: "alice"})
	mustClaim(t, store, "w1", time.Minute)

	// While the lease holds, nothing is claimable.
	if job, _ := store.ClaimNext(ctx, "w2", time.Minute); job != nil {
		t.Fatalf("claimed %q under a live lease", job.ID)
	}

	fakeClock.Advance(time.Minute + time.Second)

	reclaimed := mustClaim(t, store, "w2", time.Minute)
	if reclaimed.ID != jobID {
		t.Fatalf("reclaimed %q, want %q", reclaimed.ID, jobID)
	}
	if reclaimed.Attempt != 2 {
		t.Errorf("reclaim attempt = %d, want 2", reclaimed.Attempt)
	}
	if reclaimed.LockedBy != "w2" {
		t.Errorf("reclaim lockedBy = %q, want w2", reclaimed.LockedBy)
	}

	// The dead worker's completions are now rejected.
	acked, err := store.Ack(ctx, jobID, "w1", nil)
	if err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if acked {
		t.Error("stale worker's ack was accepted after reclaim")
	}
	failed, err := store.Fail(ctx, jobID, "w1", "boom", nil)
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if failed != nil {
		t.Error("stale worker's fail was accepted after reclaim")
	}
}

func TestExtendLease(t *testing.T) {
	store, fakeClock := openTestStore(t)
	ctx := context.Background()

	jobID := mustEnqueue(t, store, EnqueueRequest{Requester: "alice"})
	mustClaim(t, store, "w1", time.Minute)

	newExpiry := fakeClock.Now().Add(5 * time.Minute)
	extended, err := store.ExtendLease(ctx, jobID, "w1", newExpiry)
	if err != nil {
		t.Fatalf("ExtendLease: %v", err)
	}
	if !extended {
		t.Fatal("lease holder could not extend its own lease")
	}

	job, err := store.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.LeaseExpiresAt == nil || !job.LeaseExpiresAt.Equal(newExpiry) {
		t.Errorf("leaseExpiresAt = %v, want %v", job.LeaseExpiresAt, newExpiry)
	}

	// A worker that does not hold the lease cannot extend it.
	extended, err = store.ExtendLease(ctx, jobID, "w2", newExpiry.Add(time.Hour))
	if err != nil {
		t.Fatalf("ExtendLease: %v", err)
	}
	if extended {
		t.Error("non-holder extended someone else's lease")
	}

	// Nor can anyone extend a job that is not running.
	if _, err := store.Ack(ctx, jobID, "w1", nil); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	extended, err = store.ExtendLease(ctx, jobID, "w1", newExpiry.Add(time.Hour))
	if err != nil {
		t.Fatalf("ExtendLease: %v", err)
	}
	if extended {
		t.Error("extended the lease of a done job")
	}
}

func TestAckStoresResult(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	jobID := mustEnqueue(t, store, EnqueueRequest{Requester: "alice"})
	mustClaim(t, store, "w1", time.Minute)

	acked, err := store.Ack(ctx, jobID, "w1", map[string]any{
		"cattleName": "molt-cow-a1b2",
		"serverId":   "1234567",
	})
	if err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if !acked {
		t.Fatal("lease holder's ack rejected")
	}

	job, err := store.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != StatusDone {
		t.Errorf("status = %q, want %q", job.Status, StatusDone)
	}
	if job.LockedBy != "" || job.LeaseExpiresAt != nil {
		t.Errorf("lease not cleared on ack: lockedBy=%q leaseExpiresAt=%v",
			job.LockedBy, job.LeaseExpiresAt)
	}
	if got := job.Result["cattleName"]; got != "molt-cow-a1b2" {
		t.Errorf("result cattleName = %v, want molt-cow-a1b2", got)
	}
	if got := job.Result["serverId"]; got != "1234567" {
		t.Errorf("result serverId = %v, want 1234567", got)
	}
}

func TestAckWithoutLease(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	jobID := mustEnqueue(t, store, EnqueueRequest{Requester: "alice"})

	// Never claimed.
	acked, err := store.Ack(ctx, jobID, "w1", nil)
	if err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if acked {
		t.Error("ack accepted for a job that was never claimed")
	}

	// Claimed by someone else.
	mustClaim(t, store, "w1", time.Minute)
	acked, err = store.Ack(ctx, jobID, "w2", nil)
	if err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if acked {
		t.Error("ack accepted from a worker that does not hold the lease")
	}
}

func TestFailReschedulesWithBackoff(t *testing.T) {
	store, fakeClock := openTestStore(t)
	ctx := context.Background()

	jobID := mustEnqueue(t, store, EnqueueRequest{Requester: "alice", MaxAttempts: 3})
	mustClaim(t, store, "w1", time.Minute)

	retry := &RetryPolicy{Base: 30 * time.Second, Max: 5 * time.Minute}
	job, err := store.Fail(ctx, jobID, "w1", "provider timeout", retry)
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if job == nil {
		t.Fatal("Fail returned nil for the lease holder")
	}
	if job.Status != StatusQueued {
		t.Errorf("status after first failure = %q, want %q", job.Status, StatusQueued)
	}
	if job.LastError != "provider timeout" {
		t.Errorf("lastError = %q, want the failure message", job.LastError)
	}
	wantRunAt := fakeClock.Now().Add(30 * time.Second)
	if !job.RunAt.Equal(wantRunAt) {
		t.Errorf("runAt = %v, want now+base %v", job.RunAt, wantRunAt)
	}
	if job.LockedBy != "" || job.LeaseExpiresAt != nil {
		t.Errorf("lease not cleared on failure: %+v", job)
	}

	// Not claimable until the backoff elapses.
	if job, _ := store.ClaimNext(ctx, "w1", time.Minute); job != nil {
		t.Fatalf("claimed %q during backoff", job.ID)
	}
	fakeClock.Advance(30 * time.Second)
	if got := mustClaim(t, store, "w1", time.Minute); got.Attempt != 2 {
		t.Errorf("retry attempt = %d, want 2", got.Attempt)
	}
}

func TestFailBackoffIsSmallerOfBaseAndMax(t *testing.T) {
	store, fakeClock := openTestStore(t)
	ctx := context.Background()

	// A base above the cap is clamped to the cap.
	jobID := mustEnqueue(t, store, EnqueueRequest{Requester: "alice"})
	mustClaim(t, store, "w1", time.Minute)
	job, err := store.Fail(ctx, jobID, "w1", "x", &RetryPolicy{Base: 10 * time.Minute, Max: time.Minute})
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if want := fakeClock.Now().Add(time.Minute); !job.RunAt.Equal(want) {
		t.Errorf("clamped backoff runAt = %v, want %v", job.RunAt, want)
	}
}

func TestFailExhaustsAttempts(t *testing.T) {
	store, fakeClock := openTestStore(t)
	ctx := context.Background()

	jobID := mustEnqueue(t, store, EnqueueRequest{Requester: "alice", MaxAttempts: 2})
	retry := &RetryPolicy{Base: time.Second, Max: time.Second}

	// Attempt 1 fails: rescheduled.
	mustClaim(t, store, "w1", time.Minute)
	job, err := store.Fail(ctx, jobID, "w1", "first", retry)
	if err != nil {
		t.Fatalf("Fail #1: %v", err)
	}
	if job.Status != StatusQueued {
		t.Fatalf("status after attempt 1 = %q, want queued", job.Status)
	}

	// Attempt 2 fails: ceiling reached, terminal.
	fakeClock.Advance(time.Second)
	mustClaim(t, store, "w1", time.Minute)
	job, err = store.Fail(ctx, jobID, "w1", "second", retry)
	if err != nil {
		t.Fatalf("Fail #2: %v", err)
	}
	if job.Status != StatusFailed {
		t.Errorf("status after final attempt = %q, want %q", job.Status, StatusFailed)
	}
	if job.LastError != "second" {
		t.Errorf("lastError = %q, want the final failure", job.LastError)
	}

	// Terminal jobs are never claimable.
	fakeClock.Advance(time.Hour)
	if job, _ := store.ClaimNext(ctx, "w1", time.Minute); job != nil {
		t.Errorf("claimed terminally failed job %q", job.ID)
	}
}

func TestCancel(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	jobID := mustEnqueue(t, store, EnqueueRequest{Requester: "alice"})

	canceled, err := store.Cancel(ctx, jobID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !canceled {
		t.Fatal("cancel of a queued job returned false")
	}
	job, err := store.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != StatusCanceled {
		t.Errorf("status = %q, want %q", job.Status, StatusCanceled)
	}

	// Canceling an already-terminal job succeeds without changing it.
	canceled, err = store.Cancel(ctx, jobID)
	if err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if !canceled {
		t.Error("cancel of a terminal job returned false")
	}

	// Only a missing job reports false.
	canceled, err = store.Cancel(ctx, "job-ffffffffffffffff")
	if err != nil {
		t.Fatalf("Cancel missing: %v", err)
	}
	if canceled {
		t.Error("cancel of a missing job returned true")
	}
}

func TestCancelRunningJobOverridesLease(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	jobID := mustEnqueue(t, store, EnqueueRequest{Requester: "alice"})
	mustClaim(t, store, "w1", time.Hour)

	canceled, err := store.Cancel(ctx, jobID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !canceled {
		t.Fatal("cancel of a running job returned false")
	}

	// The worker discovers the cancellation when its completion is
	// rejected.
	acked, err := store.Ack(ctx, jobID, "w1", nil)
	if err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if acked {
		t.Error("ack accepted after cancellation")
	}
	job, err := store.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != StatusCanceled {
		t.Errorf("status = %q, want canceled to stick", job.Status)
	}
}

func TestList(t *testing.T) {
	store, fakeClock := openTestStore(t)
	ctx := context.Background()

	aliceSpawn := mustEnqueue(t, store, EnqueueRequest{Requester: "alice", Kind: KindCattleSpawn})
	fakeClock.Advance(time.Second)
	bobSpawn := mustEnqueue(t, store, EnqueueRequest{Requester: "bob", Kind: KindCattleSpawn})
	fakeClock.Advance(time.Second)
	aliceReap := mustEnqueue(t, store, EnqueueRequest{Requester: "alice", Kind: KindCattleReap})

	all, err := store.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
	// Newest first.
	if all[0].ID != aliceReap || all[1].ID != bobSpawn || all[2].ID != aliceSpawn {
		t.Errorf("order = [%s %s %s], want newest first", all[0].ID, all[1].ID, all[2].ID)
	}

	alice, err := store.List(ctx, ListFilter{Requester: "alice"})
	if err != nil {
		t.Fatalf("List by requester: %v", err)
	}
	if len(alice) != 2 {
		t.Errorf("len(alice) = %d, want 2", len(alice))
	}
	for _, job := range alice {
		if job.Requester != "alice" {
			t.Errorf("requester filter leaked job %q from %q", job.ID, job.Requester)
		}
	}

	reaps, err := store.List(ctx, ListFilter{Kinds: []Kind{KindCattleReap}})
	if err != nil {
		t.Fatalf("List by kind: %v", err)
	}
	if len(reaps) != 1 || reaps[0].ID != aliceReap {
		t.Errorf("kind filter = %+v, want just %s", reaps, aliceReap)
	}

	// The claim takes the oldest run_at, which is aliceSpawn.
	mustClaim(t, store, "w1", time.Minute)
	running, err := store.List(ctx, ListFilter{Statuses: []Status{StatusRunning}})
	if err != nil {
		t.Fatalf("List by status: %v", err)
	}
	if len(running) != 1 || running[0].ID != aliceSpawn {
		t.Errorf("status filter = %+v, want just %s", running, aliceSpawn)
	}

	limited, err := store.List(ctx, ListFilter{Limit: 2})
	if err != nil {
		t.Fatalf("List with limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("len(limited) = %d, want 2", len(limited))
	}
}

func TestEventTrail(t *testing.T) {
	store, fakeClock := openTestStore(t)
	ctx := context.Background()

	jobID := mustEnqueue(t, store, EnqueueRequest{Requester: "alice", MaxAttempts: 3})
	mustClaim(t, store, "w1", time.Minute)
	if _, err := store.Fail(ctx, jobID, "w1", "flaky", &RetryPolicy{Base: time.Second, Max: time.Second}); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	fakeClock.Advance(time.Second)
	mustClaim(t, store, "w2", time.Minute)
	if _, err := store.Ack(ctx, jobID, "w2", nil); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	events, err := store.Events(ctx, jobID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}

	want := []struct {
		eventType EventType
		attempt   int
	}{
		{EventEnqueue, 0},
		{EventClaim, 1},
		{EventFail, 1},
		{EventClaim, 2},
		{EventAck, 2},
	}
	if len(events) != len(want) {
		t.Fatalf("len(events) = %d, want %d: %+v", len(events), len(want), events)
	}
	for i, w := range want {
		if events[i].Type != w.eventType || events[i].Attempt != w.attempt {
			t.Errorf("events[%d] = %s@%d, want %s@%d",
				i, events[i].Type, events[i].Attempt, w.eventType, w.attempt)
		}
	}

	// Worker attribution lands in the claim details.
	if got := events[1].Details["worker"]; got != "w1" {
		t.Errorf("claim details worker = %v, want w1", got)
	}
	if got := events[3].Details["worker"]; got != "w2" {
		t.Errorf("second claim details worker = %v, want w2", got)
	}
	if got := events[2].Details["error"]; got != "flaky" {
		t.Errorf("fail details error = %v, want flaky", got)
	}
}

func TestPrune(t *testing.T) {
	store, fakeClock := openTestStore(t)
	ctx := context.Background()

	// One job finishes now; it will age past the retention window.
	oldDone := mustEnqueue(t, store, EnqueueRequest{Requester: "alice"})
	mustClaim(t, store, "w1", time.Minute)
	if _, err := store.Ack(ctx, oldDone, "w1", nil); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	// Another stays queued the whole time. Age never matters for
	// non-terminal jobs.
	oldQueued := mustEnqueue(t, store, EnqueueRequest{
		Requester: "alice", RunAt: fakeClock.Now().Add(90 * 24 * time.Hour),
	})

	fakeClock.Advance(30 * 24 * time.Hour)

	// A job that finished recently stays.
	freshDone := mustEnqueue(t, store, EnqueueRequest{Requester: "bob"})
	mustClaim(t, store, "w1", time.Minute)
	if _, err := store.Ack(ctx, freshDone, "w1", nil); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	deleted, err := store.Prune(ctx, 14)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if job, _ := store.Get(ctx, oldDone); job != nil {
		t.Errorf("aged-out terminal job %q survived the prune", oldDone)
	}
	if job, _ := store.Get(ctx, oldQueued); job == nil {
		t.Errorf("queued job %q was pruned despite being active", oldQueued)
	}
	if job, _ := store.Get(ctx, freshDone); job == nil {
		t.Errorf("recently finished job %q was pruned", freshDone)
	}

	// The pruned job's events went with it.
	events, err := store.Events(ctx, oldDone)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("pruned job left %d events behind", len(events))
	}

	if _, err := store.Prune(ctx, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("Prune(0) err = %v, want ErrValidation", err)
	}
}

func TestClaimNextWaitImmediate(t *testing.T) {
	store, _ := openTestStore(t)

	mustEnqueue(t, store, EnqueueRequest{Requester: "alice"})
	job, err := store.ClaimNextWait(context.Background(), "w1", time.Minute, time.Second)
	if err != nil {
		t.Fatalf("ClaimNextWait: %v", err)
	}
	if job == nil {
		t.Fatal("ClaimNextWait returned nil with a due job waiting")
	}
}

func TestClaimNextWaitZeroMaxWait(t *testing.T) {
	store, _ := openTestStore(t)

	job, err := store.ClaimNextWait(context.Background(), "w1", time.Minute, 0)
	if err != nil {
		t.Fatalf("ClaimNextWait: %v", err)
	}
	if job != nil {
		t.Errorf("empty queue returned job %q", job.ID)
	}
}

func TestClaimNextWaitPicksUpMidWait(t *testing.T) {
	store, fakeClock := openTestStore(t)

	// Due exactly one poll interval from now.
	jobID := mustEnqueue(t, store, EnqueueRequest{
		Requester: "alice", RunAt: fakeClock.Now().Add(claimWaitInterval),
	})

	type outcome struct {
		job *Job
		err error
	}
	results := make(chan outcome, 1)
	go func() {
		job, err := store.ClaimNextWait(context.Background(), "w1", time.Minute, 2*time.Second)
		results <- outcome{job, err}
	}()

	// The goroutine misses once, registers its poll timer, and claims
	// after the advance makes the job due.
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(claimWaitInterval)

	result := <-results
	if result.err != nil {
		t.Fatalf("ClaimNextWait: %v", result.err)
	}
	if result.job == nil || result.job.ID != jobID {
		t.Fatalf("ClaimNextWait = %+v, want job %s", result.job, jobID)
	}
}

func TestClaimNextWaitTimesOut(t *testing.T) {
	store, fakeClock := openTestStore(t)

	type outcome struct {
		job *Job
		err error
	}
	results := make(chan outcome, 1)
	go func() {
		job, err := store.ClaimNextWait(context.Background(), "w1", time.Minute, 2*claimWaitInterval)
		results <- outcome{job, err}
	}()

	fakeClock.WaitForTimers(1)
	fakeClock.Advance(claimWaitInterval)
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(claimWaitInterval)

	result := <-results
	if result.err != nil {
		t.Fatalf("ClaimNextWait: %v", result.err)
	}
	if result.job != nil {
		t.Errorf("ClaimNextWait = %+v, want nil after the wait elapsed", result.job)
	}
}

func TestClaimNextWaitHonorsContext(t *testing.T) {
	store, fakeClock := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	results := make(chan error, 1)
	go func() {
		_, err := store.ClaimNextWait(ctx, "w1", time.Minute, time.Hour)
		results <- err
	}()

	fakeClock.WaitForTimers(1)
	cancel()

	if err := <-results; !errors.Is(err, context.Canceled) {
		t.Errorf("ClaimNextWait err = %v, want context.Canceled", err)
	}
}

func TestStats(t *testing.T) {
	store, fakeClock := openTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, store, EnqueueRequest{Requester: "alice"})
	mustEnqueue(t, store, EnqueueRequest{Requester: "alice"})
	done := mustEnqueue(t, store, EnqueueRequest{Requester: "bob"})
	mustClaim(t, store, "w1", time.Minute) // claims one of alice's
	if _, err := store.Cancel(ctx, done); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := store.CreateCattleBootstrapToken(ctx, TokenRequest{
		JobID: "job-0000000000000001", Requester: "alice", CattleName: "molt-cow-1",
		EnvKeys: []string{"ANTHROPIC_API_KEY"},
	}); err != nil {
		t.Fatalf("CreateCattleBootstrapToken: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if got := stats.Jobs[StatusQueued]; got != 1 {
		t.Errorf("queued count = %d, want 1", got)
	}
	if got := stats.Jobs[StatusRunning]; got != 1 {
		t.Errorf("running count = %d, want 1", got)
	}
	if got := stats.Jobs[StatusCanceled]; got != 1 {
		t.Errorf("canceled count = %d, want 1", got)
	}
	if stats.LiveTokens != 1 {
		t.Errorf("liveTokens = %d, want 1", stats.LiveTokens)
	}
	if stats.DatabaseSizeBytes <= 0 {
		t.Errorf("databaseSizeBytes = %d, want positive", stats.DatabaseSizeBytes)
	}
	if stats.DiskFreeBytes <= 0 {
		t.Errorf("diskFreeBytes = %d, want positive", stats.DiskFreeBytes)
	}

	// Expired tokens drop out of the live count.
	fakeClock.Advance(24 * time.Hour)
	stats, err = store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats after expiry: %v", err)
	}
	if stats.LiveTokens != 0 {
		t.Errorf("liveTokens after expiry = %d, want 0", stats.LiveTokens)
	}
}
