// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func TestFakeNowAdvance(t *testing.T) {
	fake := Fake(testEpoch)
	if got := fake.Now(); !got.Equal(testEpoch) {
		t.Fatalf("Now() = %v, want %v", got, testEpoch)
	}

	fake.Advance(90 * time.Second)
	want := testEpoch.Add(90 * time.Second)
	if got := fake.Now(); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeAfterFiresAtDeadline(t *testing.T) {
	fake := Fake(testEpoch)
	ch := fake.After(10 * time.Second)

	fake.Advance(9 * time.Second)
	select {
	case fired := <-ch:
		t.Fatalf("After fired early at %v", fired)
	default:
	}

	fake.Advance(time.Second)
	select {
	case fired := <-ch:
		if want := testEpoch.Add(10 * time.Second); !fired.Equal(want) {
			t.Errorf("fire time = %v, want %v", fired, want)
		}
	default:
		t.Fatal("After did not fire at deadline")
	}
}

func TestFakeAfterImmediateForNonPositive(t *testing.T) {
	fake := Fake(testEpoch)
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) should receive immediately")
	}
	if count := fake.PendingCount(); count != 0 {
		t.Errorf("PendingCount = %d, want 0", count)
	}
}

func TestFakeTickerMultipleIntervals(t *testing.T) {
	fake := Fake(testEpoch)
	ticker := fake.NewTicker(time.Minute)
	defer ticker.Stop()

	// An advance spanning three intervals delivers at most one tick
	// per drain because the channel buffers a single tick.
	fake.Advance(time.Minute)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire after one interval")
	}

	fake.Advance(time.Minute)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire after second interval")
	}
}

func TestFakeTickerStop(t *testing.T) {
	fake := Fake(testEpoch)
	ticker := fake.NewTicker(time.Second)
	ticker.Stop()

	fake.Advance(5 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
	if count := fake.PendingCount(); count != 0 {
		t.Errorf("PendingCount after Stop = %d, want 0", count)
	}
}

func TestFakeSleepBlocksUntilAdvance(t *testing.T) {
	fake := Fake(testEpoch)
	done := make(chan struct{})

	go func() {
		fake.Sleep(30 * time.Second)
		close(done)
	}()

	fake.WaitForTimers(1)
	select {
	case <-done:
		t.Fatal("Sleep returned before Advance")
	default:
	}

	fake.Advance(30 * time.Second)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}

func TestFakeWaitForTimersUnblocks(t *testing.T) {
	fake := Fake(testEpoch)
	waited := make(chan struct{})

	go func() {
		fake.WaitForTimers(2)
		close(waited)
	}()

	fake.After(time.Second)
	select {
	case <-waited:
		t.Fatal("WaitForTimers(2) returned with one waiter")
	case <-time.After(20 * time.Millisecond):
	}

	fake.After(time.Second)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForTimers(2) did not return with two waiters")
	}
}

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	fake := Fake(testEpoch)
	late := fake.After(10 * time.Second)
	early := fake.After(2 * time.Second)

	fake.Advance(10 * time.Second)

	earlyFired := <-early
	lateFired := <-late
	if earlyFired.After(lateFired) {
		t.Errorf("early waiter fired at %v, after late waiter at %v", earlyFired, lateFired)
	}
}
