// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/regenrek/moltlets-sub007/lib/clock"
)

// PollFunc is one iteration of a poll loop. Returning busy reports that
// the iteration did real work and more may be immediately available, so
// the loop polls again without waiting out the interval. Returning an
// error triggers exponential backoff.
type PollFunc func(ctx context.Context) (busy bool, err error)

// PollLoopConfig configures RunPollLoop.
type PollLoopConfig struct {
	// Name identifies the loop in log lines.
	Name string

	// Interval is the idle wait between iterations. Required.
	Interval time.Duration

	// MaxBackoff caps the error backoff. Defaults to 30 seconds.
	MaxBackoff time.Duration
}

// RunPollLoop calls poll on a fixed cadence until ctx is canceled.
//
// An iteration that reports busy is followed immediately by another, so
// a backlog drains at full speed instead of one item per interval. An
// iteration that returns an error is retried with exponential backoff
// starting at the interval and capped at MaxBackoff; the first
// successful iteration resets the backoff. The loop itself never
// returns an error: poll failures are logged and retried, and the only
// exit is context cancellation.
func RunPollLoop(ctx context.Context, config PollLoopConfig, poll PollFunc, clk clock.Clock, logger *slog.Logger) {
	if config.Interval <= 0 {
		panic("service.RunPollLoop: Interval must be positive")
	}
	if clk == nil {
		panic("service.RunPollLoop: clock is required")
	}
	if logger == nil {
		panic("service.RunPollLoop: logger is required")
	}
	if config.Name == "" {
		config.Name = "poll"
	}
	maxBackoff := config.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	backoff := config.Interval
	for {
		if ctx.Err() != nil {
			return
		}

		busy, err := poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("poll iteration failed",
				"loop", config.Name,
				"error", err,
				"backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-clk.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = config.Interval

		if busy {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-clk.After(config.Interval):
		}
	}
}
