// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Event is one progress notification emitted by a running job handler:
// persona loaded, token minted, instance created. Events are advisory,
// the job's authoritative history is the queue's audit trail, but they
// give operators a live view of long provisioning runs.
type Event struct {
	JobID   string    `json:"jobId"`
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// EventSink receives handler progress events. Emit is called from the
// worker goroutine mid-handler and must return promptly; a sink that
// blocks stalls provisioning.
type EventSink interface {
	Emit(Event)
}

// LogSink forwards every event to a structured logger. This is the
// default sink for daemon deployments.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(event Event) {
	s.Logger.Info("job progress",
		"job", event.JobID,
		"stage", event.Stage,
		"message", event.Message)
}

// ChannelSink buffers events on a channel for an out-of-band observer
// (the watch TUI, tests). Delivery order matches emission order. When
// the buffer is full the event is dropped and counted, with a warning:
// a stalled observer must never stall provisioning, and losing a
// progress line is the cheaper failure.
type ChannelSink struct {
	events  chan Event
	logger  *slog.Logger
	dropped atomic.Int64
}

// NewChannelSink returns a sink buffering up to capacity events.
func NewChannelSink(capacity int, logger *slog.Logger) *ChannelSink {
	if capacity < 1 {
		panic("worker.NewChannelSink: capacity must be at least 1")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ChannelSink{
		events: make(chan Event, capacity),
		logger: logger,
	}
}

func (s *ChannelSink) Emit(event Event) {
	select {
	case s.events <- event:
	default:
		s.dropped.Add(1)
		s.logger.Warn("event observer lagging, dropping event",
			"job", event.JobID,
			"stage", event.Stage,
			"dropped_total", s.dropped.Load())
	}
}

// Events is the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// Dropped returns how many events have been discarded because the
// buffer was full.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close closes the event channel. Call only once all emitting workers
// have stopped.
func (s *ChannelSink) Close() {
	close(s.events)
}
