// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"time"
)

// HeatDecayDuration is how long a row glows after a change event.
// Heat starts at 1.0 and decays linearly to 0.0 over this duration.
const HeatDecayDuration = 5 * time.Second

// HeatTickInterval is the re-render interval while any rows are hot.
// 100ms gives ~10fps animation for smooth color decay.
const HeatTickInterval = 100 * time.Millisecond

// HeatKind distinguishes different types of changes for color selection.
type HeatKind int

const (
	// HeatPut indicates a row appeared or changed (amber glow).
	HeatPut HeatKind = iota
	// HeatRemove indicates a row left the view (red glow).
	HeatRemove
)

// heatEntry records when and how a row was last changed.
type heatEntry struct {
	ignition time.Time
	kind     HeatKind
}

// HeatTracker maps row IDs to ignition timestamps for animated change
// highlighting. Each change "ignites" a row, which then decays from
// full intensity to zero over [HeatDecayDuration]. The job watcher
// ignites a row whenever a poll shows a new job or a status
// transition, so queue activity is visible without reading
// timestamps.
type HeatTracker struct {
	entries map[string]heatEntry
}

// NewHeatTracker creates an empty heat tracker.
func NewHeatTracker() *HeatTracker {
	return &HeatTracker{
		entries: make(map[string]heatEntry),
	}
}

// Ignite records a change event for a row. Resets the decay timer if
// the row was already hot.
func (tracker *HeatTracker) Ignite(rowID string, kind HeatKind, now time.Time) {
	tracker.entries[rowID] = heatEntry{ignition: now, kind: kind}
}

// Heat returns the current intensity for a row: 1.0 at ignition,
// linearly decaying to 0.0 over [HeatDecayDuration]. Returns 0.0 for
// rows that were never ignited or have fully decayed.
func (tracker *HeatTracker) Heat(rowID string, now time.Time) float64 {
	entry, exists := tracker.entries[rowID]
	if !exists {
		return 0.0
	}
	elapsed := now.Sub(entry.ignition)
	if elapsed >= HeatDecayDuration {
		return 0.0
	}
	return 1.0 - float64(elapsed)/float64(HeatDecayDuration)
}

// Kind returns the heat kind for a row (put or remove). Only
// meaningful when Heat() returns > 0.
func (tracker *HeatTracker) Kind(rowID string) HeatKind {
	entry, exists := tracker.entries[rowID]
	if !exists {
		return HeatPut
	}
	return entry.kind
}

// HasHot returns true if any tracked row still has heat > 0, meaning
// the tick timer should keep running for animation.
func (tracker *HeatTracker) HasHot(now time.Time) bool {
	for rowID, entry := range tracker.entries {
		if now.Sub(entry.ignition) < HeatDecayDuration {
			return true
		}
		// Garbage-collect fully decayed entries.
		delete(tracker.entries, rowID)
	}
	return false
}
