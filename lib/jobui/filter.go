// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobui

import (
	"cmp"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/junegunn/fzf/src/util"

	"github.com/regenrek/moltlets-sub007/lib/queue"
	"github.com/regenrek/moltlets-sub007/lib/tui"
)

// ScoredJob pairs a job with its fuzzy match score for the current
// filter. Score is zero when no filter is active.
type ScoredJob struct {
	Job   queue.Job
	Score int
}

// FilterModel implements fzf-style fuzzy matching across a job's
// searchable fields: ID, kind, status, requester, and last error.
// The filter composes with the daemon-side query: the watcher's
// command-line flags choose the base set, and the filter narrows it
// client-side without round-tripping.
type FilterModel struct {
	// Input is the current filter query text.
	Input string

	// Active is true when the filter input has keyboard focus
	// (the user pressed / to start typing).
	Active bool

	// slab is fzf scratch memory, allocated on first use and reused
	// across matches. The bubbletea update loop is single-threaded,
	// so unsynchronized reuse is safe.
	slab *util.Slab
}

// searchText composes the fields a job can be found by.
func searchText(job queue.Job) string {
	parts := []string{job.ID, string(job.Kind), string(job.Status), job.Requester}
	if job.LastError != "" {
		parts = append(parts, job.LastError)
	}
	return strings.Join(parts, " ")
}

// Apply filters jobs against the current query. An empty query keeps
// every job in its original order with zero scores. A non-empty query
// drops non-matching jobs and sorts the rest by descending score,
// ties keeping their original order.
func (filter *FilterModel) Apply(jobs []queue.Job) []ScoredJob {
	if filter.Input == "" {
		scored := make([]ScoredJob, len(jobs))
		for index, job := range jobs {
			scored[index] = ScoredJob{Job: job}
		}
		return scored
	}

	if filter.slab == nil {
		filter.slab = util.MakeSlab(100*1024, 2048)
	}
	pattern := []rune(filter.Input)

	var scored []ScoredJob
	for _, job := range jobs {
		match := tui.FuzzyMatch(searchText(job), pattern, filter.slab)
		if match.Score <= 0 {
			continue
		}
		scored = append(scored, ScoredJob{Job: job, Score: match.Score})
	}
	slices.SortStableFunc(scored, func(a, b ScoredJob) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return scored
}

// HandleRune processes a character typed while the filter is active.
func (filter *FilterModel) HandleRune(character rune) {
	filter.Input += string(character)
}

// HandleBackspace removes the last character from the filter input.
// Returns true if the input changed.
func (filter *FilterModel) HandleBackspace() bool {
	if len(filter.Input) == 0 {
		return false
	}
	runes := []rune(filter.Input)
	filter.Input = string(runes[:len(runes)-1])
	return true
}

// Clear resets the filter input and deactivates it.
func (filter *FilterModel) Clear() {
	filter.Input = ""
	filter.Active = false
}

// View renders the filter bar. When active, shows the input with a
// cursor. When inactive with text, shows the filter text dimmed.
// When inactive with no text, returns empty string (hidden).
func (filter *FilterModel) View(theme tui.Theme, width int) string {
	if !filter.Active && filter.Input == "" {
		return ""
	}

	if filter.Active {
		cursor := lipgloss.NewStyle().
			Foreground(theme.HeaderForeground).
			Bold(true).
			Render("▎")
		return lipgloss.NewStyle().
			Foreground(theme.NormalText).
			Width(width).
			Render(" / " + filter.Input + cursor)
	}

	return lipgloss.NewStyle().
		Foreground(theme.FaintText).
		Width(width).
		Render(" filter: " + filter.Input)
}
