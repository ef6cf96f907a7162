// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/regenrek/moltlets-sub007/lib/queue"
	"github.com/regenrek/moltlets-sub007/lib/tui"
)

// Column widths for the list table. The info column fills remaining
// space; all others are fixed.
const (
	columnWidthStatus    = 10 // glyph + space + longest label ("canceled")
	columnWidthID        = 12 // "job-" + 8 hex chars
	columnWidthKind      = 12 // "cattle.spawn"
	columnWidthRequester = 10
	columnWidthAttempt   = 4 // "9/10"
	columnWidthAge       = 4 // "45s", "12h", "99d"

	columnGap = 2
)

// fixedColumnsWidth is the sum of all fixed columns and their gaps.
const fixedColumnsWidth = columnWidthStatus + columnWidthID + columnWidthKind +
	columnWidthRequester + columnWidthAttempt + columnWidthAge + 6*columnGap

// statusGlyph returns a single-width marker for the job status,
// recognizable at a glance without reading the label.
func statusGlyph(status queue.Status) string {
	switch status {
	case queue.StatusQueued:
		return "◌"
	case queue.StatusRunning:
		return "●"
	case queue.StatusDone:
		return "✓"
	case queue.StatusFailed:
		return "✗"
	case queue.StatusCanceled:
		return "⊘"
	default:
		return "?"
	}
}

// formatAge renders a duration compactly for the age column.
func formatAge(age time.Duration) string {
	switch {
	case age < 0:
		return "0s"
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}

// jobInfo builds the free-width info cell: what the job is about, and
// the last error when there is one.
func jobInfo(job queue.Job) string {
	var about string
	switch job.Kind {
	case queue.KindCattleSpawn:
		var payload struct {
			Persona string `json:"persona"`
		}
		if json.Unmarshal(job.Payload, &payload) == nil && payload.Persona != "" {
			about = payload.Persona
		}
	case queue.KindCattleReap:
		var payload struct {
			DryRun bool `json:"dryRun"`
		}
		if json.Unmarshal(job.Payload, &payload) == nil && payload.DryRun {
			about = "dry-run"
		} else {
			about = "sweep"
		}
	}

	if job.LastError == "" {
		return about
	}
	if about == "" {
		return job.LastError
	}
	return about + " · " + job.LastError
}

// truncateCell truncates a string to the given display width,
// appending an ellipsis when it was cut.
func truncateCell(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	if width <= 1 {
		return "…"
	}
	runes := []rune(s)
	for length := len(runes) - 1; length >= 0; length-- {
		candidate := string(runes[:length])
		if lipgloss.Width(candidate) <= width-1 {
			return candidate + "…"
		}
	}
	return "…"
}

// padCell truncates and left-aligns a string to exactly width display
// columns. Padding counts display width, not bytes, so cells holding
// multi-byte glyphs stay aligned.
func padCell(s string, width int) string {
	s = truncateCell(s, width)
	if padding := width - lipgloss.Width(s); padding > 0 {
		return s + strings.Repeat(" ", padding)
	}
	return s
}

// ListRenderer handles the table-style rendering of job rows within a
// given width.
type ListRenderer struct {
	theme tui.Theme
	width int
}

// NewListRenderer creates a ListRenderer for the given row width.
func NewListRenderer(theme tui.Theme, width int) ListRenderer {
	return ListRenderer{theme: theme, width: width}
}

func (renderer ListRenderer) infoWidth() int {
	width := renderer.width - fixedColumnsWidth
	if width < 0 {
		width = 0
	}
	return width
}

// RenderHeader renders the column title row.
func (renderer ListRenderer) RenderHeader() string {
	gap := strings.Repeat(" ", columnGap)
	header := padCell("status", columnWidthStatus) + gap +
		padCell("job", columnWidthID) + gap +
		padCell("kind", columnWidthKind) + gap +
		padCell("requester", columnWidthRequester) + gap +
		padCell("att", columnWidthAttempt) + gap +
		fmt.Sprintf("%*s", columnWidthAge, "age") + gap +
		padCell("info", renderer.infoWidth())
	return lipgloss.NewStyle().
		Foreground(renderer.theme.FaintText).
		Render(truncateCell(header, renderer.width))
}

// RenderRow renders a single job as a formatted table row. The
// selected flag controls whether the row gets highlight styling
// (which replaces the per-column colors so the selection bar reads as
// one block).
//
// Row layout:
//
//	● running   job-a1b2c3d4  cattle.spawn  maren       1/3   3m  rex
//	✗ failed    job-9f8e7d6c  cattle.reap   scheduler   2/2  12h  sweep · deleting molt-rex-aaaa1111: provider HTTP 500
func (renderer ListRenderer) RenderRow(job queue.Job, selected bool, now time.Time) string {
	gap := strings.Repeat(" ", columnGap)

	statusCell := padCell(statusGlyph(job.Status)+" "+string(job.Status), columnWidthStatus)
	idCell := padCell(job.ID, columnWidthID)
	kindCell := padCell(string(job.Kind), columnWidthKind)
	requesterCell := padCell(job.Requester, columnWidthRequester)
	attemptCell := padCell(fmt.Sprintf("%d/%d", job.Attempt, job.MaxAttempts), columnWidthAttempt)
	ageCell := fmt.Sprintf("%*s", columnWidthAge, formatAge(now.Sub(job.CreatedAt)))
	infoCell := padCell(jobInfo(job), renderer.infoWidth())

	if selected {
		row := statusCell + gap + idCell + gap + kindCell + gap +
			requesterCell + gap + attemptCell + gap + ageCell + gap + infoCell
		return lipgloss.NewStyle().
			Background(renderer.theme.SelectedBackground).
			Foreground(renderer.theme.SelectedForeground).
			Width(renderer.width).
			MaxWidth(renderer.width).
			Render(truncateCell(row, renderer.width))
	}

	statusStyle := lipgloss.NewStyle().Foreground(renderer.theme.StatusColor(job.Status))
	normal := lipgloss.NewStyle().Foreground(renderer.theme.NormalText)
	faint := lipgloss.NewStyle().Foreground(renderer.theme.FaintText)

	infoStyle := normal
	if job.LastError != "" {
		infoStyle = lipgloss.NewStyle().Foreground(renderer.theme.StatusFailed)
	}

	return statusStyle.Render(statusCell) + gap +
		normal.Render(idCell) + gap +
		normal.Render(kindCell) + gap +
		faint.Render(requesterCell) + gap +
		faint.Render(attemptCell) + gap +
		faint.Render(ageCell) + gap +
		infoStyle.Render(infoCell)
}
