// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/regenrek/moltlets-sub007/lib/queue"
	"github.com/regenrek/moltlets-sub007/lib/tui"
)

// fieldLabelWidth aligns the detail pane's field values.
const fieldLabelWidth = 11

// DetailPane is the right half of the watcher: a scrollable rendering
// of one job's fields, payload, result, and audit events. Content is
// rebuilt by SetJob; scrolling just moves a window over the built
// lines.
type DetailPane struct {
	theme  tui.Theme
	width  int
	height int

	offset int
	lines  []string
	jobID  string
}

// NewDetailPane creates an empty detail pane.
func NewDetailPane(theme tui.Theme) DetailPane {
	return DetailPane{theme: theme}
}

// SetSize updates the pane dimensions. The caller re-runs SetJob
// afterwards so wrapped content matches the new width.
func (pane *DetailPane) SetSize(width, height int) {
	pane.width = width
	pane.height = height
}

// JobID returns the ID of the job currently rendered, or "".
func (pane *DetailPane) JobID() string {
	return pane.jobID
}

// contentWidth is the text width inside the pane: one column of left
// gutter, one column of scrollbar.
func (pane *DetailPane) contentWidth() int {
	width := pane.width - 2
	if width < 10 {
		width = 10
	}
	return width
}

// Clear empties the pane.
func (pane *DetailPane) Clear() {
	pane.jobID = ""
	pane.lines = nil
	pane.offset = 0
}

// SetJob rebuilds the pane content for a job. Scroll position resets
// when the job changes and is preserved when the same job refreshes.
func (pane *DetailPane) SetJob(job *queue.Job, events []queue.Event, now time.Time) {
	if job == nil {
		pane.Clear()
		return
	}
	if job.ID != pane.jobID {
		pane.offset = 0
	}
	pane.jobID = job.ID
	pane.lines = pane.buildLines(job, events, now)
	pane.clampOffset()
}

func (pane *DetailPane) buildLines(job *queue.Job, events []queue.Event, now time.Time) []string {
	width := pane.contentWidth()
	faint := lipgloss.NewStyle().Foreground(pane.theme.FaintText)
	normal := lipgloss.NewStyle().Foreground(pane.theme.NormalText)
	header := lipgloss.NewStyle().Foreground(pane.theme.HeaderForeground).Bold(true)
	statusStyle := lipgloss.NewStyle().Foreground(pane.theme.StatusColor(job.Status))

	var lines []string
	addField := func(label, value string) {
		if value == "" {
			return
		}
		lines = append(lines,
			faint.Render(fmt.Sprintf("%-*s", fieldLabelWidth, label))+normal.Render(value))
	}
	addSection := func(title string) {
		lines = append(lines, "", header.Render(title))
	}

	lines = append(lines,
		header.Render(job.ID)+"  "+statusStyle.Render(statusGlyph(job.Status)+" "+string(job.Status)))
	lines = append(lines, "")

	addField("kind", string(job.Kind))
	addField("requester", job.Requester)
	addField("idempotency", job.IdempotencyKey)
	addField("attempts", fmt.Sprintf("%d/%d", job.Attempt, job.MaxAttempts))
	addField("created", formatWhen(job.CreatedAt, now))
	addField("updated", formatWhen(job.UpdatedAt, now))
	if job.Status == queue.StatusQueued && job.RunAt.After(now) {
		addField("runs at", formatWhen(job.RunAt, now))
	}
	if job.Status == queue.StatusRunning && job.LockedBy != "" {
		lease := job.LockedBy
		if job.LeaseExpiresAt != nil {
			lease += " until " + job.LeaseExpiresAt.Format("15:04:05")
		}
		addField("lease", lease)
	}

	if job.LastError != "" {
		addSection("error")
		errorStyle := lipgloss.NewStyle().Foreground(pane.theme.StatusFailed)
		wrapped := ansi.Wrap(errorStyle.Render(job.LastError), width, " ,.;-+|")
		lines = append(lines, strings.Split(wrapped, "\n")...)
	}

	if len(job.Payload) > 0 {
		addSection("payload")
		lines = append(lines, pane.renderJSON(job.Payload)...)
	}

	if job.Result != nil {
		addSection("result")
		if encoded, err := json.Marshal(job.Result); err == nil {
			lines = append(lines, pane.renderJSON(encoded)...)
		}
	}

	if len(events) > 0 {
		addSection("events")
		for _, event := range events {
			line := faint.Render(event.At.Format("15:04:05")+"  ") +
				normal.Render(string(event.Type))
			if event.Attempt > 0 {
				line += faint.Render(fmt.Sprintf(" #%d", event.Attempt))
			}
			if detail := formatEventDetails(event.Details); detail != "" {
				line += "  " + faint.Render(detail)
			}
			lines = append(lines, line)
		}
	}

	return lines
}

// formatWhen renders an absolute timestamp with a relative suffix.
func formatWhen(when, now time.Time) string {
	if when.IsZero() {
		return ""
	}
	return when.Format("2006-01-02 15:04:05") + " (" + humanize.RelTime(when, now, "ago", "from now") + ")"
}

// formatEventDetails renders an event's detail map as sorted k=v
// pairs.
func formatEventDetails(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	keys := slices.Sorted(maps.Keys(details))
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, details[key]))
	}
	return strings.Join(parts, " ")
}

// renderJSON pretty-prints and syntax-highlights a JSON document.
// Highlighting failures fall back to faint plain text.
func (pane *DetailPane) renderJSON(raw []byte) []string {
	var indented bytes.Buffer
	source := string(raw)
	if err := json.Indent(&indented, raw, "", "  "); err == nil {
		source = indented.String()
	}

	var highlighted strings.Builder
	if err := quick.Highlight(&highlighted, source, "json", "terminal256", "monokai"); err != nil {
		faint := lipgloss.NewStyle().Foreground(pane.theme.FaintText)
		source = faint.Render(source)
	} else {
		source = highlighted.String()
	}
	return strings.Split(strings.TrimRight(source, "\n"), "\n")
}

func (pane *DetailPane) maxOffset() int {
	max := len(pane.lines) - pane.height
	if max < 0 {
		return 0
	}
	return max
}

func (pane *DetailPane) clampOffset() {
	if pane.offset > pane.maxOffset() {
		pane.offset = pane.maxOffset()
	}
	if pane.offset < 0 {
		pane.offset = 0
	}
}

// ScrollUp moves the view up by count lines.
func (pane *DetailPane) ScrollUp(count int) {
	pane.offset -= count
	pane.clampOffset()
}

// ScrollDown moves the view down by count lines.
func (pane *DetailPane) ScrollDown(count int) {
	pane.offset += count
	pane.clampOffset()
}

// PageUp moves the view up by one page.
func (pane *DetailPane) PageUp() {
	pane.ScrollUp(pane.height)
}

// PageDown moves the view down by one page.
func (pane *DetailPane) PageDown() {
	pane.ScrollDown(pane.height)
}

// ScrollTop jumps to the first line.
func (pane *DetailPane) ScrollTop() {
	pane.offset = 0
}

// ScrollBottom jumps so the last line is visible.
func (pane *DetailPane) ScrollBottom() {
	pane.offset = pane.maxOffset()
}

// View renders the pane at its current size: a left gutter, the
// visible window of content lines, and a scrollbar column.
func (pane *DetailPane) View(focused bool) string {
	if pane.height <= 0 {
		return ""
	}
	if len(pane.lines) == 0 {
		empty := lipgloss.NewStyle().Foreground(pane.theme.FaintText).Render(" no job selected")
		return lipgloss.NewStyle().Width(pane.width).Height(pane.height).Render(empty)
	}

	width := pane.contentWidth()
	visible := make([]string, pane.height)
	for index := range visible {
		lineIndex := pane.offset + index
		if lineIndex < len(pane.lines) {
			visible[index] = ansi.Truncate(pane.lines[lineIndex], width, "…")
		}
	}

	body := lipgloss.NewStyle().Width(width).MaxWidth(width).
		Render(strings.Join(visible, "\n"))
	scrollbar := tui.RenderScrollbar(pane.theme, pane.height,
		len(pane.lines), pane.height, pane.offset, focused)

	return lipgloss.JoinHorizontal(lipgloss.Top, " ", body, scrollbar)
}
