// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/regenrek/moltlets-sub007/lib/queue"
	"github.com/regenrek/moltlets-sub007/lib/tui"
)

// FocusRegion identifies which pane has keyboard focus.
type FocusRegion int

const (
	// FocusList means navigation keys move the job list cursor.
	FocusList FocusRegion = iota
	// FocusDetail means navigation keys scroll the detail pane.
	FocusDetail
	// FocusFilter means keystrokes go to the filter input.
	FocusFilter
)

// Split ratio bounds and step size.
const (
	splitRatioMin  = 0.20
	splitRatioMax  = 0.80
	splitRatioStep = 0.05
)

// defaultPollInterval is how often the watcher refreshes from the
// daemon when the config leaves it zero.
const defaultPollInterval = 2 * time.Second

// sourceCallTimeout bounds every Source call made from a bubbletea
// command goroutine.
const sourceCallTimeout = 5 * time.Second

// pollTickMsg fires when the next scheduled poll is due.
type pollTickMsg struct{}

// jobsLoadedMsg delivers a completed poll.
type jobsLoadedMsg struct {
	jobs []queue.Job
	err  error
	at   time.Time
}

// eventsLoadedMsg delivers the audit trail fetched for the selected
// job. jobID guards against stale responses after the selection moved.
type eventsLoadedMsg struct {
	jobID  string
	events []queue.Event
	err    error
}

// cancelDoneMsg reports the outcome of a cancel request.
type cancelDoneMsg struct {
	jobID string
	err   error
}

// heatTickMsg drives the change-glow decay animation. While any rows
// are hot, a new tick is scheduled after each one.
type heatTickMsg struct{}

// Config configures a watcher model.
type Config struct {
	// Source provides the jobs. Required.
	Source Source

	// Fleet is shown in the header line.
	Fleet string

	// PollInterval is the refresh cadence. Defaults to 2s.
	PollInterval time.Duration

	// Theme defaults to tui.DefaultTheme when zero.
	Theme tui.Theme
}

// Model is the bubbletea model for the job watcher.
type Model struct {
	source       Source
	theme        tui.Theme
	keys         KeyMap
	fleet        string
	pollInterval time.Duration

	// Terminal dimensions (set by WindowSizeMsg).
	width  int
	height int
	ready  bool

	// Job data. jobs is the last poll result in daemon order (newest
	// first); rows is the filtered view the cursor moves over.
	jobs       []queue.Job
	rows       []ScoredJob
	statusByID map[string]queue.Status

	cursor       int
	scrollOffset int
	selectedID   string // Stable focus: track selection by job ID.

	// Two-pane layout.
	focusRegion FocusRegion
	priorFocus  FocusRegion // Saved focus when entering filter mode.
	splitRatio  float64
	filter      FilterModel
	detail      DetailPane

	// Audit trail cache for the selected job.
	detailEvents   []queue.Event
	detailEventsID string

	// Live update animation.
	heatTracker *tui.HeatTracker
	tickRunning bool

	// Poll bookkeeping shown in the chrome.
	lastPoll time.Time
	pollErr  error
	notice   string
}

// NewModel creates a watcher connected to the given source.
func NewModel(config Config) Model {
	if config.Source == nil {
		panic("jobui: Config.Source is required")
	}
	theme := config.Theme
	if theme == (tui.Theme{}) {
		theme = tui.DefaultTheme
	}
	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return Model{
		source:       config.Source,
		theme:        theme,
		keys:         DefaultKeyMap,
		fleet:        config.Fleet,
		pollInterval: pollInterval,
		splitRatio:   0.55,
		detail:       NewDetailPane(theme),
		statusByID:   make(map[string]queue.Status),
		heatTracker:  tui.NewHeatTracker(),
	}
}

// SelectedJob returns the job under the cursor, or nil when the list
// is empty.
func (model *Model) SelectedJob() *queue.Job {
	if model.cursor < 0 || model.cursor >= len(model.rows) {
		return nil
	}
	job := model.rows[model.cursor].Job
	return &job
}

// Init implements tea.Model: fetch immediately, then poll on a timer.
func (model Model) Init() tea.Cmd {
	return tea.Batch(fetchJobs(model.source), pollTick(model.pollInterval))
}

func fetchJobs(source Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sourceCallTimeout)
		defer cancel()
		jobs, err := source.Jobs(ctx)
		return jobsLoadedMsg{jobs: jobs, err: err, at: time.Now()}
	}
}

func fetchEvents(source Source, jobID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sourceCallTimeout)
		defer cancel()
		events, err := source.Events(ctx, jobID)
		return eventsLoadedMsg{jobID: jobID, events: events, err: err}
	}
}

func cancelJob(source Source, jobID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sourceCallTimeout)
		defer cancel()
		return cancelDoneMsg{jobID: jobID, err: source.Cancel(ctx, jobID)}
	}
}

func pollTick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(time.Time) tea.Msg {
		return pollTickMsg{}
	})
}

func heatTick() tea.Cmd {
	return tea.Tick(tui.HeatTickInterval, func(time.Time) tea.Msg {
		return heatTickMsg{}
	})
}

// Update implements tea.Model. Routes keyboard events based on the
// current focus region and handles poll results and layout changes.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.ready = true
		model.updatePaneSizes()
		model.syncDetail(time.Now())
		return model, nil

	case pollTickMsg:
		return model, tea.Batch(fetchJobs(model.source), pollTick(model.pollInterval))

	case jobsLoadedMsg:
		return model.handleJobsLoaded(message)

	case eventsLoadedMsg:
		if message.err != nil || message.jobID != model.selectedID {
			return model, nil
		}
		model.detailEvents = message.events
		model.detailEventsID = message.jobID
		model.syncDetail(time.Now())
		return model, nil

	case cancelDoneMsg:
		if message.err != nil {
			model.notice = fmt.Sprintf("cancel %s: %v", message.jobID, message.err)
			return model, nil
		}
		model.notice = "canceled " + message.jobID
		return model, fetchJobs(model.source)

	case heatTickMsg:
		if model.heatTracker.HasHot(time.Now()) {
			return model, heatTick()
		}
		model.tickRunning = false
		return model, nil

	case tea.KeyMsg:
		return model.handleKeys(message)
	}

	return model, nil
}

func (model Model) handleJobsLoaded(message jobsLoadedMsg) (tea.Model, tea.Cmd) {
	if message.err != nil {
		model.pollErr = message.err
		return model, nil
	}
	model.pollErr = nil
	model.lastPoll = message.at

	// Ignite heat for new jobs and status transitions. The very
	// first poll is exempt: everything is "new" then and the whole
	// screen would glow.
	now := message.at
	firstPoll := len(model.statusByID) == 0
	seen := make(map[string]bool, len(message.jobs))
	for _, job := range message.jobs {
		seen[job.ID] = true
		previous, known := model.statusByID[job.ID]
		if !firstPoll && (!known || previous != job.Status) {
			kind := tui.HeatPut
			if job.Status == queue.StatusFailed || job.Status == queue.StatusCanceled {
				kind = tui.HeatRemove
			}
			model.heatTracker.Ignite(job.ID, kind, now)
		}
		model.statusByID[job.ID] = job.Status
	}
	for id := range model.statusByID {
		if !seen[id] {
			delete(model.statusByID, id)
		}
	}

	model.jobs = message.jobs
	model.rebuildRows()
	model.syncDetail(now)

	var commands []tea.Cmd
	if model.selectedID != "" {
		commands = append(commands, fetchEvents(model.source, model.selectedID))
	}
	if !model.tickRunning && model.heatTracker.HasHot(now) {
		model.tickRunning = true
		commands = append(commands, heatTick())
	}
	return model, tea.Batch(commands...)
}

func (model Model) handleKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Any keystroke retires the transient notice.
	model.notice = ""

	if model.focusRegion == FocusFilter {
		return model.handleFilterKeys(message)
	}

	switch {
	case key.Matches(message, model.keys.Quit):
		return model, tea.Quit

	case key.Matches(message, model.keys.FocusToggle):
		if model.focusRegion == FocusList {
			model.focusRegion = FocusDetail
		} else {
			model.focusRegion = FocusList
		}
		return model, nil

	case key.Matches(message, model.keys.FilterActivate):
		model.priorFocus = model.focusRegion
		model.focusRegion = FocusFilter
		model.filter.Active = true
		// Reset list position to the top so the user sees results
		// from the beginning as they type.
		model.cursor = 0
		model.scrollOffset = 0
		if selected := model.SelectedJob(); selected != nil {
			model.selectedID = selected.ID
		}
		model.syncDetail(time.Now())
		return model, nil

	case key.Matches(message, model.keys.FilterClear):
		if model.filter.Input != "" {
			model.filter.Clear()
			model.rebuildRows()
			model.syncDetail(time.Now())
		}
		return model, nil

	case key.Matches(message, model.keys.SplitGrow):
		model.splitRatio = min(model.splitRatio+splitRatioStep, splitRatioMax)
		model.updatePaneSizes()
		model.syncDetail(time.Now())
		return model, nil

	case key.Matches(message, model.keys.SplitShrink):
		model.splitRatio = max(model.splitRatio-splitRatioStep, splitRatioMin)
		model.updatePaneSizes()
		model.syncDetail(time.Now())
		return model, nil

	case key.Matches(message, model.keys.Refresh):
		return model, fetchJobs(model.source)

	case key.Matches(message, model.keys.Cancel):
		selected := model.SelectedJob()
		if selected == nil {
			return model, nil
		}
		if selected.Status.Terminal() {
			model.notice = selected.ID + " is already " + string(selected.Status)
			return model, nil
		}
		return model, cancelJob(model.source, selected.ID)
	}

	if model.focusRegion == FocusDetail {
		model.handleDetailKeys(message)
		return model, nil
	}
	return model.handleListKeys(message)
}

func (model Model) handleFilterKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		// ctrl+c always quits; 'q' is a regular character here.
		if message.Type == tea.KeyCtrlC {
			return model, tea.Quit
		}
		model.filter.HandleRune('q')
		model.rebuildRows()
		model.syncDetail(time.Now())
		return model, nil

	case key.Matches(message, model.keys.FilterClear):
		// Esc clears the text first; a second Esc leaves filter mode.
		if model.filter.Input != "" {
			model.filter.Clear()
			model.rebuildRows()
			model.syncDetail(time.Now())
			return model, nil
		}
		model.filter.Active = false
		model.focusRegion = model.priorFocus
		return model, nil

	case message.Type == tea.KeyEnter:
		model.filter.Active = false
		model.focusRegion = FocusList
		return model, nil

	case message.Type == tea.KeyBackspace:
		if model.filter.HandleBackspace() {
			model.rebuildRows()
			model.syncDetail(time.Now())
		}
		return model, nil

	case message.Type == tea.KeyRunes || message.Type == tea.KeySpace:
		for _, character := range message.Runes {
			model.filter.HandleRune(character)
		}
		model.rebuildRows()
		model.syncDetail(time.Now())
		return model, nil
	}

	return model, nil
}

func (model Model) handleListKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	previousCursor := model.cursor

	switch {
	case key.Matches(message, model.keys.Up):
		if model.cursor > 0 {
			model.cursor--
		}

	case key.Matches(message, model.keys.Down):
		if model.cursor < len(model.rows)-1 {
			model.cursor++
		}

	case key.Matches(message, model.keys.PageUp):
		model.cursor = max(model.cursor-model.listVisibleHeight(), 0)

	case key.Matches(message, model.keys.PageDown):
		if len(model.rows) > 0 {
			model.cursor = min(model.cursor+model.listVisibleHeight(), len(model.rows)-1)
		}

	case key.Matches(message, model.keys.Home):
		model.cursor = 0

	case key.Matches(message, model.keys.End):
		if len(model.rows) > 0 {
			model.cursor = len(model.rows) - 1
		}
	}

	model.ensureCursorVisible()

	if model.cursor != previousCursor {
		if selected := model.SelectedJob(); selected != nil {
			model.selectedID = selected.ID
		}
		model.syncDetail(time.Now())
		if model.selectedID != "" && model.selectedID != model.detailEventsID {
			return model, fetchEvents(model.source, model.selectedID)
		}
	}
	return model, nil
}

func (model *Model) handleDetailKeys(message tea.KeyMsg) {
	switch {
	case key.Matches(message, model.keys.Up):
		model.detail.ScrollUp(1)
	case key.Matches(message, model.keys.Down):
		model.detail.ScrollDown(1)
	case key.Matches(message, model.keys.PageUp):
		model.detail.PageUp()
	case key.Matches(message, model.keys.PageDown):
		model.detail.PageDown()
	case key.Matches(message, model.keys.Home):
		model.detail.ScrollTop()
	case key.Matches(message, model.keys.End):
		model.detail.ScrollBottom()
	}
}

// rebuildRows reapplies the filter and restores the selection by job
// ID so a refresh doesn't steal the cursor.
func (model *Model) rebuildRows() {
	model.rows = model.filter.Apply(model.jobs)

	if model.selectedID != "" {
		for index, row := range model.rows {
			if row.Job.ID == model.selectedID {
				model.cursor = index
				model.ensureCursorVisible()
				return
			}
		}
	}

	// Previous selection is gone; clamp and re-anchor.
	if model.cursor >= len(model.rows) {
		model.cursor = len(model.rows) - 1
	}
	if model.cursor < 0 {
		model.cursor = 0
	}
	if selected := model.SelectedJob(); selected != nil {
		model.selectedID = selected.ID
	} else {
		model.selectedID = ""
	}
	model.ensureCursorVisible()
}

// syncDetail pushes the selected job (and its cached events) into the
// detail pane.
func (model *Model) syncDetail(now time.Time) {
	selected := model.SelectedJob()
	if selected == nil {
		model.detail.Clear()
		return
	}
	var events []queue.Event
	if model.detailEventsID == selected.ID {
		events = model.detailEvents
	}
	model.detail.SetJob(selected, events, now)
}

// --- Layout ---

func (model *Model) updatePaneSizes() {
	model.detail.SetSize(model.detailWidth(), model.contentHeight())
	model.ensureCursorVisible()
}

// contentHeight is the height of the two-pane area: everything but
// the top bar, bottom separator, and help line.
func (model *Model) contentHeight() int {
	height := model.height - 3
	if height < 0 {
		height = 0
	}
	return height
}

// listVisibleHeight is the number of job rows the list pane can show:
// the content area minus the column header.
func (model *Model) listVisibleHeight() int {
	height := model.contentHeight() - 1
	if height < 0 {
		height = 0
	}
	return height
}

func (model *Model) listWidth() int {
	width := int(float64(model.width) * model.splitRatio)
	if width < 20 {
		width = 20
	}
	return width
}

func (model *Model) detailWidth() int {
	width := model.width - model.listWidth() - 1
	if width < 0 {
		width = 0
	}
	return width
}

func (model *Model) ensureCursorVisible() {
	visible := model.listVisibleHeight()
	if visible <= 0 {
		return
	}
	if model.cursor < model.scrollOffset {
		model.scrollOffset = model.cursor
	}
	if model.cursor >= model.scrollOffset+visible {
		model.scrollOffset = model.cursor - visible + 1
	}
	if model.scrollOffset < 0 {
		model.scrollOffset = 0
	}
}

// --- Rendering ---

// View implements tea.Model.
func (model Model) View() string {
	if !model.ready {
		return "Loading..."
	}

	var sections []string

	// Top chrome line: either the filter bar or the header. The
	// filter bar replaces the header so the layout doesn't shift.
	if filterView := model.filter.View(model.theme, model.width); filterView != "" {
		sections = append(sections, filterView)
	} else {
		sections = append(sections, model.renderHeader())
	}

	listView := model.renderListPane()
	divider := model.renderDivider()
	detailView := model.detail.View(model.focusRegion == FocusDetail)
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, listView, divider, detailView))

	separator := lipgloss.NewStyle().
		Foreground(model.theme.BorderColor).
		Render(strings.Repeat("─", max(model.width, 0)))
	sections = append(sections, separator)
	sections = append(sections, model.renderFooter())

	return strings.Join(sections, "\n")
}

func (model Model) renderHeader() string {
	title := " moltlets jobs"
	if model.fleet != "" {
		title += " · fleet " + model.fleet
	}
	left := lipgloss.NewStyle().
		Foreground(model.theme.HeaderForeground).
		Bold(true).
		Render(title)

	var right string
	switch {
	case model.pollErr != nil:
		right = lipgloss.NewStyle().
			Foreground(model.theme.StatusFailed).
			Render(truncateCell("poll: "+model.pollErr.Error(), model.width/2) + " ")
	case !model.lastPoll.IsZero():
		right = lipgloss.NewStyle().
			Foreground(model.theme.FaintText).
			Render("updated " + formatAge(time.Since(model.lastPoll)) + " ago ")
	}

	gap := model.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		return left
	}
	return left + strings.Repeat(" ", gap) + right
}

func (model Model) renderListPane() string {
	// One column is reserved for the cursor marker so content stays
	// at a fixed position regardless of focus state.
	rowWidth := model.listWidth() - 1
	renderer := NewListRenderer(model.theme, rowWidth)

	lines := []string{" " + renderer.RenderHeader()}

	now := time.Now()
	focused := model.focusRegion == FocusList
	visible := model.listVisibleHeight()
	for index := model.scrollOffset; index < model.scrollOffset+visible && index < len(model.rows); index++ {
		selected := index == model.cursor
		job := model.rows[index].Job
		row := renderer.RenderRow(job, selected, now)

		// Heat tint for recently-changed jobs; the selection bar
		// takes priority.
		if !selected {
			if heat := model.heatTracker.Heat(job.ID, now); heat > 0 {
				accent := model.theme.HotAccentPut
				if model.heatTracker.Kind(job.ID) == tui.HeatRemove {
					accent = model.theme.HotAccentRemove
				}
				row = lipgloss.NewStyle().
					Background(accent).
					Width(rowWidth).
					MaxWidth(rowWidth).
					Render(ansi.Strip(row))
			}
		}

		marker := " "
		if selected && focused {
			marker = lipgloss.NewStyle().
				Foreground(model.theme.StatusRunning).
				Render("▍")
		}
		lines = append(lines, marker+row)
	}

	for len(lines) < model.contentHeight() {
		lines = append(lines, "")
	}

	if len(model.rows) == 0 {
		empty := " queue is empty"
		if model.filter.Input != "" {
			empty = " no jobs match the filter"
		}
		if len(lines) > 2 {
			lines[2] = lipgloss.NewStyle().Foreground(model.theme.FaintText).Render(empty)
		}
	}

	return lipgloss.NewStyle().
		Width(model.listWidth()).
		MaxWidth(model.listWidth()).
		Render(strings.Join(lines[:model.contentHeight()], "\n"))
}

func (model Model) renderDivider() string {
	line := lipgloss.NewStyle().Foreground(model.theme.BorderColor).Render("│")
	rows := make([]string, model.contentHeight())
	for index := range rows {
		rows[index] = line
	}
	return strings.Join(rows, "\n")
}

func (model Model) renderFooter() string {
	counts := make(map[queue.Status]int)
	for _, job := range model.jobs {
		counts[job.Status]++
	}

	var parts []string
	for _, status := range []queue.Status{
		queue.StatusQueued, queue.StatusRunning, queue.StatusDone,
		queue.StatusFailed, queue.StatusCanceled,
	} {
		if counts[status] == 0 {
			continue
		}
		parts = append(parts, lipgloss.NewStyle().
			Foreground(model.theme.StatusColor(status)).
			Render(fmt.Sprintf("%d %s", counts[status], status)))
	}
	left := " " + strings.Join(parts, " · ")
	if len(parts) == 0 {
		left = " no jobs"
	}

	right := model.notice
	if right == "" {
		right = "j/k move · tab pane · / filter · c cancel · r refresh · q quit "
	}
	right = lipgloss.NewStyle().Foreground(model.theme.HelpText).Render(right)

	gap := model.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		return left
	}
	return left + strings.Repeat(" ", gap) + right
}
