// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobui

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/regenrek/moltlets-sub007/lib/queue"
	"github.com/regenrek/moltlets-sub007/lib/tui"
)

// fakeSource is an in-memory Source for driving the model in tests.
type fakeSource struct {
	jobs     []queue.Job
	events   map[string][]queue.Event
	jobsErr  error
	canceled []string
}

func (source *fakeSource) Jobs(ctx context.Context) ([]queue.Job, error) {
	return source.jobs, source.jobsErr
}

func (source *fakeSource) Events(ctx context.Context, jobID string) ([]queue.Event, error) {
	return source.events[jobID], nil
}

func (source *fakeSource) Cancel(ctx context.Context, jobID string) error {
	source.canceled = append(source.canceled, jobID)
	return nil
}

func testJobs(now time.Time) []queue.Job {
	return []queue.Job{
		{
			ID:          "job-aaaa1111",
			Kind:        queue.KindCattleSpawn,
			Requester:   "maren",
			Payload:     json.RawMessage(`{"persona":"rex"}`),
			Status:      queue.StatusRunning,
			Attempt:     1,
			MaxAttempts: 3,
			LockedBy:    "worker-1",
			CreatedAt:   now.Add(-2 * time.Minute),
			UpdatedAt:   now.Add(-30 * time.Second),
		},
		{
			ID:          "job-bbbb2222",
			Kind:        queue.KindCattleSpawn,
			Requester:   "devteam",
			Payload:     json.RawMessage(`{"persona":"scout"}`),
			Status:      queue.StatusQueued,
			MaxAttempts: 3,
			CreatedAt:   now.Add(-time.Minute),
			UpdatedAt:   now.Add(-time.Minute),
		},
		{
			ID:          "job-cccc3333",
			Kind:        queue.KindCattleReap,
			Requester:   "cron",
			Payload:     json.RawMessage(`{"dryRun":false}`),
			Status:      queue.StatusDone,
			Attempt:     1,
			MaxAttempts: 2,
			CreatedAt:   now.Add(-time.Hour),
			UpdatedAt:   now.Add(-50 * time.Minute),
		},
		{
			ID:          "job-dddd4444",
			Kind:        queue.KindCattleSpawn,
			Requester:   "maren",
			Payload:     json.RawMessage(`{"persona":"smith"}`),
			Status:      queue.StatusFailed,
			Attempt:     3,
			MaxAttempts: 3,
			LastError:   "hcloud: server limit exceeded",
			CreatedAt:   now.Add(-3 * time.Hour),
			UpdatedAt:   now.Add(-2 * time.Hour),
		},
	}
}

// newTestModel builds a model sized to a normal terminal with the
// fixture jobs already loaded.
func newTestModel(t *testing.T, source *fakeSource) Model {
	t.Helper()
	model := NewModel(Config{Source: source, Fleet: "molt"})
	resized, _ := model.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	model = resized.(Model)
	loaded, _ := model.Update(jobsLoadedMsg{jobs: source.jobs, at: time.Now()})
	return loaded.(Model)
}

func pressRune(model Model, character rune) (Model, tea.Cmd) {
	updated, command := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{character}})
	return updated.(Model), command
}

func pressKey(model Model, keyType tea.KeyType) (Model, tea.Cmd) {
	updated, command := model.Update(tea.KeyMsg{Type: keyType})
	return updated.(Model), command
}

func TestModelNavigation(t *testing.T) {
	source := &fakeSource{jobs: testJobs(time.Now())}
	model := newTestModel(t, source)

	if got := model.SelectedJob().ID; got != "job-aaaa1111" {
		t.Fatalf("initial selection = %q, want job-aaaa1111", got)
	}

	model, _ = pressRune(model, 'j')
	model, _ = pressRune(model, 'j')
	if got := model.SelectedJob().ID; got != "job-cccc3333" {
		t.Fatalf("after jj selection = %q, want job-cccc3333", got)
	}

	model, _ = pressRune(model, 'k')
	if got := model.SelectedJob().ID; got != "job-bbbb2222" {
		t.Fatalf("after k selection = %q, want job-bbbb2222", got)
	}

	// G jumps to the last row, g back to the first.
	model, _ = pressRune(model, 'G')
	if got := model.SelectedJob().ID; got != "job-dddd4444" {
		t.Fatalf("after G selection = %q, want job-dddd4444", got)
	}
	model, _ = pressRune(model, 'g')
	if got := model.SelectedJob().ID; got != "job-aaaa1111" {
		t.Fatalf("after g selection = %q, want job-aaaa1111", got)
	}
}

func TestModelCursorStopsAtEdges(t *testing.T) {
	source := &fakeSource{jobs: testJobs(time.Now())}
	model := newTestModel(t, source)

	model, _ = pressRune(model, 'k')
	if model.cursor != 0 {
		t.Fatalf("cursor moved above the first row: %d", model.cursor)
	}

	for range 10 {
		model, _ = pressRune(model, 'j')
	}
	if model.cursor != 3 {
		t.Fatalf("cursor moved past the last row: %d", model.cursor)
	}
}

func TestModelSelectionSurvivesReorder(t *testing.T) {
	now := time.Now()
	jobs := testJobs(now)
	source := &fakeSource{jobs: jobs}
	model := newTestModel(t, source)

	model, _ = pressRune(model, 'j')
	if got := model.SelectedJob().ID; got != "job-bbbb2222" {
		t.Fatalf("selection = %q, want job-bbbb2222", got)
	}

	// A later poll delivers the jobs in a different order. The
	// selection must follow the job, not the row index.
	reordered := []queue.Job{jobs[3], jobs[2], jobs[1], jobs[0]}
	updated, _ := model.Update(jobsLoadedMsg{jobs: reordered, at: now})
	model = updated.(Model)

	if got := model.SelectedJob().ID; got != "job-bbbb2222" {
		t.Fatalf("selection after reorder = %q, want job-bbbb2222", got)
	}
	if model.cursor != 2 {
		t.Fatalf("cursor after reorder = %d, want 2", model.cursor)
	}
}

func TestModelSelectionClampsWhenJobDisappears(t *testing.T) {
	now := time.Now()
	jobs := testJobs(now)
	source := &fakeSource{jobs: jobs}
	model := newTestModel(t, source)

	model, _ = pressRune(model, 'G')
	if got := model.SelectedJob().ID; got != "job-dddd4444" {
		t.Fatalf("selection = %q, want job-dddd4444", got)
	}

	updated, _ := model.Update(jobsLoadedMsg{jobs: jobs[:2], at: now})
	model = updated.(Model)

	if got := model.SelectedJob().ID; got != "job-bbbb2222" {
		t.Fatalf("selection after shrink = %q, want job-bbbb2222", got)
	}
}

func TestModelFilterNarrowsList(t *testing.T) {
	source := &fakeSource{jobs: testJobs(time.Now())}
	model := newTestModel(t, source)

	model, _ = pressRune(model, '/')
	if model.focusRegion != FocusFilter {
		t.Fatalf("focus after / = %v, want FocusFilter", model.focusRegion)
	}

	for _, character := range "reap" {
		model, _ = pressRune(model, character)
	}
	if len(model.rows) != 1 {
		t.Fatalf("filtered rows = %d, want 1", len(model.rows))
	}
	if got := model.rows[0].Job.ID; got != "job-cccc3333" {
		t.Fatalf("filtered row = %q, want job-cccc3333", got)
	}

	// Enter confirms the filter and returns focus to the list.
	model, _ = pressKey(model, tea.KeyEnter)
	if model.focusRegion != FocusList {
		t.Fatalf("focus after enter = %v, want FocusList", model.focusRegion)
	}
	if model.filter.Input != "reap" {
		t.Fatalf("filter input after enter = %q, want reap", model.filter.Input)
	}
}

func TestModelFilterEscClearsThenExits(t *testing.T) {
	source := &fakeSource{jobs: testJobs(time.Now())}
	model := newTestModel(t, source)

	model, _ = pressRune(model, '/')
	for _, character := range "spawn" {
		model, _ = pressRune(model, character)
	}
	if len(model.rows) != 3 {
		t.Fatalf("filtered rows = %d, want 3", len(model.rows))
	}

	// First Esc clears the text; the full list comes back.
	model, _ = pressKey(model, tea.KeyEsc)
	if model.filter.Input != "" {
		t.Fatalf("filter input after esc = %q, want empty", model.filter.Input)
	}
	if len(model.rows) != 4 {
		t.Fatalf("rows after esc = %d, want 4", len(model.rows))
	}
	if model.focusRegion != FocusFilter {
		t.Fatalf("focus after first esc = %v, want FocusFilter", model.focusRegion)
	}

	// Second Esc leaves filter mode.
	model, _ = pressKey(model, tea.KeyEsc)
	if model.focusRegion != FocusList {
		t.Fatalf("focus after second esc = %v, want FocusList", model.focusRegion)
	}
}

func TestModelFilterTreatsQAsText(t *testing.T) {
	source := &fakeSource{jobs: testJobs(time.Now())}
	model := newTestModel(t, source)

	model, _ = pressRune(model, '/')
	model, command := pressRune(model, 'q')
	if command != nil {
		t.Fatalf("q in filter mode produced a command, want none")
	}
	if model.filter.Input != "q" {
		t.Fatalf("filter input = %q, want q", model.filter.Input)
	}
}

func TestModelQuitKeys(t *testing.T) {
	source := &fakeSource{jobs: testJobs(time.Now())}
	model := newTestModel(t, source)

	_, command := pressRune(model, 'q')
	if command == nil {
		t.Fatal("q produced no command")
	}
	if _, ok := command().(tea.QuitMsg); !ok {
		t.Fatalf("q command = %T, want tea.QuitMsg", command())
	}

	// ctrl+c quits even while typing a filter.
	model, _ = pressRune(model, '/')
	_, command = pressKey(model, tea.KeyCtrlC)
	if command == nil {
		t.Fatal("ctrl+c in filter mode produced no command")
	}
	if _, ok := command().(tea.QuitMsg); !ok {
		t.Fatalf("ctrl+c command = %T, want tea.QuitMsg", command())
	}
}

func TestModelCancelRunningJob(t *testing.T) {
	source := &fakeSource{jobs: testJobs(time.Now())}
	model := newTestModel(t, source)

	// Cursor starts on the running job.
	model, command := pressRune(model, 'c')
	if command == nil {
		t.Fatal("c produced no command")
	}

	message := command()
	done, ok := message.(cancelDoneMsg)
	if !ok {
		t.Fatalf("cancel command returned %T, want cancelDoneMsg", message)
	}
	if done.jobID != "job-aaaa1111" || done.err != nil {
		t.Fatalf("cancelDoneMsg = %+v", done)
	}
	if len(source.canceled) != 1 || source.canceled[0] != "job-aaaa1111" {
		t.Fatalf("source.canceled = %v, want [job-aaaa1111]", source.canceled)
	}

	// Delivering the result sets a notice and refetches.
	updated, command := model.Update(done)
	model = updated.(Model)
	if !strings.Contains(model.notice, "canceled job-aaaa1111") {
		t.Fatalf("notice = %q, want cancel confirmation", model.notice)
	}
	if command == nil {
		t.Fatal("cancelDoneMsg produced no refetch command")
	}
	if _, ok := command().(jobsLoadedMsg); !ok {
		t.Fatal("cancelDoneMsg follow-up is not a jobs fetch")
	}
}

func TestModelCancelTerminalJobRefused(t *testing.T) {
	source := &fakeSource{jobs: testJobs(time.Now())}
	model := newTestModel(t, source)

	model, _ = pressRune(model, 'G') // job-dddd4444, failed
	model, command := pressRune(model, 'c')
	if command != nil {
		t.Fatal("cancel on a terminal job produced a command")
	}
	if !strings.Contains(model.notice, "already failed") {
		t.Fatalf("notice = %q, want already-failed message", model.notice)
	}
	if len(source.canceled) != 0 {
		t.Fatalf("source.canceled = %v, want empty", source.canceled)
	}
}

func TestModelHeatIgnitesOnStatusChange(t *testing.T) {
	now := time.Now()
	jobs := testJobs(now)
	source := &fakeSource{jobs: jobs}
	model := newTestModel(t, source)

	// The first poll never glows.
	if model.heatTracker.HasHot(now) {
		t.Fatal("heat after first poll, want none")
	}

	changed := testJobs(now)
	changed[1].Status = queue.StatusRunning
	updated, _ := model.Update(jobsLoadedMsg{jobs: changed, at: now})
	model = updated.(Model)

	if !model.heatTracker.HasHot(now) {
		t.Fatal("no heat after status change")
	}
	if model.heatTracker.Heat("job-bbbb2222", now) <= 0 {
		t.Fatal("changed job is not hot")
	}
	if model.heatTracker.Heat("job-aaaa1111", now) > 0 {
		t.Fatal("unchanged job is hot")
	}
}

func TestModelHeatKindForFailure(t *testing.T) {
	now := time.Now()
	source := &fakeSource{jobs: testJobs(now)}
	model := newTestModel(t, source)

	changed := testJobs(now)
	changed[0].Status = queue.StatusFailed
	changed[0].LastError = "lease expired"
	updated, _ := model.Update(jobsLoadedMsg{jobs: changed, at: now})
	model = updated.(Model)

	if got := model.heatTracker.Kind("job-aaaa1111"); got != tui.HeatRemove {
		t.Fatalf("heat kind = %v, want HeatRemove", got)
	}
}

func TestModelPollErrorShownInHeader(t *testing.T) {
	source := &fakeSource{jobs: testJobs(time.Now())}
	model := newTestModel(t, source)

	updated, _ := model.Update(jobsLoadedMsg{err: errors.New("connection refused")})
	model = updated.(Model)

	view := ansi.Strip(model.View())
	if !strings.Contains(view, "connection refused") {
		t.Fatal("poll error missing from view")
	}

	// Jobs from the previous poll stay on screen.
	if !strings.Contains(view, "job-aaaa1111") {
		t.Fatal("stale jobs dropped from view on poll error")
	}
}

func TestModelViewShowsJobsAndCounts(t *testing.T) {
	source := &fakeSource{jobs: testJobs(time.Now())}
	model := newTestModel(t, source)

	view := ansi.Strip(model.View())
	for _, want := range []string{
		"moltlets jobs", "fleet molt",
		"job-aaaa1111", "cattle.spawn", "maren", "rex",
		"job-cccc3333", "cattle.reap",
		"1 queued", "1 running", "1 done", "1 failed",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	// The failed job's error shows in the detail pane once selected.
	model, _ = pressRune(model, 'G')
	view = ansi.Strip(model.View())
	if !strings.Contains(view, "hcloud: server limit exceeded") {
		t.Error("selected job's error missing from detail pane")
	}
}

func TestModelEmptyQueueView(t *testing.T) {
	source := &fakeSource{}
	model := newTestModel(t, source)

	view := ansi.Strip(model.View())
	if !strings.Contains(view, "queue is empty") {
		t.Fatal("empty-queue message missing from view")
	}
	if !strings.Contains(view, "no jobs") {
		t.Fatal("footer missing no-jobs state")
	}
}

func TestModelTabTogglesFocus(t *testing.T) {
	source := &fakeSource{jobs: testJobs(time.Now())}
	model := newTestModel(t, source)

	if model.focusRegion != FocusList {
		t.Fatalf("initial focus = %v, want FocusList", model.focusRegion)
	}
	model, _ = pressKey(model, tea.KeyTab)
	if model.focusRegion != FocusDetail {
		t.Fatalf("focus after tab = %v, want FocusDetail", model.focusRegion)
	}
	model, _ = pressKey(model, tea.KeyTab)
	if model.focusRegion != FocusList {
		t.Fatalf("focus after second tab = %v, want FocusList", model.focusRegion)
	}
}

func TestModelSplitRatioClamps(t *testing.T) {
	source := &fakeSource{jobs: testJobs(time.Now())}
	model := newTestModel(t, source)

	for range 20 {
		model, _ = pressRune(model, ']')
	}
	if model.splitRatio > splitRatioMax+0.001 {
		t.Fatalf("splitRatio grew past the cap: %v", model.splitRatio)
	}

	for range 20 {
		model, _ = pressRune(model, '[')
	}
	if model.splitRatio < splitRatioMin-0.001 {
		t.Fatalf("splitRatio shrank past the floor: %v", model.splitRatio)
	}
}

func TestModelRefreshKey(t *testing.T) {
	source := &fakeSource{jobs: testJobs(time.Now())}
	model := newTestModel(t, source)

	_, command := pressRune(model, 'r')
	if command == nil {
		t.Fatal("r produced no command")
	}
	if _, ok := command().(jobsLoadedMsg); !ok {
		t.Fatal("r command is not a jobs fetch")
	}
}

func TestModelStaleEventsIgnored(t *testing.T) {
	now := time.Now()
	source := &fakeSource{jobs: testJobs(now)}
	model := newTestModel(t, source)

	// Events for a job that is no longer selected must not land in
	// the detail pane.
	updated, _ := model.Update(eventsLoadedMsg{
		jobID:  "job-cccc3333",
		events: []queue.Event{{JobID: "job-cccc3333", Type: queue.EventEnqueue, At: now}},
	})
	model = updated.(Model)
	if model.detailEventsID != "" {
		t.Fatalf("stale events cached: %q", model.detailEventsID)
	}

	updated, _ = model.Update(eventsLoadedMsg{
		jobID:  "job-aaaa1111",
		events: []queue.Event{{JobID: "job-aaaa1111", Type: queue.EventClaim, At: now}},
	})
	model = updated.(Model)
	if model.detailEventsID != "job-aaaa1111" {
		t.Fatalf("detailEventsID = %q, want job-aaaa1111", model.detailEventsID)
	}

	view := ansi.Strip(model.View())
	if !strings.Contains(view, string(queue.EventClaim)) {
		t.Fatal("claim event missing from detail pane")
	}
}

func TestModelPollTickChains(t *testing.T) {
	source := &fakeSource{jobs: testJobs(time.Now())}
	model := newTestModel(t, source)

	_, command := model.Update(pollTickMsg{})
	if command == nil {
		t.Fatal("poll tick produced no command")
	}
}
