// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobui

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/regenrek/moltlets-sub007/lib/queue"
	"github.com/regenrek/moltlets-sub007/lib/tui"
)

func TestFormatAge(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want string
	}{
		{-5 * time.Second, "0s"},
		{0, "0s"},
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m"},
		{59 * time.Minute, "59m"},
		{2 * time.Hour, "2h"},
		{36 * time.Hour, "1d"},
		{73 * time.Hour, "3d"},
	}
	for _, test := range tests {
		if got := formatAge(test.age); got != test.want {
			t.Errorf("formatAge(%v) = %q, want %q", test.age, got, test.want)
		}
	}
}

func TestJobInfo(t *testing.T) {
	tests := []struct {
		name string
		job  queue.Job
		want string
	}{
		{
			name: "spawn with persona",
			job: queue.Job{
				Kind:    queue.KindCattleSpawn,
				Payload: json.RawMessage(`{"persona":"rex"}`),
			},
			want: "rex",
		},
		{
			name: "spawn without payload",
			job:  queue.Job{Kind: queue.KindCattleSpawn},
			want: "",
		},
		{
			name: "reap dry run",
			job: queue.Job{
				Kind:    queue.KindCattleReap,
				Payload: json.RawMessage(`{"dryRun":true}`),
			},
			want: "dry-run",
		},
		{
			name: "reap sweep",
			job: queue.Job{
				Kind:    queue.KindCattleReap,
				Payload: json.RawMessage(`{"dryRun":false}`),
			},
			want: "sweep",
		},
		{
			name: "error appended",
			job: queue.Job{
				Kind:      queue.KindCattleSpawn,
				Payload:   json.RawMessage(`{"persona":"rex"}`),
				LastError: "provider HTTP 500",
			},
			want: "rex · provider HTTP 500",
		},
		{
			name: "error alone",
			job: queue.Job{
				Kind:      queue.KindCattleSpawn,
				LastError: "provider HTTP 500",
			},
			want: "provider HTTP 500",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := jobInfo(test.job); got != test.want {
				t.Errorf("jobInfo = %q, want %q", got, test.want)
			}
		})
	}
}

func TestStatusGlyph(t *testing.T) {
	tests := []struct {
		status queue.Status
		want   string
	}{
		{queue.StatusQueued, "◌"},
		{queue.StatusRunning, "●"},
		{queue.StatusDone, "✓"},
		{queue.StatusFailed, "✗"},
		{queue.StatusCanceled, "⊘"},
		{queue.Status("bogus"), "?"},
	}
	for _, test := range tests {
		if got := statusGlyph(test.status); got != test.want {
			t.Errorf("statusGlyph(%q) = %q, want %q", test.status, got, test.want)
		}
	}
}

func TestRenderRowContainsFields(t *testing.T) {
	now := time.Now()
	job := queue.Job{
		ID:          "job-aaaa1111",
		Kind:        queue.KindCattleSpawn,
		Requester:   "maren",
		Payload:     json.RawMessage(`{"persona":"rex"}`),
		Status:      queue.StatusRunning,
		Attempt:     1,
		MaxAttempts: 3,
		CreatedAt:   now.Add(-3 * time.Minute),
	}
	renderer := NewListRenderer(tui.DefaultTheme, 100)

	row := ansi.Strip(renderer.RenderRow(job, false, now))
	for _, want := range []string{"● running", "job-aaaa1111", "cattle.spawn", "maren", "1/3", "3m", "rex"} {
		if !strings.Contains(row, want) {
			t.Errorf("row missing %q: %q", want, row)
		}
	}

	selected := ansi.Strip(renderer.RenderRow(job, true, now))
	if !strings.Contains(selected, "job-aaaa1111") {
		t.Errorf("selected row missing job ID: %q", selected)
	}
}

func TestRenderRowTruncatesLongError(t *testing.T) {
	now := time.Now()
	job := queue.Job{
		ID:          "job-dddd4444",
		Kind:        queue.KindCattleSpawn,
		Requester:   "maren",
		Status:      queue.StatusFailed,
		Attempt:     3,
		MaxAttempts: 3,
		LastError:   strings.Repeat("server limit exceeded ", 20),
		CreatedAt:   now,
	}
	renderer := NewListRenderer(tui.DefaultTheme, 90)

	row := renderer.RenderRow(job, false, now)
	if got := ansi.StringWidth(row); got > 90 {
		t.Errorf("row width = %d, want <= 90", got)
	}
}

func TestRenderHeaderColumns(t *testing.T) {
	renderer := NewListRenderer(tui.DefaultTheme, 100)
	header := ansi.Strip(renderer.RenderHeader())
	for _, want := range []string{"status", "job", "kind", "requester", "att", "age", "info"} {
		if !strings.Contains(header, want) {
			t.Errorf("header missing %q: %q", want, header)
		}
	}
}
