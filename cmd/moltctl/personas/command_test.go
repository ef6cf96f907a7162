// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package personas

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/regenrek/moltlets-sub007/lib/persona"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// execute runs the personas command group with a fresh command tree.
func execute(t *testing.T, daemonURL string, args ...string) error {
	t.Helper()
	full := append([]string{args[0], "--api", daemonURL}, args[1:]...)
	return Command().Execute(context.Background(), full, testLogger())
}

func TestCommandHasSubcommands(t *testing.T) {
	command := Command()

	if command.Name != "personas" {
		t.Errorf("command name: got %q, want %q", command.Name, "personas")
	}

	expected := map[string]bool{
		"list": false,
		"show": false,
	}

	for _, sub := range command.Subcommands {
		if _, ok := expected[sub.Name]; !ok {
			t.Errorf("unexpected subcommand: %q", sub.Name)
			continue
		}
		expected[sub.Name] = true
	}

	for name, found := range expected {
		if !found {
			t.Errorf("missing expected subcommand: %q", name)
		}
	}
}

func TestListFetchesPersonas(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		path = request.URL.Path
		writer.Write([]byte(`{"personas":[
			{"name":"rex","provider":"openai","model":"gpt-5","description":"triage bot"},
			{"name":"scout","provider":"anthropic","model":"claude-sonnet-4-5"}
		]}`))
	}))
	defer server.Close()

	if err := execute(t, server.URL, "list"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if path != "/v1/personas" {
		t.Errorf("path: got %q, want %q", path, "/v1/personas")
	}
}

func TestShowFetchesPersonaByName(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		path = request.URL.Path
		writer.Write([]byte(`{
			"name": "rex",
			"provider": "openai",
			"model": "gpt-5",
			"extraEnvKeys": ["SENTRY_DSN"],
			"defaults": {"ttl": "90m", "serverType": "cpx31"},
			"instructions": "# Rex\n\nTriage crashes.",
			"defaultTask": {"goal": "triage"}
		}`))
	}))
	defer server.Close()

	if err := execute(t, server.URL, "show", "rex"); err != nil {
		t.Fatalf("show: %v", err)
	}
	if path != "/v1/personas/rex" {
		t.Errorf("path: got %q, want %q", path, "/v1/personas/rex")
	}
}

func TestShowRequiresName(t *testing.T) {
	err := Command().Execute(context.Background(), []string{"show"}, testLogger())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got, want := err.Error(), "usage: moltctl personas show <name>"; got != want {
		t.Errorf("error: got %q, want %q", got, want)
	}
}

func TestShowSurfacesNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		http.Error(writer, `{"error":"unknown persona"}`, http.StatusNotFound)
	}))
	defer server.Close()

	err := execute(t, server.URL, "show", "ghost")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Errorf("error does not name the persona: %v", err)
	}
}

func TestFormatDefaults(t *testing.T) {
	tests := []struct {
		name     string
		defaults persona.Defaults
		want     string
	}{
		{
			name: "all fields",
			defaults: persona.Defaults{
				TTL:        90 * time.Minute,
				ServerType: "cpx31",
				Location:   "fsn1",
				Image:      "ubuntu-24.04",
			},
			want: "ttl 1h30m0s, server-type cpx31, location fsn1, image ubuntu-24.04",
		},
		{
			name:     "partial",
			defaults: persona.Defaults{ServerType: "cpx41"},
			want:     "server-type cpx41",
		},
		{
			name: "zero",
			want: "",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := formatDefaults(test.defaults); got != test.want {
				t.Errorf("formatDefaults: got %q, want %q", got, test.want)
			}
		})
	}
}

// TestRenderInstructionsPipe verifies piped output passes instructions
// through verbatim. Test processes never have a terminal on stdout, so
// the pipe branch is the one this exercises.
func TestRenderInstructionsPipe(t *testing.T) {
	instructions := "# Rex\n\nTriage crashes, *carefully*."
	if got := renderInstructions(instructions); got != instructions {
		t.Errorf("piped instructions altered:\ngot  %q\nwant %q", got, instructions)
	}
}
