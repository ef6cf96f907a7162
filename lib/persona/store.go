// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package persona

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by [Store.Load] when no persona directory
// with the requested name exists.
var ErrNotFound = fmt.Errorf("persona not found")

// Store loads personas from a directory. Definitions are re-read on
// every Load so edits take effect without restarting the daemon; at
// one disk read per spawn job this costs nothing.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a store rooted at dir. Panics if dir is empty;
// the caller owns configuration validation.
func NewStore(dir string, logger *slog.Logger) *Store {
	if dir == "" {
		panic("persona: NewStore requires a directory")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{dir: dir, logger: logger}
}

// Load reads and validates the named persona. Returns [ErrNotFound]
// if no such persona directory exists. The name is validated before it
// touches the filesystem, so a hostile name can never escape the
// persona root.
func (s *Store) Load(name string) (*Persona, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("invalid persona name %q", name)
	}

	dir := filepath.Join(s.dir, name)
	data, err := os.ReadFile(filepath.Join(dir, "persona.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("reading persona %s: %w", name, err)
	}

	p := &Persona{Name: name}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing persona %s: %w", name, err)
	}
	p.Name = name // the directory name wins over anything in the file

	if instructions, err := os.ReadFile(filepath.Join(dir, "instructions.md")); err == nil {
		p.Instructions = string(instructions)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading instructions for %s: %w", name, err)
	}

	if task, err := os.ReadFile(filepath.Join(dir, "task.jsonc")); err == nil {
		// Strip comments and trailing commas before parsing as
		// standard JSON.
		stripped := jsonc.ToJSON(task)
		var parsed map[string]any
		if err := json.Unmarshal(stripped, &parsed); err != nil {
			return nil, fmt.Errorf("parsing task.jsonc for %s: %w", name, err)
		}
		p.DefaultTask = stripped
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading task for %s: %w", name, err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("persona %s: %w", name, err)
	}

	s.logger.Debug("persona loaded",
		"persona", name,
		"provider", p.Provider,
		"model", p.Model,
	)
	return p, nil
}

// List returns the names of all loadable persona directories, sorted.
// Directories whose definitions fail to parse are skipped with a
// warning rather than failing the whole listing; one broken persona
// must not hide the rest from operators.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading persona directory %s: %w", s.dir, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || !ValidName(entry.Name()) {
			continue
		}
		if _, err := s.Load(entry.Name()); err != nil {
			s.logger.Warn("skipping unloadable persona",
				"persona", entry.Name(),
				"error", err,
			)
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
