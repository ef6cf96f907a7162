// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tui provides shared terminal user interface components for
// moltlets' interactive viewers. Built on bubbletea (Elm
// architecture), these components handle common patterns: theme and
// job status coloring, fuzzy match scoring, change animation,
// scrollbars, and markdown rendering for terminal output.
//
// Domain-specific viewers (the job queue watcher, persona display)
// import this package for consistent look and behavior. Each viewer
// owns its own data source, layout, and domain-specific rendering.
package tui
