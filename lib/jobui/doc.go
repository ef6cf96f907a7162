// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobui implements the terminal user interface for watching
// the moltlets job queue. Built on bubbletea (Elm architecture), it
// provides a split-pane view with a status-colored job list and a
// detail pane showing payload, result, and audit events, refreshed by
// polling the daemon.
//
// Generic UI components (theme, fuzzy matching, heat animation,
// scrollbars, markdown rendering) live in [tui]. Job-specific logic
// (the data source, key bindings, filters, row and detail rendering)
// stays in this package.
//
// The Source abstraction decouples the TUI from the transport:
// [ClientSource] wraps a fleetclient.Client talking to a live daemon,
// while tests supply an in-memory fake. The TUI code is identical in
// both cases.
//
// Data flow:
//
//	[moltletd orchestrator API]
//	        | (Source interface, polled)
//	    [Model] <- bubbletea event loop
//	        |
//	  [terminal output]
package jobui
