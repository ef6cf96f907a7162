// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/regenrek/moltlets-sub007/lib/queue"
)

// Theme defines the color palette and visual properties for moltlets'
// terminal UIs. All colors use lipgloss ANSI 256-color codes for
// broad terminal compatibility.
//
// The fields cover both universal chrome (text, selection, borders)
// and the job lifecycle colors that recur across views: the watcher
// list, job detail headers, and status summaries all color by the
// same five statuses.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Selected row.
	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	// Job status colors.
	StatusQueued   lipgloss.Color
	StatusRunning  lipgloss.Color
	StatusDone     lipgloss.Color
	StatusFailed   lipgloss.Color
	StatusCanceled lipgloss.Color

	// UI chrome.
	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color

	// Animation accents: background tint for recently-changed items.
	// HotAccentPut is used for created/updated items; HotAccentRemove
	// for items that left the view.
	HotAccentPut    lipgloss.Color
	HotAccentRemove lipgloss.Color

	// Filter match highlighting.
	SearchHighlightBackground lipgloss.Color

	// Inline links in rendered markdown.
	LinkForeground lipgloss.Color
}

// StatusColor returns the color for a job status. Unknown values
// return FaintText.
func (theme Theme) StatusColor(status queue.Status) lipgloss.Color {
	switch status {
	case queue.StatusQueued:
		return theme.StatusQueued
	case queue.StatusRunning:
		return theme.StatusRunning
	case queue.StatusDone:
		return theme.StatusDone
	case queue.StatusFailed:
		return theme.StatusFailed
	case queue.StatusCanceled:
		return theme.StatusCanceled
	default:
		return theme.FaintText
	}
}

// DefaultTheme is the built-in dark-terminal color scheme. Designed for
// 256-color terminals with a dark background (the common case for
// development environments and tmux sessions).
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	SelectedBackground: lipgloss.Color("236"),
	SelectedForeground: lipgloss.Color("255"),

	StatusQueued:   lipgloss.Color("75"),  // blue
	StatusRunning:  lipgloss.Color("220"), // yellow/amber
	StatusDone:     lipgloss.Color("114"), // green
	StatusFailed:   lipgloss.Color("196"), // red
	StatusCanceled: lipgloss.Color("245"), // gray

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("241"),

	HotAccentPut:    lipgloss.Color("58"), // dark amber background tint
	HotAccentRemove: lipgloss.Color("52"), // dark red background tint

	SearchHighlightBackground: lipgloss.Color("58"), // dark amber (matches HotAccentPut)

	LinkForeground: lipgloss.Color("75"), // blue (matches queued)
}
