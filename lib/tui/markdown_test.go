// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
)

// stripped renders markdown and returns ANSI-stripped visible text.
func stripped(input string, width int) string {
	return ansi.Strip(RenderMarkdown(input, DefaultTheme, width))
}

func TestRenderMarkdownEmpty(t *testing.T) {
	if result := RenderMarkdown("", DefaultTheme, 80); result != "" {
		t.Errorf("expected empty string for empty input, got %q", result)
	}
}

func TestRenderMarkdownParagraphReflow(t *testing.T) {
	// Source text hard-wrapped at ~40 columns.
	input := "This is a paragraph that was\nwritten at a narrow width with\nhard line breaks embedded in it."
	result := stripped(input, 120)

	if strings.Contains(result, "\n") {
		t.Errorf("expected no newlines at width=120, got:\n%s", result)
	}
	if !strings.Contains(result, "was written at") {
		t.Errorf("expected soft break converted to space, got:\n%s", result)
	}
}

func TestRenderMarkdownParagraphWrapsNarrow(t *testing.T) {
	input := "This is a paragraph that should be wrapped at the target width."
	result := stripped(input, 30)

	for _, line := range strings.Split(result, "\n") {
		if len(line) > 30 {
			t.Errorf("line exceeds width 30: %q (len=%d)", line, len(line))
		}
	}
}

func TestRenderMarkdownHardLineBreak(t *testing.T) {
	// Two trailing spaces create a hard line break in CommonMark.
	input := "Line one  \nLine two"
	result := stripped(input, 80)

	if !strings.Contains(result, "Line one\nLine two") {
		t.Errorf("expected hard line break preserved, got:\n%s", result)
	}
}

func TestRenderMarkdownHeading(t *testing.T) {
	input := "# Role\n\nYou are a careful reviewer.\n\n## Rules"
	result := stripped(input, 80)

	if !strings.Contains(result, "Role") || !strings.Contains(result, "Rules") {
		t.Errorf("missing heading text:\n%s", result)
	}
	// Headings are bold in the raw output.
	raw := RenderMarkdown(input, DefaultTheme, 80)
	if !strings.Contains(raw, "\x1b[1") {
		t.Error("expected bold escape for headings")
	}
}

func TestRenderMarkdownFencedCodeBlock(t *testing.T) {
	input := "Before\n\n```json\n{\"goal\": \"scan\"}\n```\n\nAfter"
	result := stripped(input, 80)

	if !strings.Contains(result, `{"goal": "scan"}`) {
		t.Errorf("missing code content:\n%s", result)
	}
	if !strings.Contains(result, "Before") || !strings.Contains(result, "After") {
		t.Errorf("surrounding paragraphs lost:\n%s", result)
	}
}

func TestRenderMarkdownFencedCodeBlockNotReflowed(t *testing.T) {
	input := "```\nline one\nline two\n```"
	result := stripped(input, 80)

	if !strings.Contains(result, "line one\nline two") {
		t.Errorf("code block lines should not reflow:\n%s", result)
	}
}

func TestRenderMarkdownBlockquote(t *testing.T) {
	input := "> quoted advice"
	result := stripped(input, 80)

	if !strings.Contains(result, "│ quoted advice") {
		t.Errorf("expected blockquote prefix, got:\n%s", result)
	}
}

func TestRenderMarkdownUnorderedList(t *testing.T) {
	input := "- first\n- second\n- third"
	result := stripped(input, 80)

	for _, item := range []string{"- first", "- second", "- third"} {
		if !strings.Contains(result, item) {
			t.Errorf("missing list item %q:\n%s", item, result)
		}
	}
}

func TestRenderMarkdownOrderedList(t *testing.T) {
	input := "1. plan\n2. execute\n3. verify"
	result := stripped(input, 80)

	for _, item := range []string{"1. plan", "2. execute", "3. verify"} {
		if !strings.Contains(result, item) {
			t.Errorf("missing list item %q:\n%s", item, result)
		}
	}
}

func TestRenderMarkdownListItemReflow(t *testing.T) {
	// A list item with a soft line break should reflow, with
	// continuation lines indented past the bullet.
	input := "- item text that\ncontinues on the next source line"
	result := stripped(input, 25)

	lines := strings.Split(result, "\n")
	if len(lines) < 2 {
		t.Fatalf("expected wrapped list item, got:\n%s", result)
	}
	if !strings.HasPrefix(lines[0], "- ") {
		t.Errorf("first line should carry the bullet: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "  ") {
		t.Errorf("continuation should be indented: %q", lines[1])
	}
}

func TestRenderMarkdownTaskCheckbox(t *testing.T) {
	input := "- [x] done thing\n- [ ] open thing"
	result := stripped(input, 80)

	if !strings.Contains(result, "[x] done thing") {
		t.Errorf("missing checked task:\n%s", result)
	}
	if !strings.Contains(result, "[ ] open thing") {
		t.Errorf("missing unchecked task:\n%s", result)
	}
}

func TestRenderMarkdownLink(t *testing.T) {
	input := "See [the runbook](https://wiki.internal/runbook) for details."
	result := stripped(input, 120)

	if !strings.Contains(result, "the runbook") {
		t.Errorf("missing link text:\n%s", result)
	}
	if !strings.Contains(result, "(https://wiki.internal/runbook)") {
		t.Errorf("missing link URL:\n%s", result)
	}
}

func TestRenderMarkdownThematicBreak(t *testing.T) {
	input := "above\n\n---\n\nbelow"
	result := stripped(input, 40)

	if !strings.Contains(result, "────") {
		t.Errorf("missing horizontal rule:\n%s", result)
	}
}

func TestRenderMarkdownTable(t *testing.T) {
	input := "| tool | use |\n|------|-----|\n| grep | search |\n| sed | edit |"
	result := stripped(input, 80)

	if !strings.Contains(result, "tool │ use") {
		t.Errorf("missing table header:\n%s", result)
	}
	if !strings.Contains(result, "grep │ search") {
		t.Errorf("missing table row:\n%s", result)
	}
}

func TestFuzzyMatchBasic(t *testing.T) {
	result := FuzzyMatch("deploy scanner fleet", []rune("scanner"), nil)
	if result.Score <= 0 {
		t.Fatal("expected positive score for substring match")
	}
	if len(result.Positions) == 0 {
		t.Fatal("expected non-empty match positions")
	}
}

func TestFuzzyMatchNonContiguous(t *testing.T) {
	result := FuzzyMatch("cattle.spawn", []rune("csp"), nil)
	if result.Score <= 0 {
		t.Fatal("expected positive score for non-contiguous fuzzy match")
	}
}

func TestFuzzyMatchNoMatch(t *testing.T) {
	result := FuzzyMatch("cattle.spawn", []rune("xyz"), nil)
	if result.Score != 0 {
		t.Errorf("expected zero score for no match, got %d", result.Score)
	}
	if len(result.Positions) != 0 {
		t.Errorf("expected empty positions for no match, got %v", result.Positions)
	}
}

func TestFuzzyMatchCaseInsensitive(t *testing.T) {
	result := FuzzyMatch("GITHUB_TOKEN missing", []rune("github"), nil)
	if result.Score <= 0 {
		t.Fatalf("expected case-insensitive match, got score=%d", result.Score)
	}
}

func TestFuzzyMatchEmptyPattern(t *testing.T) {
	result := FuzzyMatch("anything", []rune{}, nil)
	if result.Score != 0 {
		t.Errorf("expected zero score for empty pattern, got %d", result.Score)
	}
}
