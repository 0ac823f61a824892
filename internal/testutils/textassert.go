package testutils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/stretchr/testify/assert"
)

// TextAsserter compares command output line by line and reports a unified diff.
type TextAsserter struct {
	t                        assert.TestingT
	ignoreTrailingWhitespace bool
	trimSpace                bool
	colors                   bool
}

func NewTextAsserter(t assert.TestingT) *TextAsserter {
	return &TextAsserter{t: t, ignoreTrailingWhitespace: true, trimSpace: true, colors: true}
}

// Exact disables whitespace normalization.
func (ta *TextAsserter) Exact() *TextAsserter {
	ta.ignoreTrailingWhitespace = false
	ta.trimSpace = false
	return ta
}

// NoColor reports the diff without ANSI colors.
func (ta *TextAsserter) NoColor() *TextAsserter {
	ta.colors = false
	return ta
}

// Assert compares actual text against expected text
func (ta *TextAsserter) Assert(actual, expected string) bool {
	a, e := ta.normalize(actual), ta.normalize(expected)
	if a == e {
		return true
	}
	edits := myers.ComputeEdits("", e, a)
	unified := gotextdiff.ToUnified("expected", "actual", e, edits)
	ta.t.Errorf("Text assertion failed - unified diff:\n%s", ta.colorize(fmt.Sprint(unified)))
	return false
}

func (ta *TextAsserter) normalize(text string) string {
	if ta.trimSpace {
		text = strings.TrimSpace(text)
	}
	if !ta.ignoreTrailingWhitespace {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

func (ta *TextAsserter) colorize(diff string) string {
	if !ta.colors {
		return diff
	}

	// force colors, test output is rarely a terminal
	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()
	cyan := color.New(color.FgCyan)
	cyan.EnableColor()

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---") || strings.HasPrefix(line, "+++"):
		case strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(line)
		}
	}
	return strings.Join(lines, "\n")
}
