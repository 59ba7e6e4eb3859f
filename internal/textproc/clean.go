// Package textproc provides the text normalization used ahead of indexing:
// markdown cleaning and canonical URL computation.
package textproc

import (
	"strings"
	"unicode"
)

// CleanMarkdown normalizes a markdown body for indexing. Runs of spaces and
// tabs collapse to one space, runs of more than two newlines collapse to two,
// and non-printable characters other than newline and tab are dropped.
// Returns the empty string when nothing survives.
func CleanMarkdown(text string) string {
	if text == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(text))

	var pendingSpace bool
	newlineRun := 0
	wrote := false

	for _, r := range text {
		switch {
		case r == '\n' || r == '\r':
			if r == '\r' {
				continue
			}
			pendingSpace = false
			newlineRun++
			continue
		case r == ' ' || r == '\t':
			pendingSpace = true
			continue
		case !unicode.IsPrint(r):
			continue
		}

		if newlineRun > 0 && wrote {
			if newlineRun > 2 {
				newlineRun = 2
			}
			b.WriteString(strings.Repeat("\n", newlineRun))
			pendingSpace = false
		}
		newlineRun = 0

		if pendingSpace && wrote {
			b.WriteByte(' ')
		}
		pendingSpace = false

		b.WriteRune(r)
		wrote = true
	}

	return b.String()
}
