package editor

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineStats counts the lines added and removed between two versions of a file.
func LineStats(oldContent, newContent string) (added, removed int) {
	for _, diff := range lineDiff(oldContent, newContent) {
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			added += countLines(diff.Text)
		case diffmatchpatch.DiffDelete:
			removed += countLines(diff.Text)
		}
	}
	return added, removed
}

// Preview renders a line diff with "+ " and "- " markers. Unchanged runs
// longer than 2*context lines are collapsed.
func Preview(oldContent, newContent string, context int) string {
	var b strings.Builder
	for _, diff := range lineDiff(oldContent, newContent) {
		lines := strings.Split(strings.TrimSuffix(diff.Text, "\n"), "\n")
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			writePrefixed(&b, "+ ", lines)
		case diffmatchpatch.DiffDelete:
			writePrefixed(&b, "- ", lines)
		case diffmatchpatch.DiffEqual:
			if context >= 0 && len(lines) > 2*context {
				writePrefixed(&b, "  ", lines[:context])
				b.WriteString("  ...\n")
				writePrefixed(&b, "  ", lines[len(lines)-context:])
				continue
			}
			writePrefixed(&b, "  ", lines)
		}
	}
	return b.String()
}

// lineDiff diffs two texts line by line instead of character by character.
func lineDiff(oldContent, newContent string) []diffmatchpatch.Diff {
	dmp := diffmatchpatch.New()
	oldChars, newChars, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(oldChars, newChars, false)
	return dmp.DiffCharsToLines(diffs, lineArray)
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

func writePrefixed(b *strings.Builder, prefix string, lines []string) {
	for _, line := range lines {
		b.WriteString(prefix)
		b.WriteString(line)
		b.WriteByte('\n')
	}
}
