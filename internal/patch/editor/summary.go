package editor

import (
	"fmt"
	"strings"

	"github.com/Laisky/codepatch/internal/patch"
)

// GenerateDiffSummary renders an edit batch for audit and UI display,
// grouped per file in first-appearance order.
//
//	src/a.ts (2 edits)
//	  - replace lines 10-12: fix constant
//	  - insert after line 5: add import
func GenerateDiffSummary(edits []patch.LineEdit) string {
	if len(edits) == 0 {
		return "no edits"
	}

	var b strings.Builder
	for i, group := range groupByFile(edits) {
		if i > 0 {
			b.WriteByte('\n')
		}
		noun := "edits"
		if len(group.edits) == 1 {
			noun = "edit"
		}
		fmt.Fprintf(&b, "%s (%d %s)\n", group.path, len(group.edits), noun)
		for _, ie := range group.edits {
			fmt.Fprintf(&b, "  - %s: %s\n", describeRange(ie.edit), strings.TrimSpace(ie.edit.Description))
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// describeRange names the action and the lines it touches.
func describeRange(edit patch.LineEdit) string {
	switch edit.Action {
	case patch.ActionCreate:
		return "create file"
	case patch.ActionInsert:
		if edit.InsertAfterLine == nil {
			return "insert"
		}
		if *edit.InsertAfterLine == 0 {
			return "insert at top"
		}
		return fmt.Sprintf("insert after line %d", *edit.InsertAfterLine)
	case patch.ActionReplace, patch.ActionDelete:
		switch {
		case edit.StartLine == nil || edit.EndLine == nil:
			return string(edit.Action)
		case *edit.StartLine == *edit.EndLine:
			return fmt.Sprintf("%s line %d", edit.Action, *edit.StartLine)
		default:
			return fmt.Sprintf("%s lines %d-%d", edit.Action, *edit.StartLine, *edit.EndLine)
		}
	default:
		return string(edit.Action)
	}
}
