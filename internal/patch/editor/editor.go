// Package editor applies line-addressed edits to a project file set.
//
// Line numbers in every edit refer to the file as it was before the batch.
// Edits are applied bottom-up so an applied edit never shifts a line that a
// pending edit still refers to.
package editor

import (
	"fmt"
	"sort"
	"strings"

	errors "github.com/Laisky/errors/v2"

	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/internal/patch/parser"
)

// indexedEdit remembers the position of an edit in the caller's batch.
type indexedEdit struct {
	index int
	edit  patch.LineEdit
}

// sortKey orders non-create edits. An insert after line k sorts above a
// replace or delete that starts at k.
func (e indexedEdit) sortKey() int {
	if e.edit.Action == patch.ActionInsert {
		return 2*(*e.edit.InsertAfterLine) + 1
	}
	return 2 * (*e.edit.StartLine)
}

// fileGroup is every edit of a batch that targets the same path.
type fileGroup struct {
	path  string
	edits []indexedEdit
}

// groupByFile groups edits per path in first-appearance order.
func groupByFile(edits []patch.LineEdit) []*fileGroup {
	var (
		groups []*fileGroup
		byPath = map[string]*fileGroup{}
	)
	for i, edit := range edits {
		group, ok := byPath[edit.File]
		if !ok {
			group = &fileGroup{path: edit.File}
			byPath[edit.File] = group
			groups = append(groups, group)
		}
		group.edits = append(group.edits, indexedEdit{index: i, edit: edit})
	}
	return groups
}

// plan is the validated, ordered work for one file.
type plan struct {
	base    string
	exists  bool
	ordered []indexedEdit
}

// planFile runs creates, checks the remaining edits against the resulting
// content and orders them for application. Every problem found is returned.
func planFile(group *fileGroup, content string, exists bool) (*plan, []error) {
	p := &plan{base: content, exists: exists}
	var rest []indexedEdit
	for _, ie := range group.edits {
		if ie.edit.Action == patch.ActionCreate {
			p.base = ie.edit.Content
			p.exists = true
			continue
		}
		rest = append(rest, ie)
	}

	if len(rest) == 0 {
		return p, nil
	}
	if !p.exists {
		return nil, []error{errors.WithStack(patch.NewValidationError(patch.ErrCodeFileNotFound,
			fmt.Sprintf("edits[%d].file", rest[0].index), "file %q does not exist", group.path))}
	}

	var problems []error
	lineCount := len(splitLines(p.base).lines)
	for _, ie := range rest {
		if err := checkBounds(ie, lineCount); err != nil {
			problems = append(problems, err)
		}
	}
	if len(problems) > 0 {
		return nil, problems
	}
	if problems = findOverlaps(group.path, rest); len(problems) > 0 {
		return nil, problems
	}

	// descending by reference line, later-supplied first on ties so that
	// inserts at the same point end up in supplied order
	sort.SliceStable(rest, func(i, j int) bool {
		ki, kj := rest[i].sortKey(), rest[j].sortKey()
		if ki != kj {
			return ki > kj
		}
		return rest[i].index > rest[j].index
	})
	p.ordered = rest
	return p, nil
}

func checkBounds(ie indexedEdit, lineCount int) error {
	field := func(name string) string { return fmt.Sprintf("edits[%d].%s", ie.index, name) }
	edit := ie.edit

	switch edit.Action {
	case patch.ActionInsert:
		after := *edit.InsertAfterLine
		if after < 0 || after > lineCount {
			return errors.WithStack(patch.NewValidationError(patch.ErrCodeOutOfRange, field("insertAfterLine"),
				"%d is outside [0, %d] of %s", after, lineCount, edit.File))
		}
	case patch.ActionReplace, patch.ActionDelete:
		start, end := *edit.StartLine, *edit.EndLine
		switch {
		case start < 1 || start > lineCount:
			return errors.WithStack(patch.NewValidationError(patch.ErrCodeOutOfRange, field("startLine"),
				"%d is outside [1, %d] of %s", start, lineCount, edit.File))
		case end < start:
			return errors.WithStack(patch.NewValidationError(patch.ErrCodeOutOfRange, field("endLine"),
				"%d is before startLine %d", end, start))
		case end > lineCount:
			return errors.WithStack(patch.NewValidationError(patch.ErrCodeOutOfRange, field("endLine"),
				"%d is outside [1, %d] of %s", end, lineCount, edit.File))
		}
	}
	return nil
}

// findOverlaps reports replace/delete ranges that intersect and inserts that
// fall strictly inside a replaced or deleted range.
func findOverlaps(path string, edits []indexedEdit) []error {
	var problems []error
	for i := 0; i < len(edits); i++ {
		a := edits[i]
		if a.edit.Action == patch.ActionInsert {
			continue
		}
		for j := 0; j < len(edits); j++ {
			if i == j {
				continue
			}
			b := edits[j]
			var overlap bool
			switch b.edit.Action {
			case patch.ActionInsert:
				after := *b.edit.InsertAfterLine
				overlap = *a.edit.StartLine <= after && after < *a.edit.EndLine
			default:
				if j < i {
					continue
				}
				overlap = *a.edit.StartLine <= *b.edit.EndLine && *b.edit.StartLine <= *a.edit.EndLine
			}
			if overlap {
				problems = append(problems, errors.WithStack(patch.NewValidationError(patch.ErrCodeOverlappingEdits,
					fmt.Sprintf("edits[%d]", b.index), "overlaps edits[%d] (%s) in %s",
					a.index, describeRange(a.edit), path)))
			}
		}
	}
	return problems
}

// ApplyEdits applies a batch of edits to current and returns the updated file set.
//
// current is never mutated. On any error no file set is returned, so a
// failing file group never leaves a partially edited file behind.
func ApplyEdits(current patch.ProjectFileSet, edits []patch.LineEdit) (patch.ProjectFileSet, error) {
	if err := parser.ValidateEditFields(edits); err != nil {
		return nil, err
	}

	updated := current.Clone()
	for _, group := range groupByFile(edits) {
		content, exists := updated[group.path]
		p, problems := planFile(group, content, exists)
		if len(problems) > 0 {
			return nil, problems[0]
		}
		updated[group.path] = p.apply()
	}

	return updated, nil
}

// apply executes the ordered edits against the planned base content.
func (p *plan) apply() string {
	doc := splitLines(p.base)
	for _, ie := range p.ordered {
		edit := ie.edit
		switch edit.Action {
		case patch.ActionInsert:
			doc.splice(*edit.InsertAfterLine, 0, doc.contentLines(edit.Content))
		case patch.ActionReplace:
			doc.splice(*edit.StartLine-1, *edit.EndLine-*edit.StartLine+1, doc.contentLines(edit.Content))
		case patch.ActionDelete:
			doc.splice(*edit.StartLine-1, *edit.EndLine-*edit.StartLine+1, nil)
		}
	}
	return doc.String()
}

// ValidateEdits is a non-failing pre-flight check of an edit batch against
// current. It returns every problem found as a human-readable message and
// an empty slice when the batch would apply cleanly.
func ValidateEdits(edits []patch.LineEdit, current patch.ProjectFileSet) []string {
	problems := []string{}

	for i, edit := range edits {
		if err := parser.CheckEdit(i, edit); err != nil {
			problems = append(problems, err.Error())
		}
	}
	// bounds cannot be checked on edits with missing fields
	if len(problems) > 0 {
		return problems
	}

	simulated := current.Clone()
	for _, group := range groupByFile(edits) {
		content, exists := simulated[group.path]
		p, errs := planFile(group, content, exists)
		for _, err := range errs {
			problems = append(problems, err.Error())
		}
		if len(errs) == 0 {
			simulated[group.path] = p.apply()
		}
	}

	return problems
}

// document is a file split into lines. A trailing newline terminates the
// last line and is not itself a line. A file whose every newline is CRLF
// keeps CRLF for all lines, spliced ones included; any other file is split
// on LF only, so a mixed file keeps its untouched lines byte for byte.
type document struct {
	lines           []string
	trailingNewline bool
	crlf            bool
}

func splitLines(content string) *document {
	if content == "" {
		return &document{}
	}

	doc := &document{trailingNewline: strings.HasSuffix(content, "\n")}
	if crlfs := strings.Count(content, "\r\n"); crlfs > 0 && crlfs == strings.Count(content, "\n") {
		doc.crlf = true
		content = strings.ReplaceAll(content, "\r\n", "\n")
	}
	doc.lines = strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	return doc
}

// contentLines splits edit content for doc. One trailing newline is ignored
// since the surrounding line structure already terminates the last line.
func (d *document) contentLines(content string) []string {
	if content == "" {
		return nil
	}
	if d.crlf {
		content = strings.ReplaceAll(content, "\r\n", "\n")
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

// splice removes n lines at offset and inserts replacement in their place.
func (d *document) splice(offset, n int, replacement []string) {
	out := make([]string, 0, len(d.lines)-n+len(replacement))
	out = append(out, d.lines[:offset]...)
	out = append(out, replacement...)
	out = append(out, d.lines[offset+n:]...)
	d.lines = out
}

func (d *document) String() string {
	if len(d.lines) == 0 {
		return ""
	}
	eol := "\n"
	if d.crlf {
		eol = "\r\n"
	}
	joined := strings.Join(d.lines, eol)
	if d.trailingNewline {
		joined += eol
	}
	return joined
}
