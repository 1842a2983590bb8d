package applicator

import (
	"sort"

	"github.com/Laisky/codepatch/internal/patch"
)

// Diff computes the changes that turn old into next, sorted by path.
//
// A path only in next is a create, a path in both with different content
// is an update and a path mapped to "" in next is a delete when old has
// it with content. Paths absent from next are not changes.
func Diff(old, next patch.ProjectFileSet) []patch.FileChange {
	return diff(old, next, true)
}

// diff is Diff with the empty-content delete convention optional. Surgical
// edits can legitimately leave a file empty without removing it.
func diff(old, next patch.ProjectFileSet, emptyMeansDelete bool) []patch.FileChange {
	changes := []patch.FileChange{}
	for path, content := range next {
		prior, existed := old[path]
		switch {
		case emptyMeansDelete && content == "":
			// an empty file mapped to "" is unchanged, keeping Diff(A, A) empty
			if existed && prior != "" {
				changes = append(changes, patch.FileChange{Path: path, OldContent: prior, ChangeType: patch.ChangeDelete})
			}
		case !existed:
			changes = append(changes, patch.FileChange{Path: path, NewContent: content, ChangeType: patch.ChangeCreate})
		case prior != content:
			changes = append(changes, patch.FileChange{Path: path, OldContent: prior, NewContent: content, ChangeType: patch.ChangeUpdate})
		}
	}
	sortChanges(changes)
	return changes
}

// restoreChanges computes the changes that make current equal to target,
// deleting every path target does not have.
func restoreChanges(current, target patch.ProjectFileSet) []patch.FileChange {
	changes := diff(current, target, false)
	for path, content := range current {
		if _, ok := target[path]; !ok {
			changes = append(changes, patch.FileChange{Path: path, OldContent: content, ChangeType: patch.ChangeDelete})
		}
	}
	sortChanges(changes)
	return changes
}

func sortChanges(changes []patch.FileChange) {
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
}
