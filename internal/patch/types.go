// Package patch defines the shared data model of the change pipeline.
package patch

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// ProjectFileSet maps a POSIX-style file path to its full content.
type ProjectFileSet map[string]string

// Clone returns an independent copy of the file set.
func (s ProjectFileSet) Clone() ProjectFileSet {
	cloned := make(ProjectFileSet, len(s))
	for path, content := range s {
		cloned[path] = content
	}
	return cloned
}

// Paths returns the file paths in lexical order.
func (s ProjectFileSet) Paths() []string {
	paths := make([]string, 0, len(s))
	for path := range s {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Snapshot is a point-in-time copy of a project together with its version token.
// Version is 0 for a project that has never been written.
type Snapshot struct {
	Files   ProjectFileSet
	Version int64
}

// EditAction enumerates the line edit directives.
type EditAction string

const (
	// ActionCreate replaces the whole file with the edit content.
	ActionCreate EditAction = "create"
	// ActionReplace swaps lines [StartLine, EndLine] for the edit content.
	ActionReplace EditAction = "replace"
	// ActionInsert splices the edit content after InsertAfterLine.
	ActionInsert EditAction = "insert"
	// ActionDelete removes lines [StartLine, EndLine].
	ActionDelete EditAction = "delete"
)

// Valid reports whether the action is one of the recognized directives.
func (a EditAction) Valid() bool {
	switch a {
	case ActionCreate, ActionReplace, ActionInsert, ActionDelete:
		return true
	default:
		return false
	}
}

// LineEdit is one atomic, line-addressed modification.
//
// StartLine and EndLine are 1-indexed and inclusive. InsertAfterLine is a
// 0-indexed position marker where 0 means before the first line. Pointer
// fields distinguish an absent bound from a zero bound.
type LineEdit struct {
	File            string     `json:"file" yaml:"file"`
	Action          EditAction `json:"action" yaml:"action"`
	StartLine       *int       `json:"startLine,omitempty" yaml:"startLine,omitempty"`
	EndLine         *int       `json:"endLine,omitempty" yaml:"endLine,omitempty"`
	InsertAfterLine *int       `json:"insertAfterLine,omitempty" yaml:"insertAfterLine,omitempty"`
	Content         string     `json:"content,omitempty" yaml:"content,omitempty"`
	Description     string     `json:"description" yaml:"description"`
}

// Line returns a pointer to n, for building edits in code.
func Line(n int) *int {
	return &n
}

// SurgicalResponse is a validated surgical-mode LLM response.
type SurgicalResponse struct {
	Thought              string     `json:"thought"`
	Edits                []LineEdit `json:"edits"`
	MessageToUser        string     `json:"messageToUser"`
	RequiresConfirmation bool       `json:"requiresConfirmation"`
}

// ParseAttempt names the ladder step that produced a response.
type ParseAttempt string

const (
	AttemptDirect    ParseAttempt = "direct"
	AttemptSanitized ParseAttempt = "sanitized"
	AttemptPartial   ParseAttempt = "partial"
)

// ToolCall is an optional tool invocation embedded in a full-mode response.
type ToolCall struct {
	Name      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// ParsedAIResponse is a validated full-file LLM response.
type ParsedAIResponse struct {
	Thought              string         `json:"thought"`
	Plan                 []string       `json:"plan,omitempty"`
	Files                ProjectFileSet `json:"files,omitempty"`
	MessageToUser        string         `json:"messageToUser"`
	RequiresConfirmation bool           `json:"requiresConfirmation"`
	Tool                 *ToolCall      `json:"toolCall,omitempty"`
	Attempt              ParseAttempt   `json:"attempt"`
}

// ChangeType classifies a FileChange.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// FileChange is the computed delta for one path between two snapshots.
type FileChange struct {
	Path       string     `json:"path"`
	OldContent string     `json:"oldContent"`
	NewContent string     `json:"newContent"`
	ChangeType ChangeType `json:"changeType"`
}

// ChangeMeta describes why a change set is being written.
type ChangeMeta struct {
	Reason         string
	ConversationID string
	UserID         string
}

// BackupRecord is a persisted pre-change snapshot used for rollback.
type BackupRecord struct {
	ID             uuid.UUID      `json:"id"`
	ProjectID      string         `json:"projectId"`
	UserID         string         `json:"userId"`
	BackupData     ProjectFileSet `json:"backupData"`
	Reason         string         `json:"reason"`
	FileCount      int            `json:"fileCount"`
	ConversationID string         `json:"conversationId,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// LearningEvent summarizes an applied change set for later analysis.
type LearningEvent struct {
	ProjectID      string             `json:"projectId"`
	UserID         string             `json:"userId,omitempty"`
	ConversationID string             `json:"conversationId,omitempty"`
	Reason         string             `json:"reason"`
	BackupID       uuid.UUID          `json:"backupId"`
	FilesChanged   int                `json:"filesChanged"`
	Histogram      map[ChangeType]int `json:"histogram"`
	LinesAdded     int                `json:"linesAdded"`
	LinesRemoved   int                `json:"linesRemoved"`
	OccurredAt     time.Time          `json:"occurredAt"`
}
