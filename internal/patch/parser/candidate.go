package parser

import (
	"fmt"
	"math"
	"strings"

	errors "github.com/Laisky/errors/v2"

	"github.com/Laisky/codepatch/internal/patch"
)

// RecognizedTool is the only tool name a full-mode response may carry.
const RecognizedTool = "apply_changes"

// RawCandidate is an untrusted object recovered by the parse ladder.
// It becomes a trusted response only through Validate or ValidateSurgical.
type RawCandidate struct {
	fields  map[string]any
	attempt patch.ParseAttempt
}

func newCandidate(fields map[string]any, attempt patch.ParseAttempt) *RawCandidate {
	return &RawCandidate{fields: fields, attempt: attempt}
}

// Attempt returns the ladder step that produced the candidate.
func (c *RawCandidate) Attempt() patch.ParseAttempt {
	return c.attempt
}

// Validate applies structural validation and placeholder detection for full mode.
func (c *RawCandidate) Validate() (*patch.ParsedAIResponse, error) {
	if c == nil {
		return nil, errors.New("candidate is nil")
	}

	thought, err := requireString(c.fields, "thought")
	if err != nil {
		return nil, err
	}
	message, err := requireString(c.fields, "messageToUser")
	if err != nil {
		return nil, err
	}
	confirm, err := optionalBool(c.fields, "requiresConfirmation")
	if err != nil {
		return nil, err
	}

	resp := &patch.ParsedAIResponse{
		Thought:              thought,
		MessageToUser:        message,
		RequiresConfirmation: confirm,
		Attempt:              c.attempt,
	}

	if raw, ok := c.fields["files"]; ok && raw != nil {
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField, "files", "must be an object"))
		}
		resp.Files = make(patch.ProjectFileSet, len(obj))
		for path, value := range obj {
			content, ok := value.(string)
			if !ok {
				return nil, errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField,
					fmt.Sprintf("files[%q]", path), "content must be a string"))
			}
			if strings.TrimSpace(path) == "" {
				return nil, errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField, "files", "empty file path"))
			}
			resp.Files[path] = content
		}
	}

	if raw, ok := c.fields["plan"]; ok && raw != nil {
		items, ok := raw.([]any)
		if !ok {
			return nil, errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField, "plan", "must be an array"))
		}
		for i, item := range items {
			step, ok := item.(string)
			if !ok {
				return nil, errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField,
					fmt.Sprintf("plan[%d]", i), "must be a string"))
			}
			resp.Plan = append(resp.Plan, step)
		}
	}

	if raw, ok := c.fields["tool"]; ok && raw != nil {
		name, ok := raw.(string)
		if !ok || name != RecognizedTool {
			return nil, errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField, "tool",
				"unrecognized tool %v, expected %q", raw, RecognizedTool))
		}
		args, ok := c.fields["arguments"].(map[string]any)
		if !ok {
			return nil, errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField, "arguments", "must be an object"))
		}
		resp.Tool = &patch.ToolCall{Name: name, Arguments: args}
	}

	for _, path := range resp.Files.Paths() {
		if marker, found := DetectPlaceholder(resp.Files[path]); found {
			return nil, errors.WithStack(&patch.PlaceholderError{File: path, Marker: marker})
		}
	}

	return resp, nil
}

// ValidateSurgical applies surgical-mode edit validation and placeholder detection.
func (c *RawCandidate) ValidateSurgical() (*patch.SurgicalResponse, error) {
	if c == nil {
		return nil, errors.New("candidate is nil")
	}

	thought, err := optionalString(c.fields, "thought")
	if err != nil {
		return nil, err
	}
	message, err := optionalString(c.fields, "messageToUser")
	if err != nil {
		return nil, err
	}
	confirm, err := optionalBool(c.fields, "requiresConfirmation")
	if err != nil {
		return nil, err
	}

	raw, ok := c.fields["edits"]
	if !ok || raw == nil {
		return nil, errors.WithStack(patch.NewValidationError(patch.ErrCodeMissingField, "edits", "is required"))
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField, "edits", "must be an array"))
	}

	resp := &patch.SurgicalResponse{
		Thought:              thought,
		MessageToUser:        message,
		RequiresConfirmation: confirm,
		Edits:                make([]patch.LineEdit, 0, len(items)),
	}
	for i, item := range items {
		edit, err := decodeEdit(i, item)
		if err != nil {
			return nil, err
		}
		resp.Edits = append(resp.Edits, edit)
	}

	for _, edit := range resp.Edits {
		if marker, found := DetectPlaceholder(edit.Content); found {
			return nil, errors.WithStack(&patch.PlaceholderError{File: edit.File, Marker: marker})
		}
	}

	return resp, nil
}

// ValidateEditFields checks the per-edit required fields of an already decoded batch.
// It is used by callers that receive edits from a typed source instead of LLM text.
func ValidateEditFields(edits []patch.LineEdit) error {
	for i, edit := range edits {
		if err := CheckEdit(i, edit); err != nil {
			return err
		}
	}
	return nil
}

// decodeEdit converts one generic edit object into a LineEdit.
func decodeEdit(index int, item any) (patch.LineEdit, error) {
	obj, ok := item.(map[string]any)
	if !ok {
		return patch.LineEdit{}, errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField,
			fmt.Sprintf("edits[%d]", index), "must be an object"))
	}

	var edit patch.LineEdit
	var err error
	if edit.File, err = editString(index, obj, "file"); err != nil {
		return edit, err
	}
	action, err := editString(index, obj, "action")
	if err != nil {
		return edit, err
	}
	edit.Action = patch.EditAction(action)
	if edit.Description, err = editString(index, obj, "description"); err != nil {
		return edit, err
	}
	if edit.Content, err = editString(index, obj, "content"); err != nil {
		return edit, err
	}
	if edit.StartLine, err = editInt(index, obj, "startLine"); err != nil {
		return edit, err
	}
	if edit.EndLine, err = editInt(index, obj, "endLine"); err != nil {
		return edit, err
	}
	if edit.InsertAfterLine, err = editInt(index, obj, "insertAfterLine"); err != nil {
		return edit, err
	}

	if err := CheckEdit(index, edit); err != nil {
		return edit, err
	}
	return edit, nil
}

// CheckEdit enforces the required fields for each action of the edit at index.
func CheckEdit(index int, edit patch.LineEdit) error {
	field := func(name string) string { return fmt.Sprintf("edits[%d].%s", index, name) }

	if strings.TrimSpace(edit.File) == "" {
		return errors.WithStack(patch.NewValidationError(patch.ErrCodeMissingField, field("file"), "is required"))
	}
	if edit.Action == "" {
		return errors.WithStack(patch.NewValidationError(patch.ErrCodeMissingField, field("action"), "is required"))
	}
	if !edit.Action.Valid() {
		return errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField, field("action"),
			"unrecognized action %q", edit.Action))
	}
	if strings.TrimSpace(edit.Description) == "" {
		return errors.WithStack(patch.NewValidationError(patch.ErrCodeMissingField, field("description"), "is required"))
	}

	switch edit.Action {
	case patch.ActionReplace, patch.ActionDelete:
		if edit.StartLine == nil {
			return errors.WithStack(patch.NewValidationError(patch.ErrCodeMissingField, field("startLine"),
				"is required for %s", edit.Action))
		}
		if edit.EndLine == nil {
			return errors.WithStack(patch.NewValidationError(patch.ErrCodeMissingField, field("endLine"),
				"is required for %s", edit.Action))
		}
	case patch.ActionInsert:
		if edit.InsertAfterLine == nil {
			return errors.WithStack(patch.NewValidationError(patch.ErrCodeMissingField, field("insertAfterLine"),
				"is required for insert"))
		}
	}

	switch edit.Action {
	case patch.ActionCreate, patch.ActionReplace, patch.ActionInsert:
		if edit.Content == "" {
			return errors.WithStack(patch.NewValidationError(patch.ErrCodeMissingField, field("content"),
				"is required for %s", edit.Action))
		}
	}

	return nil
}

func editString(index int, obj map[string]any, key string) (string, error) {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField,
			fmt.Sprintf("edits[%d].%s", index, key), "must be a string"))
	}
	return value, nil
}

func editInt(index int, obj map[string]any, key string) (*int, error) {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return nil, nil
	}
	number, ok := raw.(float64)
	if !ok || number != math.Trunc(number) {
		return nil, errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField,
			fmt.Sprintf("edits[%d].%s", index, key), "must be an integer"))
	}
	value := int(number)
	return &value, nil
}

func requireString(fields map[string]any, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return "", errors.WithStack(patch.NewValidationError(patch.ErrCodeMissingField, key, "is required"))
	}
	value, ok := raw.(string)
	if !ok {
		return "", errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField, key, "must be a string"))
	}
	if strings.TrimSpace(value) == "" {
		return "", errors.WithStack(patch.NewValidationError(patch.ErrCodeMissingField, key, "must not be empty"))
	}
	return value, nil
}

func optionalString(fields map[string]any, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField, key, "must be a string"))
	}
	return value, nil
}

func optionalBool(fields map[string]any, key string) (bool, error) {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return false, nil
	}
	value, ok := raw.(bool)
	if !ok {
		return false, errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField, key, "must be a boolean"))
	}
	return value, nil
}
