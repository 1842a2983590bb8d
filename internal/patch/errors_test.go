package patch

import (
	"testing"

	errors "github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	require.Equal(t, ErrorCode(""), CodeOf(nil))
	require.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))

	wrapped := errors.Wrap(NewValidationError(ErrCodeOutOfRange, "edits[0].endLine", "exceeds %d", 10), "validate")
	require.True(t, IsCode(wrapped, ErrCodeOutOfRange))

	placeholder := errors.WithStack(&PlaceholderError{File: "a.ts", Marker: "// ..."})
	require.Equal(t, ErrCodePlaceholder, CodeOf(placeholder))
	require.Contains(t, placeholder.Error(), "a.ts")

	require.Equal(t, ErrCodeParseFailed, CodeOf(&ParseError{InputLength: 3}))

	apply := NewApplyError(ErrCodeStaleSnapshot, "project moved", true, errors.New("version 3 != 2"))
	require.True(t, IsCode(errors.WithStack(apply), ErrCodeStaleSnapshot))
	require.Contains(t, apply.Error(), "version 3 != 2")

	rollback := &RollbackError{Code: ErrCodeBackupNotFound, BackupID: "b1"}
	require.True(t, IsCode(rollback, ErrCodeBackupNotFound))
	require.Contains(t, rollback.Error(), "b1")
}

func TestApplyErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := errors.Wrap(NewApplyError(ErrCodeApplyFailed, "write", false, cause), "apply")
	require.True(t, errors.Is(err, cause))

	var applyErr *ApplyError
	require.True(t, errors.As(err, &applyErr))
	require.False(t, applyErr.Retryable)
}

func TestProjectFileSet(t *testing.T) {
	files := ProjectFileSet{"b.ts": "b", "a.ts": "a"}
	require.Equal(t, []string{"a.ts", "b.ts"}, files.Paths())

	cloned := files.Clone()
	cloned["a.ts"] = "changed"
	require.Equal(t, "a", files["a.ts"])
}

func TestEditActionValid(t *testing.T) {
	for _, action := range []EditAction{ActionCreate, ActionReplace, ActionInsert, ActionDelete} {
		require.True(t, action.Valid())
	}
	require.False(t, EditAction("rename").Valid())
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(errors.WithStack(NewApplyError(ErrCodeResourceBusy, "busy", true, nil))))
	require.False(t, IsRetryable(NewApplyError(ErrCodeApplyFailed, "bad", false, nil)))
	require.False(t, IsRetryable(NewValidationError(ErrCodeMissingField, "file", "is required")))
	require.False(t, IsRetryable(nil))
}
