package config

import (
	"testing"

	gconfig "github.com/Laisky/go-config/v2"
	"github.com/stretchr/testify/require"
)

func TestValueHelpers(t *testing.T) {
	gconfig.Shared.Set("test.values.int", "42")
	gconfig.Shared.Set("test.values.bad_int", "nope")
	gconfig.Shared.Set("test.values.bool", "YES")
	gconfig.Shared.Set("test.values.float", 0.5)
	gconfig.Shared.Set("test.values.string", "  padded ")
	gconfig.Shared.Set("test.values.list", ".ts, .js,,")
	gconfig.Shared.Set("test.values.any_list", []any{".go", ".rs"})

	require.Equal(t, 42, Int("test.values.int", 1))
	require.Equal(t, 7, Int("test.values.bad_int", 7))
	require.Equal(t, int64(9), Int64("test.values.missing", 9))
	require.True(t, Bool("test.values.bool", false))
	require.True(t, Bool("test.values.missing", true))
	require.InDelta(t, 0.5, Float("test.values.float", 1), 0.0001)
	require.Equal(t, "padded", String("test.values.string", "x"))
	require.Equal(t, "x", String("test.values.missing", "x"))
	require.Equal(t, []string{".ts", ".js"}, StringSlice("test.values.list", nil))
	require.Equal(t, []string{".go", ".rs"}, StringSlice("test.values.any_list", nil))
	require.Equal(t, []string{"d"}, StringSlice("test.values.missing", []string{"d"}))
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CODEPATCH_DB_DSN", " file:test.db ")
	ApplyEnvOverrides()
	require.Equal(t, "file:test.db", gconfig.S.GetString("settings.codepatch.db.dsn"))
}
