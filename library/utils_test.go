package library

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripBearerPrefix(t *testing.T) {
	for _, tc := range []struct {
		header, want string
	}{
		{"", ""},
		{" \t ", ""},
		{"tok", "tok"},
		{"Bearer tok", "tok"},
		{"BEARER tok", "tok"},
		{"  bearer   tok  ", "tok"},
		{"Bearer Bearer tok", "tok"},
		{"Bearer", "Bearer"},
		{"Bearertok", "Bearertok"},
		{"Basic dXNlcjpwdw==", "Basic dXNlcjpwdw=="},
	} {
		require.Equal(t, tc.want, StripBearerPrefix(tc.header), "header %q", tc.header)
	}
}
