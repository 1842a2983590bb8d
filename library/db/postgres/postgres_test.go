package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	dsn := BuildDSN(DialInfo{Addr: "db", DBName: "codepatch", User: "u", Pwd: "p"})
	require.Equal(t, "host=db user=u password=p dbname=codepatch port=5432 sslmode=disable TimeZone=UTC", dsn)
}

func TestNewPoolRejectsBadDSN(t *testing.T) {
	_, err := NewPool(context.Background(), "")
	require.Error(t, err)

	_, err = NewPool(context.Background(), "postgres://%zz")
	require.ErrorContains(t, err, "parse postgres dsn")
}
