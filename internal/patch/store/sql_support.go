package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	errors "github.com/Laisky/errors/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverSQLite is the database/sql driver name of go-sqlite3.
	DriverSQLite = "sqlite3"
	// DriverPostgres is the database/sql driver name of pgx.
	DriverPostgres = "pgx"
)

// sqlDBTX describes operations shared by sql.DB and sql.Tx.
type sqlDBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, settings Settings) (*sql.DB, error) {
	if strings.TrimSpace(settings.DSN) == "" {
		return nil, errors.New("database dsn is required")
	}
	db, err := sql.Open(settings.Driver, settings.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", settings.Driver)
	}
	if settings.Driver == DriverSQLite {
		// sqlite has a single writer, pooling only adds lock contention
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "ping %s database", settings.Driver)
	}
	return db, nil
}

// detectPostgresDialect reports whether the current database is PostgreSQL.
func detectPostgresDialect(ctx context.Context, db *sql.DB) (bool, error) {
	if db == nil {
		return false, errors.New("sql db is required")
	}

	const query = "SELECT current_setting('server_version_num')"
	var version string
	if err := db.QueryRowContext(ctx, query).Scan(&version); err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "current_setting") ||
			strings.Contains(msg, "no such function") ||
			strings.Contains(msg, "syntax error") {
			return false, nil
		}
		return false, errors.Wrap(err, "detect postgres current_setting")
	}

	return strings.TrimSpace(version) != "", nil
}

// rebindSQL rewrites positional placeholders for PostgreSQL.
func rebindSQL(query string, isPostgres bool) string {
	if !isPostgres {
		return query
	}

	var builder strings.Builder
	builder.Grow(len(query) + 8)
	argIndex := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			builder.WriteByte('$')
			builder.WriteString(strconv.Itoa(argIndex))
			argIndex++
			continue
		}
		builder.WriteByte(query[i])
	}

	return builder.String()
}
