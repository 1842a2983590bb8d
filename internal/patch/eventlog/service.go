// Package eventlog stores a summary of every applied change set in PostgreSQL.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	gutils "github.com/Laisky/go-utils/v6"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/library/log"
)

// Clock provides the current time in UTC.
type Clock func() time.Time

// DB defines the database capabilities required by the event log.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

// Service persists and queries learning events.
type Service struct {
	db     DB
	logger logSDK.Logger
	clock  Clock
}

// ListOptions configures the result set returned by List.
type ListOptions struct {
	Page      int
	PageSize  int
	ProjectID string
	UserID    string
	SortOrder string
	From      time.Time
	To        time.Time
}

// Entry is a stored event.
type Entry struct {
	ID uuid.UUID `json:"id"`
	patch.LearningEvent
	CreatedAt time.Time `json:"createdAt"`
}

// ListResult packages the results of a List query along with the total count.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int64   `json:"total"`
}

const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 100
)

// NewService constructs a Service and creates its table when absent.
func NewService(ctx context.Context, db DB, logger logSDK.Logger, clock Clock) (*Service, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if logger == nil {
		logger = log.Logger.Named("patch_eventlog")
	}
	if clock == nil {
		clock = func() time.Time {
			return time.Now().UTC()
		}
	}

	if err := runMigrations(ctx, db); err != nil {
		return nil, errors.Wrap(err, "migrate learning events")
	}

	return &Service{db: db, logger: logger, clock: clock}, nil
}

// RecordLearningEvent stores one event.
func (s *Service) RecordLearningEvent(ctx context.Context, event patch.LearningEvent) error {
	if s == nil {
		return errors.New("event log service is nil")
	}
	project := strings.TrimSpace(event.ProjectID)
	if project == "" {
		return errors.New("project id is required")
	}
	if event.Histogram == nil {
		event.Histogram = map[patch.ChangeType]int{}
	}
	histogram, err := json.Marshal(event.Histogram)
	if err != nil {
		return errors.Wrap(err, "marshal change histogram")
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	}

	// the change set is already written, finish even if the caller went away
	ctx = context.WithoutCancel(ctx)
	_, err = s.db.Exec(ctx, `
		INSERT INTO codepatch_learning_events (
			id, project, user_id, conversation_id, reason, backup_id,
			files_changed, histogram, lines_added, lines_removed, occurred_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8::jsonb, $9, $10, $11, $12
		)
	`,
		gutils.UUID7Bytes(),
		project,
		strings.TrimSpace(event.UserID),
		strings.TrimSpace(event.ConversationID),
		event.Reason,
		event.BackupID,
		event.FilesChanged,
		string(histogram),
		event.LinesAdded,
		event.LinesRemoved,
		occurred,
		s.clock(),
	)
	if err != nil {
		return errors.Wrap(err, "insert learning event")
	}

	s.logger.Debug("recorded learning event",
		zap.String("project", project),
		zap.Int("files_changed", event.FilesChanged))
	return nil
}

// List retrieves events that match the provided filters, newest first by default.
func (s *Service) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	if s == nil {
		return nil, errors.New("event log service is nil")
	}

	project, err := sanitizeOptionalText(opts.ProjectID, maxFilterLength, "project id")
	if err != nil {
		return nil, errors.Wrap(err, "sanitize project id")
	}
	user, err := sanitizeOptionalText(opts.UserID, maxFilterLength, "user id")
	if err != nil {
		return nil, errors.Wrap(err, "sanitize user id")
	}

	page := opts.Page
	if page < 1 {
		page = defaultPage
	}
	size := opts.PageSize
	if size <= 0 {
		size = defaultPageSize
	} else if size > maxPageSize {
		size = maxPageSize
	}

	clauses := make([]string, 0, 4)
	args := make([]any, 0, 6)
	argID := 1
	if project != "" {
		clauses = append(clauses, fmt.Sprintf("project = $%d", argID))
		args = append(args, project)
		argID++
	}
	if user != "" {
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", argID))
		args = append(args, user)
		argID++
	}
	if !opts.From.IsZero() {
		clauses = append(clauses, fmt.Sprintf("occurred_at >= $%d", argID))
		args = append(args, opts.From)
		argID++
	}
	if !opts.To.IsZero() {
		clauses = append(clauses, fmt.Sprintf("occurred_at < $%d", argID))
		args = append(args, opts.To)
		argID++
	}
	whereSQL := ""
	if len(clauses) > 0 {
		whereSQL = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int64
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM codepatch_learning_events"+whereSQL, args...).Scan(&total); err != nil {
		return nil, errors.Wrap(err, "count learning events")
	}

	orderDirection := strings.ToUpper(strings.TrimSpace(opts.SortOrder))
	if orderDirection != "ASC" {
		orderDirection = "DESC"
	}
	listSQL := fmt.Sprintf(`
		SELECT id, project, user_id, conversation_id, reason, backup_id,
			files_changed, histogram, lines_added, lines_removed, occurred_at, created_at
		FROM codepatch_learning_events
		%s
		ORDER BY occurred_at %s
		OFFSET $%d LIMIT $%d
	`, whereSQL, orderDirection, argID, argID+1)
	listArgs := append(args, (page-1)*size, size)
	rows, err := s.db.Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, errors.Wrap(err, "query learning events")
	}
	defer rows.Close()

	entries := make([]Entry, 0, size)
	for rows.Next() {
		var (
			entry     Entry
			histogram []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.ProjectID,
			&entry.UserID,
			&entry.ConversationID,
			&entry.Reason,
			&entry.BackupID,
			&entry.FilesChanged,
			&histogram,
			&entry.LinesAdded,
			&entry.LinesRemoved,
			&entry.OccurredAt,
			&entry.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan learning event")
		}

		entry.Histogram = map[patch.ChangeType]int{}
		if len(histogram) > 0 {
			if err := json.Unmarshal(histogram, &entry.Histogram); err != nil {
				s.logger.Warn("decode change histogram", zap.Error(err), zap.String("event_id", entry.ID.String()))
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate learning events")
	}

	return &ListResult{Entries: entries, Total: total}, nil
}

// runMigrations creates the event table and indexes when absent.
func runMigrations(ctx context.Context, db DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS codepatch_learning_events (
			id UUID PRIMARY KEY,
			project VARCHAR(255) NOT NULL,
			user_id VARCHAR(255) NOT NULL DEFAULT '',
			conversation_id VARCHAR(255) NOT NULL DEFAULT '',
			reason TEXT NOT NULL,
			backup_id UUID NOT NULL,
			files_changed INTEGER NOT NULL,
			histogram JSONB NOT NULL,
			lines_added INTEGER NOT NULL,
			lines_removed INTEGER NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_codepatch_learning_events_project ON codepatch_learning_events (project, occurred_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_codepatch_learning_events_user ON codepatch_learning_events (user_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "execute learning event migration")
		}
	}

	return nil
}
