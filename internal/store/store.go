package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/ruxailab/accessiblity-testing-backend/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned by Update when no report has the given id.
var ErrNotFound = errors.New("report not found")

// Repository persists scan reports. Implementations must be safe for
// concurrent use.
type Repository interface {
	// Add stores r and returns its new id.
	Add(ctx context.Context, r *schemas.Report) (string, error)
	// FindByTestID returns nil, nil when no report carries testID.
	FindByTestID(ctx context.Context, testID string) (*schemas.Report, error)
	Update(ctx context.Context, id string, fields ReportUpdate) error
}

// ReportUpdate lists the report fields that may change after creation. Nil
// fields are left untouched.
type ReportUpdate struct {
	DocumentTitle *string
	SnapshotHTML  *string
	ModifiedHTML  *string
}

func (u ReportUpdate) empty() bool {
	return u.DocumentTitle == nil && u.SnapshotHTML == nil && u.ModifiedHTML == nil
}

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema creates the report tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS reports (
    id UUID PRIMARY KEY,
    test_id TEXT NOT NULL UNIQUE,
    url TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    document_title TEXT NOT NULL DEFAULT '',
    issues JSONB NOT NULL DEFAULT '[]',
    issue_count INTEGER NOT NULL DEFAULT 0,
    summary JSONB NOT NULL DEFAULT '{}',
    snapshot_html TEXT,
    modified_html TEXT
);
CREATE TABLE IF NOT EXISTS report_findings (
    report_id UUID NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    code TEXT NOT NULL,
    type TEXT NOT NULL,
    type_code INTEGER NOT NULL,
    message TEXT NOT NULL,
    selector TEXT NOT NULL DEFAULT '',
    context TEXT NOT NULL DEFAULT '',
    runner TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (report_id, position)
);
`

const (
	sqlInsertReport = `
        INSERT INTO reports (id, test_id, url, created_at, document_title, issues, issue_count, summary, snapshot_html, modified_html)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
    `
	sqlSelectReport = `
        SELECT id, test_id, url, created_at, document_title, issues, issue_count, summary, snapshot_html, modified_html
        FROM reports
        WHERE test_id = $1;
    `
	sqlSelectFindings = `
        SELECT code, type, type_code, message, selector, context, runner
        FROM report_findings
        WHERE report_id = $1
        ORDER BY position ASC;
    `
)

var findingColumns = []string{"report_id", "position", "code", "type", "type_code", "message", "selector", "context", "runner"}

// Store provides a PostgreSQL implementation of the Repository interface.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ Repository = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.log.Debug("Report schema applied.")
	return nil
}

// Add inserts the report and its raw findings in one transaction and sets
// r.ID on success.
func (s *Store) Add(ctx context.Context, r *schemas.Report) (string, error) {
	issues, err := marshalJSON(r.Issues, "[]")
	if err != nil {
		return "", fmt.Errorf("failed to encode issues: %w", err)
	}
	summary, err := marshalJSON(r.Summary, "{}")
	if err != nil {
		return "", fmt.Errorf("failed to encode summary: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	id := uuid.NewString()
	_, err = tx.Exec(ctx, sqlInsertReport,
		id, r.TestID, r.URL, r.CreatedAt.UTC(), r.DocumentTitle,
		issues, r.IssueCount, summary, r.SnapshotHTML, r.ModifiedHTML,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert report: %w", err)
	}

	if len(r.Findings) > 0 {
		if err := persistFindings(ctx, tx, id, r.Findings); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	r.ID = id
	s.log.Debug("Report stored.", zap.String("id", id), zap.String("test_id", r.TestID), zap.Int("findings", len(r.Findings)))
	return id, nil
}

func persistFindings(ctx context.Context, tx pgx.Tx, reportID string, findings []schemas.Finding) error {
	rows := make([][]interface{}, len(findings))
	for i, f := range findings {
		rows[i] = []interface{}{reportID, i, f.Code, f.Type, f.TypeCode, f.Message, f.Selector, f.Context, f.Runner}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"report_findings"}, findingColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy findings: %w", err)
	}
	if int(copyCount) != len(findings) {
		return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(findings), copyCount)
	}
	return nil
}

// FindByTestID loads a report with its raw findings.
func (s *Store) FindByTestID(ctx context.Context, testID string) (*schemas.Report, error) {
	var (
		r              schemas.Report
		issues, summ   []byte
		snapshot, html *string
	)
	err := s.pool.QueryRow(ctx, sqlSelectReport, testID).Scan(
		&r.ID, &r.TestID, &r.URL, &r.CreatedAt, &r.DocumentTitle,
		&issues, &r.IssueCount, &summ, &snapshot, &html,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query report: %w", err)
	}
	if err := json.Unmarshal(issues, &r.Issues); err != nil {
		return nil, fmt.Errorf("failed to decode issues of report %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(summ, &r.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary of report %s: %w", r.ID, err)
	}
	r.SnapshotHTML, r.ModifiedHTML = snapshot, html

	findings, err := s.findings(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.Findings = findings
	return &r, nil
}

func (s *Store) findings(ctx context.Context, reportID string) ([]schemas.Finding, error) {
	rows, err := s.pool.Query(ctx, sqlSelectFindings, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []schemas.Finding
	for rows.Next() {
		var f schemas.Finding
		if err := rows.Scan(&f.Code, &f.Type, &f.TypeCode, &f.Message, &f.Selector, &f.Context, &f.Runner); err != nil {
			return nil, fmt.Errorf("failed to scan finding row: %w", err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return findings, nil
}

// Update sets the non-nil fields of the report with the given id.
func (s *Store) Update(ctx context.Context, id string, fields ReportUpdate) error {
	if fields.empty() {
		return nil
	}
	sql, args := updateStatement(id, fields)
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to update report %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// updateStatement builds the UPDATE for the non-nil fields, always in
// column order so statements are stable.
func updateStatement(id string, fields ReportUpdate) (string, []interface{}) {
	var (
		sets []string
		args []interface{}
	)
	add := func(column string, v *string) {
		if v == nil {
			return
		}
		args = append(args, *v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("document_title", fields.DocumentTitle)
	add("snapshot_html", fields.SnapshotHTML)
	add("modified_html", fields.ModifiedHTML)

	args = append(args, id)
	return fmt.Sprintf("UPDATE reports SET %s WHERE id = $%d;", strings.Join(sets, ", "), len(args)), args
}

func marshalJSON(v interface{}, empty string) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return []byte(empty), nil
	}
	return data, nil
}
