package store

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ruxailab/accessiblity-testing-backend/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

// utcTime accepts only timestamps already converted to UTC.
var utcTime = ArgumentMatcherFunc(func(v interface{}) bool {
	ts, ok := v.(time.Time)
	return ok && ts.Location() == time.UTC
})

// jsonEq matches an encoded JSON argument by value rather than by bytes.
func jsonEq(want string) ArgumentMatcherFunc {
	return func(v interface{}) bool {
		data, ok := v.([]byte)
		if !ok {
			return false
		}
		var got, exp interface{}
		if json.Unmarshal(data, &got) != nil || json.Unmarshal([]byte(want), &exp) != nil {
			return false
		}
		return reflect.DeepEqual(got, exp)
	}
}

func newMockStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func strPtr(s string) *string { return &s }

func sampleReport() *schemas.Report {
	loc := time.FixedZone("EST", -5*60*60)
	return &schemas.Report{
		TestID:        "test-123",
		URL:           "https://example.com/",
		CreatedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, loc),
		DocumentTitle: "Example",
		Findings: []schemas.Finding{
			{Code: "image-alt", Type: "error", TypeCode: 1, Message: "Images must have alternate text", Selector: "#hero", Runner: "axe"},
			{Code: "region", Type: "warning", TypeCode: 2, Message: "Landmarks", Runner: "axe"},
		},
		Issues:       []schemas.ResolvedIssue{{ID: "a11y-001", Rule: "image-alt", Impact: schemas.ImpactCritical}},
		IssueCount:   1,
		Summary:      schemas.Summary{Total: 1, Critical: 1, NonVisual: 1},
		SnapshotHTML: strPtr("<html></html>"),
	}
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestMigrate(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	mockPool.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS reports")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("should insert the report and copy its findings", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newMockStore(t, zap.New(observedZapCore))
		r := sampleReport()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertReport)).
			WithArgs(
				pgxmock.AnyArg(), "test-123", "https://example.com/", utcTime, "Example",
				jsonEq(`[{"id":"a11y-001","rule":"image-alt","message":"","impact":"critical","wcag":null,"selector":null,"xpath":null,"context":null,"boundingBox":null,"visualizable":false}]`),
				1,
				jsonEq(`{"total":1,"critical":1,"serious":0,"moderate":0,"minor":0,"visualizable":0,"nonVisual":1}`),
				r.SnapshotHTML, (*string)(nil),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"report_findings"}, findingColumns).WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		id, err := s.Add(ctx, r)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.Equal(t, id, r.ID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should encode empty issue sets as arrays and skip the copy", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		r := &schemas.Report{TestID: "empty", URL: "https://example.com/", CreatedAt: time.Now()}

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertReport)).
			WithArgs(pgxmock.AnyArg(), "empty", "https://example.com/", utcTime, "",
				jsonEq(`[]`), 0, pgxmock.AnyArg(), (*string)(nil), (*string)(nil)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		_, err := s.Add(ctx, r)
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when the findings copy is short", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		r := sampleReport()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertReport)).
			WithArgs(anyArgs(10)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"report_findings"}, findingColumns).WillReturnResult(1)
		mockPool.ExpectRollback()

		_, err := s.Add(ctx, r)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch in copied findings count")
		assert.Empty(t, r.ID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should propagate insert errors", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		dbErr := errors.New("duplicate key value violates unique constraint")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertReport)).
			WithArgs(anyArgs(10)...).
			WillReturnError(dbErr)
		mockPool.ExpectRollback()

		_, err := s.Add(ctx, sampleReport())
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestFindByTestID(t *testing.T) {
	ctx := context.Background()
	reportCols := []string{"id", "test_id", "url", "created_at", "document_title", "issues", "issue_count", "summary", "snapshot_html", "modified_html"}
	findingCols := []string{"code", "type", "type_code", "message", "selector", "context", "runner"}

	t.Run("should load the report with ordered findings", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		created := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectReport)).WithArgs("test-123").
			WillReturnRows(pgxmock.NewRows(reportCols).AddRow(
				"0b6f7c52-6bb1-4c4c-9d55-7c5c3c0f1a11", "test-123", "https://example.com/", created, "Example",
				[]byte(`[{"id":"a11y-001","rule":"image-alt","impact":"critical","visualizable":false}]`), 1,
				[]byte(`{"total":1,"critical":1,"nonVisual":1}`),
				(*string)(nil), strPtr("<p>annotated</p>"),
			))
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectFindings)).WithArgs("0b6f7c52-6bb1-4c4c-9d55-7c5c3c0f1a11").
			WillReturnRows(pgxmock.NewRows(findingCols).
				AddRow("image-alt", "error", 1, "Images must have alternate text", "#hero", "<img>", "axe").
				AddRow("region", "warning", 2, "Landmarks", "", "", "axe"))

		r, err := s.FindByTestID(ctx, "test-123")
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, "0b6f7c52-6bb1-4c4c-9d55-7c5c3c0f1a11", r.ID)
		assert.Equal(t, created, r.CreatedAt)
		require.Len(t, r.Issues, 1)
		assert.Equal(t, schemas.ImpactCritical, r.Issues[0].Impact)
		assert.Equal(t, schemas.Summary{Total: 1, Critical: 1, NonVisual: 1}, r.Summary)
		assert.Nil(t, r.SnapshotHTML)
		require.NotNil(t, r.ModifiedHTML)
		assert.Equal(t, "<p>annotated</p>", *r.ModifiedHTML)
		require.Len(t, r.Findings, 2)
		assert.Equal(t, "#hero", r.Findings[0].Selector)
		assert.Equal(t, 2, r.Findings[1].TypeCode)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should return nil when no report matches", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectReport)).WithArgs("missing").
			WillReturnRows(pgxmock.NewRows(reportCols))

		r, err := s.FindByTestID(ctx, "missing")
		assert.NoError(t, err)
		assert.Nil(t, r)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should reject corrupt issue JSON", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectReport)).WithArgs("bad").
			WillReturnRows(pgxmock.NewRows(reportCols).AddRow(
				"id-1", "bad", "https://example.com/", time.Now(), "", []byte(`{not json`), 0, []byte(`{}`),
				(*string)(nil), (*string)(nil),
			))

		_, err := s.FindByTestID(ctx, "bad")
		assert.ErrorContains(t, err, "failed to decode issues")
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("should set only the provided fields", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectExec(regexp.QuoteMeta("UPDATE reports SET modified_html = $1 WHERE id = $2;")).
			WithArgs("<p>x</p>", "id-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, s.Update(ctx, "id-1", ReportUpdate{ModifiedHTML: strPtr("<p>x</p>")}))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report a missing row", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectExec(regexp.QuoteMeta("UPDATE reports SET document_title = $1 WHERE id = $2;")).
			WithArgs("t", "nope").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := s.Update(ctx, "nope", ReportUpdate{DocumentTitle: strPtr("t")})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should not touch the database for an empty update", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		require.NoError(t, s.Update(ctx, "id-1", ReportUpdate{}))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestUpdateStatement(t *testing.T) {
	sql, args := updateStatement("id-9", ReportUpdate{
		DocumentTitle: strPtr("T"),
		SnapshotHTML:  strPtr("S"),
		ModifiedHTML:  strPtr("M"),
	})
	assert.Equal(t, "UPDATE reports SET document_title = $1, snapshot_html = $2, modified_html = $3 WHERE id = $4;", sql)
	assert.Equal(t, []interface{}{"T", "S", "M", "id-9"}, args)
}

// anyArgs matches n statement arguments of any value.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}
