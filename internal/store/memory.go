package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ruxailab/accessiblity-testing-backend/api/schemas"
)

// Memory is a process-local Repository used when no database is configured.
// Reports are lost on exit.
type Memory struct {
	mu      sync.RWMutex
	byID    map[string]*schemas.Report
	testIDs map[string]string
}

var _ Repository = (*Memory)(nil)

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		byID:    make(map[string]*schemas.Report),
		testIDs: make(map[string]string),
	}
}

func (m *Memory) Add(ctx context.Context, r *schemas.Report) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.testIDs[r.TestID]; exists {
		return "", fmt.Errorf("report with test id %q already exists", r.TestID)
	}
	id := uuid.NewString()
	stored := cloneReport(r)
	stored.ID = id
	m.byID[id] = stored
	m.testIDs[r.TestID] = id
	r.ID = id
	return id, nil
}

func (m *Memory) FindByTestID(ctx context.Context, testID string) (*schemas.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.testIDs[testID]
	if !ok {
		return nil, nil
	}
	return cloneReport(m.byID[id]), nil
}

func (m *Memory) Update(ctx context.Context, id string, fields ReportUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if fields.DocumentTitle != nil {
		r.DocumentTitle = *fields.DocumentTitle
	}
	if fields.SnapshotHTML != nil {
		html := *fields.SnapshotHTML
		r.SnapshotHTML = &html
	}
	if fields.ModifiedHTML != nil {
		html := *fields.ModifiedHTML
		r.ModifiedHTML = &html
	}
	return nil
}

// cloneReport copies the slices and pointers callers could mutate.
func cloneReport(r *schemas.Report) *schemas.Report {
	c := *r
	c.Findings = append([]schemas.Finding(nil), r.Findings...)
	c.Issues = append([]schemas.ResolvedIssue(nil), r.Issues...)
	if r.SnapshotHTML != nil {
		html := *r.SnapshotHTML
		c.SnapshotHTML = &html
	}
	if r.ModifiedHTML != nil {
		html := *r.ModifiedHTML
		c.ModifiedHTML = &html
	}
	return &c
}
