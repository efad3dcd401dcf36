package cmd

import (
	"os"
	"testing"
	"time"

	"github.com/ruxailab/accessiblity-testing-backend/api/schemas"
	"github.com/ruxailab/accessiblity-testing-backend/internal/mocks"
	"github.com/ruxailab/accessiblity-testing-backend/internal/orchestrator"
	"github.com/ruxailab/accessiblity-testing-backend/internal/service"
	"github.com/ruxailab/accessiblity-testing-backend/internal/store"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

// chdir changes the working directory to dir and restores it when the test
// ends (stands in for testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("chdir: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("chdir: restore %s: %v", prev, err)
		}
	})
}

// newComponents wires a mock scanner over an in-memory store.
func newComponents(scanner *mocks.MockScanner, repo store.Repository) *service.Components {
	if repo == nil {
		repo = store.NewMemory()
	}
	return &service.Components{Orchestrator: scanner, Store: repo}
}

func snapshotOutcome() *orchestrator.Outcome {
	issues := []schemas.ResolvedIssue{{
		ID: "a11y-001", Rule: "image-alt", Message: "Images must have alternate text",
		Impact: schemas.ImpactCritical, Selector: strPtr("#hero"),
	}}
	summary := schemas.Summary{Total: 1, Critical: 1, NonVisual: 1}
	return &orchestrator.Outcome{
		Mode:          orchestrator.ModeSnapshot,
		URL:           "https://example.com/",
		DocumentTitle: "Shop",
		Findings:      []schemas.Finding{{Code: "image-alt", Type: "error", TypeCode: 1, Message: "Images must have alternate text", Selector: "#hero"}},
		Issues:        issues,
		Summary:       summary,
		Scan: &schemas.ScanResponse{
			Meta:     schemas.ScanMeta{URL: "https://example.com/", ScanTime: fixedNow, DurationMs: 1200},
			Snapshot: &schemas.Snapshot{HTML: "<html><body>snapshot</body></html>", ScrollHeight: 900, Note: schemas.SnapshotNote},
			Issues:   issues,
			Summary:  summary,
		},
	}
}

func overlayOutcome() *orchestrator.Outcome {
	o := snapshotOutcome()
	o.Mode = orchestrator.ModeOverlay
	o.Scan = nil
	o.Overlay = &schemas.OverlayResponse{Summary: o.Summary, AnnotatedHTML: `<html data-issue-id="issue-0"></html>`}
	return o
}
