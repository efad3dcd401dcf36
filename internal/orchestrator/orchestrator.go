// File: internal/orchestrator/orchestrator.go
// Description: Sequences one accessibility scan under a single deadline. It is
// injected with its collaborators through interfaces so every stage can be
// replaced in tests.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ruxailab/accessiblity-testing-backend/api/schemas"
	"github.com/ruxailab/accessiblity-testing-backend/internal/annotate"
	"github.com/ruxailab/accessiblity-testing-backend/internal/audit"
	"github.com/ruxailab/accessiblity-testing-backend/internal/browser"
	"github.com/ruxailab/accessiblity-testing-backend/internal/browser/dom"
	"github.com/ruxailab/accessiblity-testing-backend/internal/config"
	"github.com/ruxailab/accessiblity-testing-backend/internal/observability"
	"github.com/ruxailab/accessiblity-testing-backend/internal/sanitize"
	"github.com/ruxailab/accessiblity-testing-backend/internal/validate"
	"github.com/ruxailab/accessiblity-testing-backend/internal/visual"
)

const (
	// DefaultMaxDuration bounds a whole scan, cleanup excluded.
	DefaultMaxDuration = 45 * time.Second

	EngineAccessibility = "axe-core"
	EngineBrowser       = "chromium (chromedp)"

	timeoutMessage = "Maximum scan timeout exceeded"
)

// Mode selects the final transform of a scan.
type Mode string

const (
	// ModeSnapshot produces a sanitized, script-free snapshot with resolved issues.
	ModeSnapshot Mode = "snapshot"
	// ModeOverlay produces annotated HTML with inlined stylesheets and an
	// inspection script.
	ModeOverlay Mode = "overlay"
)

// ParseMode accepts a mode name in any case.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeSnapshot, ModeOverlay:
		return m, nil
	}
	return "", fmt.Errorf("unknown scan mode %q (want %q or %q)", s, ModeSnapshot, ModeOverlay)
}

// Page is the live renderer a scan drives. *browser.Session implements it.
type Page interface {
	Initialize(ctx context.Context) error
	Render(ctx context.Context, url string) (browser.PageMetrics, error)
	Evaluate(ctx context.Context, script string, res interface{}) error
	Content(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Stylesheets(ctx context.Context) ([]string, error)
	BoundingBox(ctx context.Context, selector string) visual.BoxResult
	Close(ctx context.Context)
}

var _ Page = (*browser.Session)(nil)

// Auditor runs the accessibility engine against an already rendered page.
type Auditor interface {
	Run(ctx context.Context, page audit.Evaluator) (*audit.Result, error)
}

// StylesheetFetcher downloads external stylesheets for overlay output.
type StylesheetFetcher interface {
	FetchAll(ctx context.Context, urls []string) []annotate.Stylesheet
}

// Dependencies are the collaborators of an Orchestrator. NewPage is called
// once per scan; pages are never shared between scans.
type Dependencies struct {
	NewPage func(logger *zap.Logger) Page
	Auditor Auditor
	Fetcher StylesheetFetcher
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewDependencies wires the production collaborators described by cfg.
func NewDependencies(cfg config.Interface, logger *zap.Logger) Dependencies {
	browserCfg := cfg.Browser()
	auditCfg := cfg.Audit()
	return Dependencies{
		NewPage: func(l *zap.Logger) Page { return browser.NewSession(browserCfg, l) },
		Auditor: audit.NewRunner(auditCfg, audit.NewSource(auditCfg.AxeSource, nil), logger),
		Fetcher: annotate.NewFetcher(cfg.Fetch(), nil, logger),
	}
}

// Orchestrator runs scans. It holds no per-scan state and is safe for
// concurrent use; each scan owns its own Page.
type Orchestrator struct {
	logger      *zap.Logger
	deps        Dependencies
	maxDuration time.Duration
	viewport    schemas.Viewport
}

// New creates an Orchestrator.
func New(cfg config.Interface, deps Dependencies, logger *zap.Logger) (*Orchestrator, error) {
	if cfg == nil || logger == nil || deps.NewPage == nil || deps.Auditor == nil || deps.Fetcher == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	maxDuration := cfg.Scan().MaxDuration
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	viewport := schemas.Viewport{Width: cfg.Browser().ViewportWidth, Height: cfg.Browser().ViewportHeight}
	if viewport.Width <= 0 || viewport.Height <= 0 {
		viewport = schemas.Viewport{Width: 1366, Height: 768}
	}
	return &Orchestrator{
		logger:      logger.Named("orchestrator"),
		deps:        deps,
		maxDuration: maxDuration,
		viewport:    viewport,
	}, nil
}

// Outcome is the result of Run. Exactly one of Scan and Overlay is set,
// matching Mode.
type Outcome struct {
	Mode          Mode
	URL           string
	DocumentTitle string
	Findings      []schemas.Finding
	Issues        []schemas.ResolvedIssue
	Summary       schemas.Summary
	Scan          *schemas.ScanResponse
	Overlay       *schemas.OverlayResponse
}

// Report builds the persisted form of the outcome.
func (o *Outcome) Report(testID string, createdAt time.Time) *schemas.Report {
	r := &schemas.Report{
		TestID:        testID,
		URL:           o.URL,
		CreatedAt:     createdAt,
		DocumentTitle: o.DocumentTitle,
		Findings:      o.Findings,
		Issues:        o.Issues,
		IssueCount:    len(o.Issues),
		Summary:       o.Summary,
	}
	if o.Scan != nil && o.Scan.Snapshot != nil {
		html := o.Scan.Snapshot.HTML
		r.SnapshotHTML = &html
	}
	if o.Overlay != nil {
		html := o.Overlay.AnnotatedHTML
		r.ModifiedHTML = &html
	}
	return r
}

// loggerFor binds the request correlation id carried by ctx, if any.
func (o *Orchestrator) loggerFor(ctx context.Context) *zap.Logger {
	if id := observability.CorrelationID(ctx); id != "" {
		return o.logger.With(zap.String("correlation_id", id))
	}
	return o.logger
}

// scan is the state shared by the stages of one run.
type scan struct {
	target  string
	page    Page
	metrics browser.PageMetrics
	logger  *zap.Logger
}

// Run validates rawURL and, when it is acceptable, renders, audits and
// resolves the page before producing the output selected by mode. Errors are
// always *schemas.ScanError. The browser is closed before Run returns.
func (o *Orchestrator) Run(ctx context.Context, rawURL string, mode Mode) (*Outcome, error) {
	if mode != ModeSnapshot && mode != ModeOverlay {
		return nil, schemas.NewScanError(schemas.ErrInternal, UserMessage(schemas.ErrInternal),
			fmt.Errorf("unknown scan mode %q", mode))
	}
	start := o.deps.Now()
	logger := o.loggerFor(ctx).With(zap.String("mode", string(mode)))

	var outcome *Outcome
	err := o.withPage(ctx, rawURL, logger, func(ctx context.Context, s *scan) error {
		res, err := o.deps.Auditor.Run(ctx, s.page)
		if err != nil {
			return err
		}
		html, err := s.page.Content(ctx)
		if err != nil {
			return schemas.NewScanError(schemas.ErrInternal, "Failed to extract page snapshot", err)
		}

		issues := visual.Resolve(ctx, newPageLocator(s.page, html, s.logger), res.Findings, s.logger)
		summary := visual.Summarize(issues)
		outcome = &Outcome{
			Mode:          mode,
			URL:           s.target,
			DocumentTitle: res.DocumentTitle,
			Findings:      res.Findings,
			Issues:        issues,
			Summary:       summary,
		}

		switch mode {
		case ModeOverlay:
			outcome.Overlay = &schemas.OverlayResponse{
				Summary:       summary,
				AnnotatedHTML: o.overlay(ctx, s, html, res.Findings),
			}
		default:
			snapshot, err := snapshotOf(html, s)
			if err != nil {
				return err
			}
			outcome.Scan = &schemas.ScanResponse{
				Meta: schemas.ScanMeta{
					URL:           s.target,
					ScanTime:      start.UTC(),
					DurationMs:    o.deps.Now().Sub(start).Milliseconds(),
					Engine:        schemas.EngineInfo{Accessibility: EngineAccessibility, Browser: EngineBrowser},
					Viewport:      o.viewport,
					DocumentTitle: res.DocumentTitle,
				},
				Snapshot: snapshot,
				Issues:   issues,
				Summary:  summary,
			}
		}
		return nil
	})
	if err != nil {
		return nil, o.fail(logger, err, start)
	}

	observability.Event(logger, zap.InfoLevel, "test_complete",
		zap.String("url", outcome.URL),
		zap.Int64("duration", o.deps.Now().Sub(start).Milliseconds()),
		zap.Int("totalIssues", outcome.Summary.Total),
	)
	return outcome, nil
}

// FlashResult is an audit without visual resolution or output transform.
type FlashResult struct {
	URL           string
	TestTime      time.Time
	Findings      []schemas.Finding
	DocumentTitle string
}

// Flash renders and audits rawURL and returns the raw findings.
func (o *Orchestrator) Flash(ctx context.Context, rawURL string) (*FlashResult, error) {
	start := o.deps.Now()
	logger := o.loggerFor(ctx).With(zap.String("mode", "flash"))

	var result *FlashResult
	err := o.withPage(ctx, rawURL, logger, func(ctx context.Context, s *scan) error {
		res, err := o.deps.Auditor.Run(ctx, s.page)
		if err != nil {
			return err
		}
		result = &FlashResult{
			URL:           s.target,
			TestTime:      start.UTC(),
			Findings:      res.Findings,
			DocumentTitle: res.DocumentTitle,
		}
		return nil
	})
	if err != nil {
		return nil, o.fail(logger, err, start)
	}
	observability.Event(logger, zap.InfoLevel, "test_complete",
		zap.String("url", result.URL),
		zap.Int("issueCount", len(result.Findings)),
	)
	return result, nil
}

// Annotate renders rawURL again and decorates it with previously stored
// findings. The audit is not rerun.
func (o *Orchestrator) Annotate(ctx context.Context, rawURL string, findings []schemas.Finding) (string, error) {
	start := o.deps.Now()
	logger := o.loggerFor(ctx).With(zap.String("mode", "annotate"))

	var annotated string
	err := o.withPage(ctx, rawURL, logger, func(ctx context.Context, s *scan) error {
		html, err := s.page.Content(ctx)
		if err != nil {
			return schemas.NewScanError(schemas.ErrInternal, "Failed to capture page content", err)
		}
		annotated = o.overlay(ctx, s, html, findings)
		return nil
	})
	if err != nil {
		return "", o.fail(logger, err, start)
	}
	observability.Event(logger, zap.InfoLevel, "test_complete", zap.Int("issueCount", len(findings)))
	return annotated, nil
}

// withPage validates rawURL, then acquires a page and runs initialize,
// render and fn inside the scan deadline. The page is closed on every path
// once acquired. Invalid input never acquires a page.
func (o *Orchestrator) withPage(ctx context.Context, rawURL string, logger *zap.Logger, fn func(context.Context, *scan) error) error {
	v := validate.URL(rawURL)
	if !v.Valid {
		observability.Event(logger, zap.WarnLevel, "validation_failed", zap.String("reason", v.Error))
		return schemas.NewScanError(schemas.ErrInvalidURL, v.Error, nil)
	}
	logger = logger.With(zap.String("url", v.NormalizedURL))
	observability.Event(logger, zap.InfoLevel, "validation_passed")

	runCtx, cancel := context.WithTimeout(ctx, o.maxDuration)
	defer cancel()

	observability.Event(logger, zap.InfoLevel, "test_start")
	page := o.deps.NewPage(logger)
	defer page.Close(ctx)

	err := o.stages(runCtx, &scan{target: v.NormalizedURL, page: page, logger: logger}, fn)
	if err == nil && runCtx.Err() != nil {
		err = runCtx.Err()
	}
	if err != nil {
		return classify(runCtx, err)
	}
	return nil
}

func (o *Orchestrator) stages(ctx context.Context, s *scan, fn func(context.Context, *scan) error) error {
	if err := s.page.Initialize(ctx); err != nil {
		return err
	}
	metrics, err := s.page.Render(ctx, s.target)
	if err != nil {
		return err
	}
	s.metrics = metrics
	return fn(ctx, s)
}

// classify settles the taxonomy code of a failed run. A PAGE_LOAD_TIMEOUT
// raised by navigation stands; any other failure after the scan deadline
// expired is reported as the scan timeout.
func classify(runCtx context.Context, err error) *schemas.ScanError {
	var se *schemas.ScanError
	if errors.As(err, &se) && se.Code == schemas.ErrPageLoadTimeout {
		return se
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return schemas.NewScanError(schemas.ErrInternal, timeoutMessage, err)
	}
	if se != nil {
		return se
	}
	code := Classify(err)
	return schemas.NewScanError(code, UserMessage(code), err)
}

func (o *Orchestrator) fail(logger *zap.Logger, err error, start time.Time) error {
	code := Classify(err)
	observability.Event(logger, zap.ErrorLevel, "test_failed",
		zap.String("errorCode", string(code)),
		zap.String("stage", FailureStage(code)),
		zap.Int64("duration", o.deps.Now().Sub(start).Milliseconds()),
		zap.Error(err),
	)
	return err
}

func snapshotOf(html string, s *scan) (*schemas.Snapshot, error) {
	observability.Event(s.logger, zap.InfoLevel, "snapshot_extraction_start")
	out, err := sanitize.Sanitize(html, s.target, sanitize.DefaultOptions())
	if err != nil {
		observability.Event(s.logger, zap.ErrorLevel, "snapshot_extraction_failed", zap.Error(err))
		return nil, schemas.NewScanError(schemas.ErrInternal, "Failed to extract page snapshot", err)
	}
	observability.Event(s.logger, zap.InfoLevel, "snapshot_extraction_complete",
		zap.Int("originalSize", len(html)),
		zap.Int("sanitizedSize", len(out)),
	)
	return &schemas.Snapshot{HTML: out, ScrollHeight: s.metrics.ScrollHeight, Note: schemas.SnapshotNote}, nil
}

// overlay never fails: stylesheets that cannot be listed or fetched are
// left out.
func (o *Orchestrator) overlay(ctx context.Context, s *scan, html string, findings []schemas.Finding) string {
	observability.Event(s.logger, zap.InfoLevel, "overlay_generation_start", zap.Int("findings", len(findings)))
	hrefs, err := s.page.Stylesheets(ctx)
	if err != nil {
		s.logger.Warn("Could not list page stylesheets.", zap.Error(err))
	}
	css := o.deps.Fetcher.FetchAll(ctx, hrefs)
	out := annotate.Annotate(html, findings, css)
	observability.Event(s.logger, zap.InfoLevel, "overlay_generation_complete",
		zap.Int("stylesheets", len(css)),
		zap.Int("annotatedSize", len(out)),
	)
	return out
}

// pageLocator measures boxes on the live page and names elements by XPath
// in the captured markup.
type pageLocator struct {
	page Page
	doc  *dom.Document
}

func newPageLocator(page Page, html string, logger *zap.Logger) pageLocator {
	doc, err := dom.ParseDocument(html)
	if err != nil {
		logger.Debug("Captured markup could not be parsed for XPath lookup.", zap.Error(err))
	}
	return pageLocator{page: page, doc: doc}
}

func (l pageLocator) BoundingBox(ctx context.Context, selector string) visual.BoxResult {
	return l.page.BoundingBox(ctx, selector)
}

func (l pageLocator) XPath(selector string) (string, bool) {
	if l.doc == nil {
		return "", false
	}
	return l.doc.XPathFor(selector)
}
