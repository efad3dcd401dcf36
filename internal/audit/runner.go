// Package audit runs axe-core inside an already rendered page and reports
// its results as findings in the pa11y issue shape.
package audit

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ruxailab/accessiblity-testing-backend/api/schemas"
	"github.com/ruxailab/accessiblity-testing-backend/internal/config"
	"github.com/ruxailab/accessiblity-testing-backend/internal/observability"
)

// RunnerName is recorded on every finding.
const RunnerName = "axe"

// optionsPlaceholder is replaced in the embedded script with the axe.run options.
const optionsPlaceholder = "/*{{AXE_OPTIONS}}*/"

// maxContextLength bounds the HTML snippet kept per finding.
const maxContextLength = 300

//go:embed scripts/run_axe.js
var runScriptTemplate string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Evaluator executes JavaScript in a rendered page and decodes the awaited
// result into res. A nil res discards the result.
type Evaluator interface {
	Evaluate(ctx context.Context, script string, res interface{}) error
}

// Result is the outcome of one audit.
type Result struct {
	Findings      []schemas.Finding
	DocumentTitle string
}

// Runner audits pages with a fixed configuration.
type Runner struct {
	cfg    config.AuditConfig
	source ScriptSource
	logger *zap.Logger
}

// NewRunner creates a runner. The configuration is expected to be validated.
func NewRunner(cfg config.AuditConfig, source ScriptSource, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, source: source, logger: logger.Named("audit")}
}

// axe result shapes, reduced to what the mapping needs.
type axeNode struct {
	Target []interface{} `json:"target"`
	HTML   string        `json:"html"`
	Impact string        `json:"impact"`
}

type axeRule struct {
	ID      string    `json:"id"`
	Impact  string    `json:"impact"`
	Help    string    `json:"help"`
	HelpURL string    `json:"helpUrl"`
	Nodes   []axeNode `json:"nodes"`
}

type axeResults struct {
	Title      string    `json:"title"`
	Violations []axeRule `json:"violations"`
	Incomplete []axeRule `json:"incomplete"`
}

// Run injects axe-core into page, waits the configured settle time and runs
// the audit. Every failure is returned as an AUDIT_FAILED ScanError. There
// is no retry.
func (r *Runner) Run(ctx context.Context, page Evaluator) (*Result, error) {
	start := time.Now()
	observability.Event(r.logger, zapcore.InfoLevel, "accessibility_scan_start",
		zap.String("standard", r.cfg.Standard))

	res, err := r.run(ctx, page)
	if err != nil {
		observability.Event(r.logger, zapcore.ErrorLevel, "accessibility_scan_failed", zap.Error(err))
		return nil, schemas.NewScanError(schemas.ErrAuditFailed, "Accessibility audit failed", err)
	}

	observability.Event(r.logger, zapcore.InfoLevel, "accessibility_scan_complete",
		zap.Int("issueCount", len(res.Findings)),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

func (r *Runner) run(ctx context.Context, page Evaluator) (*Result, error) {
	if page == nil {
		return nil, errors.New("no page to audit")
	}
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	if err := r.inject(ctx, page); err != nil {
		return nil, err
	}
	if err := sleep(ctx, r.cfg.Wait); err != nil {
		return nil, fmt.Errorf("audit wait interrupted: %w", err)
	}

	script, err := BuildRunScript(r.cfg.Standard)
	if err != nil {
		return nil, err
	}
	var raw axeResults
	if err := page.Evaluate(ctx, script, &raw); err != nil {
		return nil, fmt.Errorf("axe run failed: %w", err)
	}

	return &Result{
		Findings:      r.filter(mapResults(raw)),
		DocumentTitle: raw.Title,
	}, nil
}

// inject loads axe-core into the page unless a previous injection or the
// page itself already provides it.
func (r *Runner) inject(ctx context.Context, page Evaluator) error {
	var present bool
	if err := page.Evaluate(ctx, `typeof window.axe === "object" && typeof window.axe.run === "function"`, &present); err != nil {
		return fmt.Errorf("failed to probe for axe-core: %w", err)
	}
	if present {
		return nil
	}
	if r.source == nil {
		return errors.New("no axe-core source configured")
	}

	src, err := r.source.Load(ctx)
	if err != nil {
		return err
	}
	// The completion value of the bundle is not serializable.
	if err := page.Evaluate(ctx, src+"\n;undefined;", nil); err != nil {
		return fmt.Errorf("failed to inject axe-core: %w", err)
	}
	r.logger.Debug("Injected axe-core.", zap.Int("bytes", len(src)))
	return nil
}

func (r *Runner) filter(findings []schemas.Finding) []schemas.Finding {
	out := make([]schemas.Finding, 0, len(findings))
	for _, f := range findings {
		switch f.TypeCode {
		case schemas.TypeCodeWarning:
			if !r.cfg.IncludeWarnings {
				continue
			}
		case schemas.TypeCodeNotice:
			if !r.cfg.IncludeNotices {
				continue
			}
		}
		out = append(out, f)
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// StandardTags returns the axe rule tags that make up a WCAG standard.
func StandardTags(standard string) ([]string, error) {
	switch strings.ToUpper(standard) {
	case "WCAG2A":
		return []string{"wcag2a", "wcag21a", "best-practice"}, nil
	case "WCAG2AA":
		return []string{"wcag2a", "wcag21a", "wcag2aa", "wcag21aa", "best-practice"}, nil
	case "WCAG2AAA":
		return []string{"wcag2a", "wcag21a", "wcag2aa", "wcag21aa", "wcag2aaa", "best-practice"}, nil
	}
	return nil, fmt.Errorf("unsupported standard %q", standard)
}

// BuildRunScript renders the axe.run script for standard.
func BuildRunScript(standard string) (string, error) {
	tags, err := StandardTags(standard)
	if err != nil {
		return "", err
	}
	opts := map[string]interface{}{
		"runOnly":     map[string]interface{}{"type": "tag", "values": tags},
		"resultTypes": []string{"violations", "incomplete"},
	}
	encoded, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("failed to encode axe options: %w", err)
	}
	if !strings.Contains(runScriptTemplate, optionsPlaceholder) {
		return "", fmt.Errorf("run script does not contain the placeholder %s", optionsPlaceholder)
	}
	return strings.Replace(runScriptTemplate, optionsPlaceholder, string(encoded), 1), nil
}

// mapResults flattens axe results into one finding per affected node.
// Violations are typed by impact; incomplete results are warnings.
func mapResults(raw axeResults) []schemas.Finding {
	var findings []schemas.Finding
	for _, rule := range raw.Violations {
		typ, code := typeForImpact(rule.Impact)
		findings = appendRule(findings, rule, typ, code)
	}
	for _, rule := range raw.Incomplete {
		findings = appendRule(findings, rule, schemas.TypeWarning, schemas.TypeCodeWarning)
	}
	return findings
}

func appendRule(findings []schemas.Finding, rule axeRule, typ string, typeCode int) []schemas.Finding {
	message := rule.Help
	if rule.HelpURL != "" {
		message = fmt.Sprintf("%s (%s)", rule.Help, rule.HelpURL)
	}
	if len(rule.Nodes) == 0 {
		return append(findings, schemas.Finding{
			Code: rule.ID, Type: typ, TypeCode: typeCode, Message: message, Runner: RunnerName,
		})
	}
	for _, node := range rule.Nodes {
		findings = append(findings, schemas.Finding{
			Code:     rule.ID,
			Type:     typ,
			TypeCode: typeCode,
			Message:  message,
			Selector: nodeSelector(node.Target),
			Context:  truncateContext(node.HTML),
			Runner:   RunnerName,
		})
	}
	return findings
}

func typeForImpact(impact string) (string, int) {
	switch impact {
	case "moderate":
		return schemas.TypeWarning, schemas.TypeCodeWarning
	case "minor":
		return schemas.TypeNotice, schemas.TypeCodeNotice
	default:
		return schemas.TypeError, schemas.TypeCodeError
	}
}

// nodeSelector returns the CSS selector of a node that lives in the top
// document. Targets inside iframes or shadow roots are nested arrays that
// document.querySelector cannot resolve, so they yield no selector.
func nodeSelector(target []interface{}) string {
	if len(target) != 1 {
		return ""
	}
	s, _ := target[0].(string)
	return s
}

func truncateContext(html string) string {
	runes := []rune(html)
	if len(runes) <= maxContextLength {
		return html
	}
	return string(runes[:maxContextLength]) + "..."
}
