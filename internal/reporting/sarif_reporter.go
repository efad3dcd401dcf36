// internal/reporting/sarif_reporter.go
package reporting

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ruxailab/accessiblity-testing-backend/api/schemas"
	"github.com/ruxailab/accessiblity-testing-backend/internal/reporting/sarif"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "a11yscan"
	ToolInfoURI  = "https://github.com/ruxailab/accessiblity-testing-backend"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"

	// axeHelpBase is the rule documentation root of the audit engine.
	axeHelpBase = "https://dequeuniversity.com/rules/axe/4.10/"
)

// ruleIDSanitizer replaces characters not allowed in SARIF rule ids. Alphanumerics,
// underscore, dot and hyphen are kept; other runs collapse to a single hyphen.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// SARIFReporter implements the Reporter interface for the SARIF 2.1.0 format.
// Every report becomes an artifact of a single run; every resolved issue a
// result. It is thread safe.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log
	// mu protects the log structure and the rule index.
	mu        sync.Mutex
	ruleIndex map[string]bool
}

// NewSARIFReporter creates a new reporter that writes SARIF output.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string, logger *zap.Logger) *SARIFReporter {
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						// Empty slices, not nil, so they encode as [].
						Rules: []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}

	return &SARIFReporter{
		writer:    writer,
		logger:    logger.Named("sarif_reporter"),
		log:       log,
		ruleIndex: make(map[string]bool),
	}
}

// Write converts the resolved issues of a report into SARIF results.
func (r *SARIFReporter) Write(report *schemas.Report) error {
	if report == nil {
		return fmt.Errorf("cannot write a nil report")
	}
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	run.Artifacts = append(run.Artifacts, &sarif.Artifact{
		Location: &sarif.ArtifactLocation{URI: pString(report.URL)},
	})

	for _, issue := range report.Issues {
		ruleID := r.ensureRule(issue)
		run.Results = append(run.Results, &sarif.Result{
			RuleID:     ruleID,
			Message:    &sarif.Message{Text: pString(resultMessage(issue))},
			Level:      mapImpactToSARIFLevel(issue.Impact),
			Locations:  createLocations(report.URL, issue),
			Properties: resultProperties(report, issue),
		})
	}

	r.logger.Debug("Wrote report to SARIF buffer",
		zap.String("test_id", report.TestID),
		zap.Int("results", len(report.Issues)),
		zap.Duration("duration", time.Since(startTime)),
	)
	return nil
}

// Close finalizes the SARIF log and writes it to the output writer.
func (r *SARIFReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	r.logger.Info("Finalizing SARIF report",
		zap.Int("total_results", len(run.Results)),
		zap.Int("total_rules", len(run.Tool.Driver.Rules)),
	)

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")

	encodeErr := encoder.Encode(r.log)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}

// sanitizeRuleID maps an engine rule code onto a valid SARIF rule id.
func sanitizeRuleID(rule string) string {
	id := strings.Trim(ruleIDSanitizer.ReplaceAllString(rule, "-"), "-")
	if id == "" {
		return "unknown-rule"
	}
	return id
}

// ensureRule registers the rule of issue once and returns its id.
// NOTE: Must be called while holding the mutex.
func (r *SARIFReporter) ensureRule(issue schemas.ResolvedIssue) string {
	id := sanitizeRuleID(issue.Rule)
	if r.ruleIndex[id] {
		return id
	}
	r.ruleIndex[id] = true

	tags := []string{"accessibility"}
	props := sarif.PropertyBag{"tags": tags}
	if issue.WCAG != nil {
		props["tags"] = append(tags, "wcag")
		props["wcag"] = *issue.WCAG
	}

	rule := &sarif.ReportingDescriptor{
		ID:               id,
		Name:             pString(issue.Rule),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(issue.Message)},
		Properties:       &props,
	}
	// Only axe rule ids map onto its documentation; HTML_CodeSniffer style
	// codes contain dots.
	if !strings.Contains(issue.Rule, ".") {
		rule.HelpURI = pString(axeHelpBase + issue.Rule)
	}
	driver := r.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, rule)
	return id
}

func resultMessage(issue schemas.ResolvedIssue) string {
	if issue.Message != "" {
		return issue.Message
	}
	return issue.Rule
}

// createLocations places the issue in the page and, when known, on an element.
func createLocations(pageURL string, issue schemas.ResolvedIssue) []*sarif.Location {
	loc := &sarif.Location{
		PhysicalLocation: &sarif.PhysicalLocation{
			ArtifactLocation: &sarif.ArtifactLocation{URI: pString(pageURL)},
		},
	}
	if issue.Context != nil {
		loc.PhysicalLocation.Region = &sarif.Region{Snippet: &sarif.ArtifactContent{Text: issue.Context}}
	}
	if issue.Selector != nil {
		loc.LogicalLocations = append(loc.LogicalLocations, &sarif.LogicalLocation{
			FullyQualifiedName: issue.Selector, Kind: pString("element"),
		})
		loc.Message = &sarif.Message{Text: pString("Element " + *issue.Selector)}
	}
	if issue.XPath != nil {
		loc.LogicalLocations = append(loc.LogicalLocations, &sarif.LogicalLocation{
			FullyQualifiedName: issue.XPath, Kind: pString("xpath"),
		})
	}
	return []*sarif.Location{loc}
}

func resultProperties(report *schemas.Report, issue schemas.ResolvedIssue) *sarif.PropertyBag {
	props := sarif.PropertyBag{
		"issueId":      issue.ID,
		"impact":       string(issue.Impact),
		"testId":       report.TestID,
		"visualizable": issue.Visualizable,
	}
	if issue.BoundingBox != nil {
		props["boundingBox"] = *issue.BoundingBox
	}
	return &props
}

// mapImpactToSARIFLevel converts an issue impact to the SARIF level.
func mapImpactToSARIFLevel(impact schemas.Impact) sarif.Level {
	switch impact {
	case schemas.ImpactCritical, schemas.ImpactSerious:
		return sarif.LevelError
	case schemas.ImpactModerate:
		return sarif.LevelWarning
	default:
		return sarif.LevelNote
	}
}

// pString returns a pointer to the given string value. Helper for optional SARIF fields.
func pString(s string) *string {
	return &s
}
