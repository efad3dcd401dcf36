// Package visual turns raw audit findings into resolved issues: stable ids,
// normalized impact, WCAG references and on-page bounding boxes.
package visual

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ruxailab/accessiblity-testing-backend/api/schemas"
	"github.com/ruxailab/accessiblity-testing-backend/internal/observability"
)

// BoxResult is the outcome of one bounding box lookup. Found is false when
// the selector matched nothing, was invalid, or the element has no layout box.
type BoxResult struct {
	Box   schemas.BoundingBox
	Found bool
}

// Missing is the BoxResult for an element that could not be measured.
var Missing = BoxResult{}

// BoxLocator measures elements on a live page.
type BoxLocator interface {
	BoundingBox(ctx context.Context, selector string) BoxResult
}

// XPathLocator is implemented by locators that can also name an element by
// an absolute XPath. Resolve uses it when available.
type XPathLocator interface {
	XPath(selector string) (string, bool)
}

// wcagMappings maps short axe rule codes to WCAG success criteria.
var wcagMappings = map[string]string{
	"image-alt":                  "1.1.1",
	"input-image-alt":            "1.1.1",
	"area-alt":                   "1.1.1",
	"object-alt":                 "1.1.1",
	"svg-img-alt":                "1.1.1",
	"role-img-alt":               "1.1.1",
	"image-redundant-alt":        "1.1.1",
	"audio-caption":              "1.2.1",
	"video-caption":              "1.2.2",
	"form-field-multiple-labels": "1.3.1",
	"label":                      "1.3.1",
	"landmark-one-main":          "1.3.1",
	"region":                     "1.3.1",
	"heading-order":              "1.3.1",
	"empty-heading":              "1.3.1",
	"list":                       "1.3.1",
	"listitem":                   "1.3.1",
	"definition-list":            "1.3.1",
	"dlitem":                     "1.3.1",
	"th-has-data-cells":          "1.3.1",
	"td-headers-attr":            "1.3.1",
	"autocomplete-valid":         "1.3.5",
	"link-in-text-block":         "1.4.1",
	"color-contrast":             "1.4.3",
	"meta-viewport":              "1.4.4",
	"color-contrast-enhanced":    "1.4.6",
	"meta-refresh":               "2.2.1",
	"blink":                      "2.2.2",
	"marquee":                    "2.2.2",
	"meta-refresh-no-exceptions": "2.2.4",
	"bypass":                     "2.4.1",
	"accesskeys":                 "2.4.1",
	"frame-title":                "2.4.1",
	"skip-link":                  "2.4.1",
	"document-title":             "2.4.2",
	"focus-order-semantics":      "2.4.3",
	"tabindex":                   "2.4.3",
	"link-name":                  "2.4.4",
	"focus-visible":              "2.4.7",
	"target-size":                "2.5.5",
	"html-has-lang":              "3.1.1",
	"html-lang-valid":            "3.1.1",
	"duplicate-id":               "4.1.1",
	"duplicate-id-active":        "4.1.1",
	"duplicate-id-aria":          "4.1.1",
	"button-name":                "4.1.2",
	"aria-allowed-attr":          "4.1.2",
	"aria-hidden-body":           "4.1.2",
	"aria-required-attr":         "4.1.2",
	"aria-required-children":     "4.1.2",
	"aria-required-parent":       "4.1.2",
	"aria-roles":                 "4.1.2",
	"aria-valid-attr":            "4.1.2",
	"aria-valid-attr-value":      "4.1.2",
}

// criterionPattern finds an embedded "1_1_1" style criterion in HTML_CodeSniffer codes.
var criterionPattern = regexp.MustCompile(`(\d+)_(\d+)_(\d+)`)

// IssueID formats the 1-based position n as a stable issue id.
func IssueID(n int) string {
	return fmt.Sprintf("a11y-%03d", n)
}

// ShortRuleCode returns the last dot-separated segment of an engine code,
// or "unknown" for an empty code.
func ShortRuleCode(code string) string {
	if code == "" {
		return "unknown"
	}
	if i := strings.LastIndexByte(code, '.'); i >= 0 {
		if last := code[i+1:]; last != "" {
			return last
		}
	}
	return code
}

// NormalizeImpact maps the engine's severity classification to an impact
// bucket. A non-zero typeCode takes precedence over the type name.
func NormalizeImpact(typeCode int, typ string) schemas.Impact {
	if typeCode != 0 {
		switch typeCode {
		case schemas.TypeCodeError:
			return schemas.ImpactCritical
		case schemas.TypeCodeWarning:
			return schemas.ImpactSerious
		case schemas.TypeCodeNotice:
			return schemas.ImpactModerate
		}
		return schemas.ImpactMinor
	}
	switch typ {
	case schemas.TypeError:
		return schemas.ImpactCritical
	case schemas.TypeWarning:
		return schemas.ImpactSerious
	case schemas.TypeNotice:
		return schemas.ImpactModerate
	}
	return schemas.ImpactMinor
}

// WCAGReference resolves the success criterion of a rule code. The fixed
// table is consulted first, then an embedded "X_Y_Z" token. The second
// return is false when neither yields a reference.
func WCAGReference(code string) (string, bool) {
	if code == "" {
		return "", false
	}
	if ref, ok := wcagMappings[strings.ToLower(ShortRuleCode(code))]; ok {
		return ref, true
	}
	if m := criterionPattern.FindStringSubmatch(code); m != nil {
		return m[1] + "." + m[2] + "." + m[3], true
	}
	return "", false
}

// Resolve enriches findings in order. Bounding box lookups that fail only
// leave the issue non-visualizable. Once ctx is done the remaining issues are
// emitted without lookups.
func Resolve(ctx context.Context, locator BoxLocator, findings []schemas.Finding, logger *zap.Logger) []schemas.ResolvedIssue {
	observability.Event(logger, zap.InfoLevel, "visual_resolution_start", zap.Int("count", len(findings)))

	issues := make([]schemas.ResolvedIssue, 0, len(findings))
	visualizable := 0
	for i, f := range findings {
		issue := schemas.ResolvedIssue{
			ID:      IssueID(i + 1),
			Rule:    ShortRuleCode(f.Code),
			Message: f.Message,
			Impact:  NormalizeImpact(f.TypeCode, f.Type),
		}
		if ref, ok := WCAGReference(f.Code); ok {
			issue.WCAG = &ref
		}
		if f.Selector != "" {
			selector := f.Selector
			issue.Selector = &selector
		}
		if f.Context != "" {
			snippet := f.Context
			issue.Context = &snippet
		}

		if xl, ok := locator.(XPathLocator); ok && issue.Selector != nil {
			if xpath, found := xl.XPath(f.Selector); found {
				issue.XPath = &xpath
			}
		}
		if issue.Selector != nil && locator != nil && ctx.Err() == nil {
			res := locator.BoundingBox(ctx, f.Selector)
			if res.Found {
				box := res.Box
				issue.BoundingBox = &box
				issue.Visualizable = true
				visualizable++
			} else {
				observability.Event(logger, zap.DebugLevel, "bounding_box_failed", zap.String("selector", f.Selector))
			}
		}
		issues = append(issues, issue)
	}

	observability.Event(logger, zap.InfoLevel, "visual_resolution_complete",
		zap.Int("total", len(issues)),
		zap.Int("visualizable", visualizable),
	)
	return issues
}

// Summarize counts issues per impact bucket and per visual coverage.
func Summarize(issues []schemas.ResolvedIssue) schemas.Summary {
	s := schemas.Summary{Total: len(issues)}
	for _, issue := range issues {
		switch issue.Impact {
		case schemas.ImpactCritical:
			s.Critical++
		case schemas.ImpactSerious:
			s.Serious++
		case schemas.ImpactModerate:
			s.Moderate++
		default:
			s.Minor++
		}
		if issue.Visualizable {
			s.Visualizable++
		} else {
			s.NonVisual++
		}
	}
	return s
}
