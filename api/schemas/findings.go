package schemas

// -- Finding Schemas --

// Impact is the normalized severity bucket of a resolved issue.
type Impact string

const (
	ImpactCritical Impact = "critical"
	ImpactSerious  Impact = "serious"
	ImpactModerate Impact = "moderate"
	ImpactMinor    Impact = "minor"
)

// Audit engine severity classes, in the shape pa11y reports them.
const (
	TypeError   = "error"
	TypeWarning = "warning"
	TypeNotice  = "notice"

	TypeCodeError   = 1
	TypeCodeWarning = 2
	TypeCodeNotice  = 3
)

// Finding is one raw rule violation reported by the audit engine. It is
// produced once by the audit runner and never mutated afterwards.
type Finding struct {
	Code     string `json:"code"`
	Type     string `json:"type"`
	TypeCode int    `json:"typeCode"`
	Message  string `json:"message"`
	// Selector and Context are empty when the engine could not attribute the
	// finding to a single element (document level rules).
	Selector string `json:"selector,omitempty"`
	Context  string `json:"context,omitempty"`
	Runner   string `json:"runner,omitempty"`
}

// BoundingBox is the rendered rectangle of an element, rounded to whole pixels.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ResolvedIssue is a Finding enriched with a stable id, normalized impact,
// WCAG reference and, when the element could be located, its bounding box.
// Visualizable is true exactly when BoundingBox is non-nil.
type ResolvedIssue struct {
	ID           string       `json:"id"`
	Rule         string       `json:"rule"`
	Message      string       `json:"message"`
	Impact       Impact       `json:"impact"`
	WCAG         *string      `json:"wcag"`
	Selector     *string      `json:"selector"`
	XPath        *string      `json:"xpath"`
	Context      *string      `json:"context"`
	BoundingBox  *BoundingBox `json:"boundingBox"`
	Visualizable bool         `json:"visualizable"`
}
