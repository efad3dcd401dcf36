package schemas

import "time"

// Summary aggregates counts over a set of resolved issues. It is always
// derived from the issue set and never stored on its own.
type Summary struct {
	Total        int `json:"total"`
	Critical     int `json:"critical"`
	Serious      int `json:"serious"`
	Moderate     int `json:"moderate"`
	Minor        int `json:"minor"`
	Visualizable int `json:"visualizable"`
	NonVisual    int `json:"nonVisual"`
}

// Snapshot is the sanitized, script-free capture of a rendered page.
type Snapshot struct {
	HTML         string `json:"html"`
	ScrollHeight int    `json:"scrollHeight"`
	Note         string `json:"note"`
}

// SnapshotNote is attached to every snapshot so consumers know nothing in it runs.
const SnapshotNote = "Static visual snapshot captured at scan time. JavaScript disabled."

// Viewport is the fixed emulated window size used for rendering.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EngineInfo names the engines that produced a scan.
type EngineInfo struct {
	Accessibility string `json:"accessibility"`
	Browser       string `json:"browser"`
}

// ScanMeta describes how and when a scan was run.
type ScanMeta struct {
	URL           string     `json:"url"`
	ScanTime      time.Time  `json:"scanTime"`
	DurationMs    int64      `json:"durationMs"`
	Engine        EngineInfo `json:"engine"`
	Viewport      Viewport   `json:"viewport"`
	DocumentTitle string     `json:"documentTitle,omitempty"`
}

// ScanResponse is the payload of a snapshot-mode scan.
type ScanResponse struct {
	Meta     ScanMeta        `json:"meta"`
	Snapshot *Snapshot       `json:"snapshot"`
	Issues   []ResolvedIssue `json:"issues"`
	Summary  Summary         `json:"summary"`
}

// OverlayResponse is the payload of an overlay-mode scan.
type OverlayResponse struct {
	Summary       Summary `json:"summary"`
	AnnotatedHTML string  `json:"annotatedHtml"`
}

// Report is the persisted form of a scan. Identity (ID) belongs to the store.
type Report struct {
	ID            string          `json:"id,omitempty"`
	TestID        string          `json:"testId"`
	URL           string          `json:"url"`
	CreatedAt     time.Time       `json:"createdAt"`
	DocumentTitle string          `json:"documentTitle"`
	Findings      []Finding       `json:"findings,omitempty"`
	Issues        []ResolvedIssue `json:"issues"`
	IssueCount    int             `json:"issueCount"`
	Summary       Summary         `json:"summary"`
	SnapshotHTML  *string         `json:"snapshotHtml,omitempty"`
	ModifiedHTML  *string         `json:"modifiedHtml,omitempty"`
}
