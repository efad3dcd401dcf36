package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ruxailab/accessiblity-testing-backend/api/schemas"
	"github.com/ruxailab/accessiblity-testing-backend/internal/observability"
	"github.com/ruxailab/accessiblity-testing-backend/internal/orchestrator"
	"github.com/ruxailab/accessiblity-testing-backend/internal/store"
)

// Codes for failures that happen outside a scan.
const (
	codeInvalidRequest schemas.ErrorCode = "INVALID_REQUEST"
	codeNotFound       schemas.ErrorCode = "NOT_FOUND"
)

// testRequest is the body of the scan endpoints.
type testRequest struct {
	URL     string `json:"url"`
	Mode    string `json:"mode,omitempty"`
	Persist bool   `json:"persist,omitempty"`
}

type generateRequest struct {
	TestID string `json:"testId"`
}

// scanResult and overlayResult are the v3 responses. TestID is set only when
// the report was stored.
type scanResult struct {
	*schemas.ScanResponse
	TestID string `json:"testId,omitempty"`
}

type overlayResult struct {
	*schemas.OverlayResponse
	TestID string `json:"testId,omitempty"`
}

type legacyResult struct {
	Success       bool                    `json:"success"`
	Message       string                  `json:"message"`
	TestID        string                  `json:"testId"`
	URL           string                  `json:"url"`
	DocumentTitle string                  `json:"documentTitle"`
	Issues        []schemas.Finding       `json:"issues"`
	IssueCount    int                     `json:"issueCount"`
	Summary       schemas.Summary         `json:"summary"`
	ModifiedHTML  string                  `json:"modifiedHtml"`
	Resolved      []schemas.ResolvedIssue `json:"resolvedIssues"`
}

type flashResult struct {
	Success       bool              `json:"success"`
	Message       string            `json:"message"`
	URL           string            `json:"url"`
	TestDateTime  time.Time         `json:"testDateTime"`
	Issues        []schemas.Finding `json:"issues"`
	IssueCount    int               `json:"issueCount"`
	DocumentTitle string            `json:"documentTitle"`
}

type generateResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	TestID       string `json:"testId"`
	ModifiedHTML string `json:"modifiedHtml"`
}

type healthResult struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    schemas.ErrorCode `json:"code"`
	Message string            `json:"message"`
}

func newTestID() string {
	return uuid.NewString()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, r, http.StatusOK, healthResult{
		Status:    "healthy",
		Version:   observability.ServiceVersion,
		Timestamp: s.now().UTC(),
	})
}

// handleTestV3 runs a scan, snapshot mode unless the body asks otherwise.
func (s *Server) handleTestV3(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTestRequest(w, r)
	if !ok {
		return
	}
	mode := orchestrator.ModeSnapshot
	if req.Mode != "" {
		m, err := orchestrator.ParseMode(req.Mode)
		if err != nil {
			s.respondWithError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
			return
		}
		mode = m
	}

	observability.Event(s.requestLogger(r), zap.InfoLevel, "v3_test_request_received",
		zap.String("url", req.URL), zap.String("mode", string(mode)))
	outcome, err := s.scanner.Run(r.Context(), req.URL, mode)
	if err != nil {
		s.respondWithScanError(w, r, err)
		return
	}

	var testID string
	if req.Persist {
		if testID, ok = s.persist(w, r, outcome); !ok {
			return
		}
	}
	if outcome.Overlay != nil {
		s.respondWithJSON(w, r, http.StatusOK, overlayResult{OverlayResponse: outcome.Overlay, TestID: testID})
		return
	}
	s.respondWithJSON(w, r, http.StatusOK, scanResult{ScanResponse: outcome.Scan, TestID: testID})
}

// handleLegacyTest runs an overlay scan and always stores the report.
func (s *Server) handleLegacyTest(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTestRequest(w, r)
	if !ok {
		return
	}
	outcome, err := s.scanner.Run(r.Context(), req.URL, orchestrator.ModeOverlay)
	if err != nil {
		s.respondWithScanError(w, r, err)
		return
	}
	id, ok := s.persist(w, r, outcome)
	if !ok {
		return
	}
	s.respondWithJSON(w, r, http.StatusOK, legacyResult{
		Success:       true,
		Message:       "Accessibility test completed",
		TestID:        id,
		URL:           outcome.URL,
		DocumentTitle: outcome.DocumentTitle,
		Issues:        nonNilFindings(outcome.Findings),
		IssueCount:    len(outcome.Findings),
		Summary:       outcome.Summary,
		ModifiedHTML:  outcome.Overlay.AnnotatedHTML,
		Resolved:      outcome.Issues,
	})
}

func (s *Server) handleFlash(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTestRequest(w, r)
	if !ok {
		return
	}
	res, err := s.scanner.Flash(r.Context(), req.URL)
	if err != nil {
		s.respondWithScanError(w, r, err)
		return
	}
	s.respondWithJSON(w, r, http.StatusOK, flashResult{
		Success:       true,
		Message:       "Flash accessibility test completed",
		URL:           res.URL,
		TestDateTime:  res.TestTime,
		Issues:        nonNilFindings(res.Findings),
		IssueCount:    len(res.Findings),
		DocumentTitle: res.DocumentTitle,
	})
}

// handleGenerate re-renders the page of a stored report, annotates it with
// the stored findings and saves the result as the report's modified HTML.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.TestID = strings.TrimSpace(req.TestID)
	if req.TestID == "" {
		s.respondWithError(w, r, http.StatusBadRequest, codeInvalidRequest, "testId is required in request body")
		return
	}
	if s.store == nil {
		s.respondWithError(w, r, http.StatusNotFound, codeNotFound, "Report storage is not configured")
		return
	}

	report, err := s.store.FindByTestID(r.Context(), req.TestID)
	if err != nil {
		s.requestLogger(r).Error("Failed to load report", zap.String("testId", req.TestID), zap.Error(err))
		s.respondWithError(w, r, http.StatusInternalServerError, schemas.ErrInternal, "Failed to load report")
		return
	}
	if report == nil {
		s.respondWithError(w, r, http.StatusNotFound, codeNotFound, "No report found for testId")
		return
	}

	html, err := s.scanner.Annotate(r.Context(), report.URL, report.Findings)
	if err != nil {
		s.respondWithScanError(w, r, err)
		return
	}
	if err := s.store.Update(r.Context(), report.ID, store.ReportUpdate{ModifiedHTML: &html}); err != nil {
		s.requestLogger(r).Error("Failed to update report", zap.String("testId", req.TestID), zap.Error(err))
		s.respondWithError(w, r, http.StatusInternalServerError, schemas.ErrInternal, "Failed to update report")
		return
	}
	s.respondWithJSON(w, r, http.StatusOK, generateResult{
		Success:      true,
		Message:      "Modified HTML generated",
		TestID:       req.TestID,
		ModifiedHTML: html,
	})
}

// persist stores the outcome and reports false after answering the request
// itself when it could not.
func (s *Server) persist(w http.ResponseWriter, r *http.Request, outcome *orchestrator.Outcome) (string, bool) {
	if s.store == nil {
		s.respondWithError(w, r, http.StatusInternalServerError, schemas.ErrInternal, "Report storage is not configured")
		return "", false
	}
	testID := s.newID()
	if _, err := s.store.Add(r.Context(), outcome.Report(testID, s.now())); err != nil {
		s.requestLogger(r).Error("Failed to store report", zap.String("testId", testID), zap.Error(err))
		s.respondWithError(w, r, http.StatusInternalServerError, schemas.ErrInternal, "Failed to store report")
		return "", false
	}
	return testID, true
}

func (s *Server) decodeTestRequest(w http.ResponseWriter, r *http.Request) (testRequest, bool) {
	var req testRequest
	if !s.decode(w, r, &req) {
		return req, false
	}
	if req.URL == "" {
		s.respondWithError(w, r, http.StatusBadRequest, schemas.ErrInvalidURL, "URL is required in request body")
		return req, false
	}
	return req, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		msg := "Request body must be a JSON object"
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			msg = "Request body is too large"
		case errors.Is(err, io.EOF):
			msg = "Request body is required"
		}
		s.respondWithError(w, r, http.StatusBadRequest, codeInvalidRequest, msg)
		return false
	}
	return true
}

// respondWithScanError answers with the taxonomy code and caller-safe message
// of err. The cause is logged, never returned.
func (s *Server) respondWithScanError(w http.ResponseWriter, r *http.Request, err error) {
	code := orchestrator.Classify(err)
	message := orchestrator.UserMessage(code)
	var se *schemas.ScanError
	if errors.As(err, &se) && se.Message != "" {
		message = se.Message
	}
	s.requestLogger(r).Warn("Scan request failed", zap.String("errorCode", string(code)), zap.Error(err))
	s.respondWithError(w, r, orchestrator.HTTPStatus(code), code, message)
}

func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, status int, code schemas.ErrorCode, message string) {
	s.respondWithJSON(w, r, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.requestLogger(r).Error("Failed to encode response", zap.Error(err))
	}
}

func nonNilFindings(f []schemas.Finding) []schemas.Finding {
	if f == nil {
		return []schemas.Finding{}
	}
	return f
}
