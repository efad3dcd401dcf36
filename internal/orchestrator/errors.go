package orchestrator

import (
	"net/http"

	"github.com/ruxailab/accessiblity-testing-backend/api/schemas"
)

// Classify returns the taxonomy code of err: the code of a wrapped ScanError
// when there is one, otherwise the code implied by its message.
func Classify(err error) schemas.ErrorCode {
	if code, ok := schemas.CodeOf(err); ok {
		return code
	}
	return schemas.ClassifyMessage(err)
}

// UserMessage is the caller-safe text for a code whose failure carried no
// message of its own.
func UserMessage(code schemas.ErrorCode) string {
	switch code {
	case schemas.ErrInvalidURL:
		return "The provided URL is invalid"
	case schemas.ErrPageLoadTimeout:
		return "The page did not load within 30 seconds"
	case schemas.ErrPageLoadFailed:
		return "Failed to load the page. Please check the URL is accessible."
	case schemas.ErrBrowserFailure:
		return "Browser initialization failed. Please try again."
	case schemas.ErrAuditFailed:
		return "Accessibility audit failed. Please try again."
	default:
		return "An unexpected error occurred. Please try again."
	}
}

// HTTPStatus maps a code to the status the API answers with.
func HTTPStatus(code schemas.ErrorCode) int {
	switch code {
	case schemas.ErrInvalidURL:
		return http.StatusBadRequest
	case schemas.ErrPageLoadTimeout, schemas.ErrPageLoadFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FailureStage names the pipeline stage a code is attributed to in logs.
func FailureStage(code schemas.ErrorCode) string {
	switch code {
	case schemas.ErrInvalidURL:
		return "validation"
	case schemas.ErrPageLoadTimeout, schemas.ErrPageLoadFailed:
		return "navigation"
	case schemas.ErrBrowserFailure:
		return "browser_init"
	case schemas.ErrAuditFailed:
		return "accessibility_scan"
	default:
		return "unknown"
	}
}
