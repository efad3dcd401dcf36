package schemas

import (
	"context"
	"errors"
	"strings"
)

// ErrorCode is the fixed failure taxonomy surfaced to callers of the pipeline.
type ErrorCode string

const (
	ErrInvalidURL      ErrorCode = "INVALID_URL"
	ErrPageLoadTimeout ErrorCode = "PAGE_LOAD_TIMEOUT"
	ErrPageLoadFailed  ErrorCode = "PAGE_LOAD_FAILED"
	ErrBrowserFailure  ErrorCode = "BROWSER_FAILURE"
	ErrAuditFailed     ErrorCode = "AUDIT_FAILED"
	ErrInternal        ErrorCode = "INTERNAL_ERROR"
)

// ScanError is a classified pipeline failure. Message is safe to show to the
// caller; Err keeps the underlying cause for server-side logs only.
type ScanError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// NewScanError wraps cause under the given code.
func NewScanError(code ErrorCode, message string, cause error) *ScanError {
	return &ScanError{Code: code, Message: message, Err: cause}
}

func (e *ScanError) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ScanError) Unwrap() error { return e.Err }

// CodeOf returns the code of the first ScanError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var se *ScanError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return "", false
}

// ClassifyMessage maps an unclassified failure onto the taxonomy by looking
// at its lower-cased message. Context deadline errors count as timeouts.
func ClassifyMessage(err error) ErrorCode {
	if err == nil {
		return ErrInternal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrPageLoadTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return ErrPageLoadTimeout
	case strings.Contains(msg, "net::err_"),
		strings.Contains(msg, "dns"),
		strings.Contains(msg, "ssl"),
		strings.Contains(msg, "certificate"),
		strings.Contains(msg, "failed to navigate"):
		return ErrPageLoadFailed
	case strings.Contains(msg, "browser"),
		strings.Contains(msg, "chromium"),
		strings.Contains(msg, "chromedp"),
		strings.Contains(msg, "websocket url"),
		strings.Contains(msg, "exec: "):
		return ErrBrowserFailure
	case strings.Contains(msg, "axe"), strings.Contains(msg, "audit"):
		return ErrAuditFailed
	}
	return ErrInternal
}
