package harvest

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrUnitNotFound is returned by the registry for unknown unit names.
// It is fatal to the requesting job's attempt only, never to a batch.
var ErrUnitNotFound = errors.New("fetch unit not registered")

// FetchError is a unit-level failure surfaced after the retry budget is
// exhausted. It propagates out of Fetch and is caught at the orchestrator
// boundary.
type FetchError struct {
	Unit     string
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s) failed after %d attempts: %v", e.Unit, e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ValidationError marks a malformed record that is skipped, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ClassifyError maps a unit failure onto the RunDetail error-type enum by
// inspecting the error chain and message. Network is the fallback class.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeNone
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ErrorTypeTimeout
	case strings.Contains(msg, "403") || strings.Contains(msg, "412") || strings.Contains(msg, "anti"):
		return ErrorTypeAntiBot
	case strings.Contains(msg, "parse") || strings.Contains(msg, "selector") ||
		strings.Contains(msg, "no such key") || strings.Contains(msg, "missing key"):
		return ErrorTypeParseError
	default:
		return ErrorTypeNetwork
	}
}
