package dashscope

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel causes carried by *APIError. Match them with errors.Is.
var (
	ErrInvalidMode = errors.New("invalid mode")
	ErrJobFailed   = errors.New("job failed")
	ErrJobCanceled = errors.New("job canceled")
	ErrJobUnknown  = errors.New("job not found or status unknown")
	ErrTimeout     = errors.New("timed out waiting for job")
	ErrNoResultURL = errors.New("job succeeded without a result URL")
)

// APIError reports a rejected request, a job that ended badly, or a
// wait that ran out of time.
type APIError struct {
	Op         string // create, query, wait, policy, download
	TaskID     string
	StatusCode int    // HTTP status, 0 when no response was received
	Code       string // service error code, e.g. InvalidParameter
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	var sb strings.Builder
	sb.WriteString("dashscope ")
	sb.WriteString(e.Op)
	if e.TaskID != "" {
		fmt.Fprintf(&sb, " task %s", e.TaskID)
	}
	sb.WriteString(":")
	if e.Code != "" {
		fmt.Fprintf(&sb, " [%s]", e.Code)
	}
	if e.Message != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Message)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is a rejected credential.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == 401 || apiErr.StatusCode == 403 ||
		apiErr.Code == "InvalidApiKey" || apiErr.Code == "AccessDenied"
}
