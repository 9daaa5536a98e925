package validate

import (
	"fmt"

	"github.com/fpang/animate-mix-cli/internal/filehandler"
)

// Reason identifies which constraint a file violated.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonFileNotFound      Reason = "file_not_found"
	ReasonUnreadable        Reason = "file_unreadable"
	ReasonUnsupportedFormat Reason = "unsupported_format"
	ReasonFileTooLarge      Reason = "file_too_large"
	ReasonDecodeFailed      Reason = "decode_failed"
	ReasonDimensions        Reason = "dimension_out_of_range"
	ReasonAspectRatio       Reason = "aspect_ratio_out_of_range"
	ReasonDuration          Reason = "duration_out_of_range"
	ReasonNoFace            Reason = "no_face_detected"
	ReasonMultipleFaces     Reason = "multiple_faces_detected"
)

// Result is the outcome of a single validation call.
type Result struct {
	Kind   string // "image" or "video"
	OK     bool
	Reason Reason
	// Detail is a human-readable explanation of Reason.
	Detail string
	// Degraded is set when metadata could not be read at all and only
	// format and size were checked.
	Degraded bool
	// FaceChecked is set when the single-face check actually ran.
	FaceChecked bool
	Media       *filehandler.MediaFile
}

// Err returns nil for a passing result and an *Error otherwise.
func (r *Result) Err() error {
	if r.OK {
		return nil
	}
	path := ""
	if r.Media != nil {
		path = r.Media.Path
	}
	return &Error{Kind: r.Kind, Path: path, Reason: r.Reason, Detail: r.Detail}
}

// Error is returned when a file fails a validation constraint.
// The caller fixes it by supplying a different input.
type Error struct {
	Kind   string // "image" or "video"
	Path   string
	Reason Reason
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s validation failed (%s): %s", e.Kind, e.Reason, e.Detail)
}

func pass(mf *filehandler.MediaFile) *Result {
	return &Result{OK: true, Media: mf}
}

func fail(mf *filehandler.MediaFile, reason Reason, format string, args ...any) *Result {
	return &Result{Reason: reason, Detail: fmt.Sprintf(format, args...), Media: mf}
}
