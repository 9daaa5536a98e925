package pipeline

import (
	"fmt"
)

// Stage names a step of Process. It is carried by ProcessingError and
// used as a metrics dimension.
type Stage string

const (
	StageRequest       Stage = "request"
	StageValidateImage Stage = "validate_image"
	StageValidateVideo Stage = "validate_video"
	StageUploadImage   Stage = "upload_image"
	StageUploadVideo   Stage = "upload_video"
	StageCreateJob     Stage = "create_job"
	StageWait          Stage = "wait"
	StageDownload      Stage = "download"
)

// ProcessingError is the only error Process returns. It names the stage
// that failed and, once a job exists, its ID. The cause is reachable with
// errors.As / errors.Is (validate.Error, upload.Error, dashscope.APIError).
type ProcessingError struct {
	Stage Stage
	JobID string
	Err   error
}

func (e *ProcessingError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s failed (job %s): %v", e.Stage, e.JobID, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
