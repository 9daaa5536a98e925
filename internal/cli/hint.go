package cli

import (
	"context"
	"errors"
	"net"

	"github.com/fpang/animate-mix-cli/internal/dashscope"
	"github.com/fpang/animate-mix-cli/internal/upload"
	"github.com/fpang/animate-mix-cli/internal/validate"
)

// Hint returns a one-line remediation for common failures, or "" when
// there is nothing more useful to say than the error itself.
func Hint(err error) string {
	if err == nil {
		return ""
	}

	var valErr *validate.Error
	if errors.As(err, &valErr) {
		return validationHint(valErr)
	}

	if errors.Is(err, upload.ErrMissingCredentials) {
		return "Set OSS_ACCESS_KEY_ID and OSS_ACCESS_KEY_SECRET, or set USE_OSS=false to upload through DashScope temporary storage"
	}
	if dashscope.IsAuthError(err) {
		return "Invalid API key. Check DASHSCOPE_API_KEY (or SSM_API_KEY_PARAM) and that the key is enabled for the region"
	}

	switch {
	case errors.Is(err, dashscope.ErrTimeout):
		return "The job is still running on the server. Increase MAX_WAIT_TIME; a timed-out job is not cancelled remotely"
	case errors.Is(err, dashscope.ErrJobFailed):
		return jobFailedHint(err)
	case errors.Is(err, dashscope.ErrJobUnknown):
		return "The service no longer knows this job. Job results expire after 24 hours; resubmit the request"
	case errors.Is(err, dashscope.ErrInvalidMode):
		return "Use --mode wan-std (standard) or wan-pro (professional)"
	case errors.Is(err, context.DeadlineExceeded):
		return "Network timeout. Check your internet connection and try again"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return "Network error. Check your internet connection and proxy settings"
	}

	var upErr *upload.Error
	if errors.As(err, &upErr) {
		return "Upload failed. Check network access to the storage endpoint and retry"
	}
	return ""
}

func validationHint(err *validate.Error) string {
	switch err.Reason {
	case validate.ReasonFileNotFound:
		return "Check the file path"
	case validate.ReasonUnsupportedFormat:
		if err.Kind == "video" {
			return "Convert the video to MP4, AVI or MOV"
		}
		return "Convert the image to JPG, PNG, BMP or WEBP"
	case validate.ReasonFileTooLarge:
		if err.Kind == "video" {
			return "Videos must be at most 200 MB. Re-encode at a lower bitrate or trim the clip"
		}
		return "Images must be at most 5 MB. Re-save with higher compression or a smaller resolution"
	case validate.ReasonDimensions:
		if err.Kind == "video" {
			return "Video sides must be between 200 and 2048 pixels. Rescale the video"
		}
		return "Image sides must be between 200 and 4096 pixels. Resize the image"
	case validate.ReasonAspectRatio:
		return "Width/height must be between 1:3 and 3:1. Crop the input"
	case validate.ReasonDuration:
		return "Videos must be 2 to 30 seconds long. Trim the clip"
	case validate.ReasonNoFace:
		return "Use a clear, front-facing portrait with one visible face"
	case validate.ReasonMultipleFaces:
		return "Crop the image so only one person is visible"
	case validate.ReasonDecodeFailed:
		return "The file looks corrupt or uses an unsupported codec. Re-export it"
	}
	return ""
}

func jobFailedHint(err error) string {
	var apiErr *dashscope.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "E_FACE_NOT_FOUND", "InvalidFile.NoHuman":
			return "The service found no usable face. Use a clear, front-facing portrait"
		case "InvalidFile.Resolution", "InvalidFile.Duration", "InvalidFile.AspectRatio":
			return "The service rejected the input limits. Run 'animate-cli validate' on the inputs"
		}
	}
	return "Failed jobs are not billed; fix the input and retry"
}
