package dashscope

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/animate-mix-cli/internal/pricing"
)

// Status is the lifecycle state of a remote task.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCanceled  Status = "CANCELED"
	StatusUnknown   Status = "UNKNOWN"
)

// IsTerminal reports whether no further transition can happen.
// UNKNOWN counts as terminal; WaitForJob may still tolerate it briefly.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled, StatusUnknown:
		return true
	}
	return false
}

// CreateRequest describes a face-swap job.
type CreateRequest struct {
	ImageURL string
	VideoURL string
	Mode     pricing.Mode
	// CheckImage asks the service to run its own portrait check.
	CheckImage bool
}

// Usage is the billing information reported for a finished task.
type Usage struct {
	VideoDuration float64 `json:"video_duration"`
	VideoRatio    string  `json:"video_ratio,omitempty"`
}

// Snapshot is the state of a task at one point in time.
type Snapshot struct {
	TaskID     string
	Status     Status
	ResultURL  string
	Usage      *Usage
	Code       string
	Message    string
	SubmitTime string
	EndTime    string
}

// --- wire types ---

type createPayload struct {
	Model      string           `json:"model"`
	Input      createInput      `json:"input"`
	Parameters createParameters `json:"parameters"`
}

type createInput struct {
	ImageURL string `json:"image_url"`
	VideoURL string `json:"video_url"`
}

type createParameters struct {
	Mode       string `json:"mode"`
	CheckImage bool   `json:"check_image"`
}

type taskOutput struct {
	TaskID     string `json:"task_id"`
	TaskStatus string `json:"task_status"`
	SubmitTime string `json:"submit_time,omitempty"`
	EndTime    string `json:"end_time,omitempty"`
	Results    *struct {
		VideoURL string `json:"video_url"`
	} `json:"results,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type taskResponse struct {
	RequestID string      `json:"request_id"`
	Output    *taskOutput `json:"output,omitempty"`
	Usage     *Usage      `json:"usage,omitempty"`
	Code      string      `json:"code,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// --- operations ---

// CreateJob submits a task and returns its ID. The mode is checked before
// anything is sent.
func (c *Client) CreateJob(ctx context.Context, req CreateRequest) (string, error) {
	if !req.Mode.Valid() {
		return "", &APIError{Op: "create", Message: fmt.Sprintf("mode %q", req.Mode), Err: ErrInvalidMode}
	}

	payload := createPayload{
		Model: c.model,
		Input: createInput{ImageURL: req.ImageURL, VideoURL: req.VideoURL},
		Parameters: createParameters{
			Mode:       string(req.Mode),
			CheckImage: req.CheckImage,
		},
	}
	headers := map[string]string{"X-DashScope-Async": "enable"}
	if isOSSRef(req.ImageURL) || isOSSRef(req.VideoURL) {
		headers["X-DashScope-OssResourceResolve"] = "enable"
	}

	log.Info().Str("mode", string(req.Mode)).Str("model", c.model).Msg("Creating job")
	data, err := c.do(ctx, "create", http.MethodPost, createPath, payload, headers)
	if err != nil {
		return "", err
	}

	var resp taskResponse
	if err := decode("create", data, &resp); err != nil {
		return "", err
	}
	if resp.Code != "" {
		return "", &APIError{Op: "create", Code: resp.Code, Message: resp.Message}
	}
	if resp.Output == nil || resp.Output.TaskID == "" {
		return "", &APIError{Op: "create", Message: fmt.Sprintf("unexpected response: no task_id returned (body: %s)", truncate(string(data), 200))}
	}

	log.Info().
		Str("taskId", resp.Output.TaskID).
		Str("status", resp.Output.TaskStatus).
		Str("requestId", resp.RequestID).
		Msg("Job created")
	return resp.Output.TaskID, nil
}

// QueryJob returns the current snapshot of a task. A response without a
// status is reported as StatusUnknown.
func (c *Client) QueryJob(ctx context.Context, taskID string) (*Snapshot, error) {
	data, err := c.do(ctx, "query", http.MethodGet, tasksPath+url.PathEscape(taskID), nil, nil)
	if err != nil {
		if apiErr, ok := err.(*APIError); ok {
			apiErr.TaskID = taskID
		}
		return nil, err
	}

	var resp taskResponse
	if err := decode("query", data, &resp); err != nil {
		err.(*APIError).TaskID = taskID
		return nil, err
	}
	if resp.Output == nil {
		if resp.Code != "" {
			return nil, &APIError{Op: "query", TaskID: taskID, Code: resp.Code, Message: resp.Message}
		}
		return nil, &APIError{Op: "query", TaskID: taskID, Message: fmt.Sprintf("unexpected response: no output (body: %s)", truncate(string(data), 200))}
	}

	out := resp.Output
	snap := &Snapshot{
		TaskID:     out.TaskID,
		Status:     Status(strings.ToUpper(out.TaskStatus)),
		Usage:      out.Usage,
		Code:       out.Code,
		Message:    out.Message,
		SubmitTime: out.SubmitTime,
		EndTime:    out.EndTime,
	}
	if snap.TaskID == "" {
		snap.TaskID = taskID
	}
	if snap.Status == "" {
		snap.Status = StatusUnknown
	}
	if out.Results != nil {
		snap.ResultURL = out.Results.VideoURL
	}
	if snap.Usage == nil {
		snap.Usage = resp.Usage
	}

	log.Debug().Str("taskId", taskID).Str("status", string(snap.Status)).Msg("Job status")
	return snap, nil
}

func isOSSRef(u string) bool {
	return strings.HasPrefix(u, "oss://")
}
