// Package dashscope is a client for the DashScope asynchronous video
// synthesis API used by the wan2.2-animate-mix model.
//
// A job goes through three calls:
//  1. CreateJob submits the image and video URLs and returns a task ID
//  2. QueryJob reports the task status (PENDING, RUNNING, then a terminal state)
//  3. DownloadResult fetches the generated video once the task SUCCEEDED
//
// WaitForJob wraps QueryJob in a fixed-interval poll loop with a deadline.
// GetUploadPolicy supports the broker upload flow, where DashScope grants
// short-lived permission to upload inputs to its own storage.
package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the DashScope API base URL (Beijing region).
	DefaultBaseURL = "https://dashscope.aliyuncs.com/api/v1"

	// DefaultModel is the face-swap video model.
	DefaultModel = "wan2.2-animate-mix"

	createPath = "/services/aigc/image2video/video-synthesis"
	tasksPath  = "/tasks/"
	uploadPath = "/uploads"

	// defaultTimeout is the HTTP client timeout for API calls.
	defaultTimeout = 60 * time.Second

	// defaultRPS is the documented request-rate ceiling.
	defaultRPS = 5
)

// Client calls the DashScope API. It is safe for concurrent use.
type Client struct {
	httpClient     *http.Client
	downloadClient *http.Client
	apiKey         string
	baseURL        string
	model          string
	limiter        *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (e.g. the Singapore endpoint).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithModel overrides the model name sent with each job.
func WithModel(m string) Option {
	return func(c *Client) { c.model = m }
}

// WithHTTPClient replaces the HTTP client used for API and download calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		c.downloadClient = hc
	}
}

// WithRateLimit caps API requests per second. rps <= 0 disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// NewClient creates a DashScope client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		// API responses are JSON; gzhttp offers zstd alongside gzip, which
		// net/http alone never negotiates.
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Transport: gzhttp.Transport(http.DefaultTransport,
				gzhttp.TransportEnableZstd(true),
				gzhttp.TransportEnableGzip(true)),
		},
		// Results are already-compressed MP4, so downloads use the plain
		// transport and are bounded by the caller's context only.
		downloadClient: &http.Client{},
		apiKey:         apiKey,
		baseURL:        DefaultBaseURL,
		model:          DefaultModel,
		limiter:        rate.NewLimiter(rate.Limit(defaultRPS), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// errorBody is the error envelope DashScope returns on failure.
type errorBody struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// do sends an authenticated request and returns the raw response body.
// Non-2xx responses are converted to *APIError.
func (c *Client) do(ctx context.Context, op, method, endpoint string, payload any, headers map[string]string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &APIError{Op: op, Message: "rate limiter wait aborted", Err: err}
		}
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &APIError{Op: op, Message: "encode request", Err: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, &APIError{Op: op, Message: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	startTime := time.Now()
	log.Debug().Str("method", method).Str("path", endpoint).Msg("DashScope API request")

	httpResp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("DashScope API response")
		return nil, &APIError{Op: op, Message: "request failed", Err: err}
	}
	defer httpResp.Body.Close()

	log.Debug().Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Msg("DashScope API response")

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &APIError{Op: op, StatusCode: httpResp.StatusCode, Message: "read response", Err: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		apiErr := &APIError{Op: op, StatusCode: httpResp.StatusCode}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Code != "" {
			apiErr.Code, apiErr.Message = eb.Code, eb.Message
		} else {
			apiErr.Message = truncate(strings.TrimSpace(string(data)), 200)
		}
		log.Error().
			Str("op", op).
			Int("statusCode", httpResp.StatusCode).
			Str("errorCode", apiErr.Code).
			Str("errorMessage", apiErr.Message).
			Msg("DashScope API error")
		return nil, apiErr
	}
	return data, nil
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// decode unmarshals a response body, reporting the body prefix on failure.
func decode(op string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &APIError{Op: op, Message: fmt.Sprintf("parse response (body: %s)", truncate(string(data), 200)), Err: err}
	}
	return nil
}
