package dashscope

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fpang/animate-mix-cli/internal/pricing"
)

// newTestClient creates a Client pointing at a test HTTP server.
func newTestClient(server *httptest.Server) *Client {
	return &Client{
		httpClient:     server.Client(),
		downloadClient: server.Client(),
		apiKey:         "test-key",
		baseURL:        server.URL,
		model:          DefaultModel,
	}
}

func TestCreateJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != createPath {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected Authorization: %s", got)
		}
		if r.Header.Get("X-DashScope-Async") != "enable" {
			t.Error("missing async header")
		}
		if r.Header.Get("X-DashScope-OssResourceResolve") != "enable" {
			t.Error("missing OSS resolve header for oss:// inputs")
		}

		var payload createPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.Model != DefaultModel {
			t.Errorf("model = %s", payload.Model)
		}
		if payload.Input.ImageURL != "oss://dashscope/face.jpg" || payload.Input.VideoURL != "oss://dashscope/ref.mp4" {
			t.Errorf("unexpected input: %+v", payload.Input)
		}
		if payload.Parameters.Mode != "wan-pro" || !payload.Parameters.CheckImage {
			t.Errorf("unexpected parameters: %+v", payload.Parameters)
		}

		json.NewEncoder(w).Encode(taskResponse{
			RequestID: "req-1",
			Output:    &taskOutput{TaskID: "task-001", TaskStatus: "PENDING"},
		})
	}))
	defer server.Close()

	client := newTestClient(server)
	id, err := client.CreateJob(context.Background(), CreateRequest{
		ImageURL:   "oss://dashscope/face.jpg",
		VideoURL:   "oss://dashscope/ref.mp4",
		Mode:       pricing.Professional,
		CheckImage: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "task-001" {
		t.Errorf("expected task-001, got %s", id)
	}
}

func TestCreateJob_NoOSSHeaderForHTTPInputs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-DashScope-OssResourceResolve") != "" {
			t.Error("OSS resolve header sent for https inputs")
		}
		json.NewEncoder(w).Encode(taskResponse{Output: &taskOutput{TaskID: "task-002"}})
	}))
	defer server.Close()

	_, err := newTestClient(server).CreateJob(context.Background(), CreateRequest{
		ImageURL: "https://bucket.example.com/face.jpg",
		VideoURL: "https://bucket.example.com/ref.mp4",
		Mode:     pricing.Standard,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateJob_InvalidModeNotSent(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	_, err := newTestClient(server).CreateJob(context.Background(), CreateRequest{Mode: "wan-ultra"})
	if !errors.Is(err, ErrInvalidMode) {
		t.Errorf("expected ErrInvalidMode, got %v", err)
	}
	if called {
		t.Error("request sent despite invalid mode")
	}
}

func TestCreateJob_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
	}{
		{"error code in 200 body", 200, `{"code":"InvalidParameter","message":"url not reachable"}`, "InvalidParameter"},
		{"http 400 with code", 400, `{"code":"InvalidParameter.DataInspection","message":"bad image"}`, "InvalidParameter.DataInspection"},
		{"http 401", 401, `{"code":"InvalidApiKey","message":"Invalid API-key provided."}`, "InvalidApiKey"},
		{"missing task id", 200, `{"output":{"task_status":"PENDING"}}`, ""},
		{"not json", 200, `<html>`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server).CreateJob(context.Background(), CreateRequest{Mode: pricing.Standard})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %v", err)
			}
			if apiErr.Op != "create" || apiErr.Code != tt.wantCode {
				t.Errorf("got op=%s code=%s, want create/%s", apiErr.Op, apiErr.Code, tt.wantCode)
			}
		})
	}
}

func TestIsAuthError(t *testing.T) {
	if !IsAuthError(&APIError{StatusCode: 401}) || !IsAuthError(&APIError{Code: "InvalidApiKey"}) {
		t.Error("expected auth errors to be recognised")
	}
	if IsAuthError(&APIError{StatusCode: 500}) || IsAuthError(errors.New("x")) {
		t.Error("unexpected auth error match")
	}
}

func TestQueryJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/tasks/task-001" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"request_id": "req-2",
			"output": {
				"task_id": "task-001",
				"task_status": "SUCCEEDED",
				"results": {"video_url": "https://cdn.example.com/out.mp4"},
				"usage": {"video_duration": 10.0}
			}
		}`))
	}))
	defer server.Close()

	snap, err := newTestClient(server).QueryJob(context.Background(), "task-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != StatusSucceeded {
		t.Errorf("status = %s", snap.Status)
	}
	if snap.ResultURL != "https://cdn.example.com/out.mp4" {
		t.Errorf("ResultURL = %s", snap.ResultURL)
	}
	if snap.Usage == nil || snap.Usage.VideoDuration != 10 {
		t.Errorf("unexpected usage: %+v", snap.Usage)
	}
}

func TestNewClient_CompressionPerCallType(t *testing.T) {
	var mu sync.Mutex
	encodings := map[string]string{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		encodings[r.URL.Path] = r.Header.Get("Accept-Encoding")
		mu.Unlock()
		if r.URL.Path == "/out.mp4" {
			w.Write([]byte("fake mp4 bytes"))
			return
		}
		w.Write([]byte(`{"output": {"task_id": "task-001", "task_status": "RUNNING"}}`))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	if _, err := client.QueryJob(context.Background(), "task-001"); err != nil {
		t.Fatalf("query: %v", err)
	}
	dest := filepath.Join(t.TempDir(), "out.mp4")
	if err := client.DownloadResult(context.Background(), server.URL+"/out.mp4", dest); err != nil {
		t.Fatalf("download: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if api := encodings["/tasks/task-001"]; !strings.Contains(api, "zstd") {
		t.Errorf("API request Accept-Encoding = %q, want zstd offered", api)
	}
	if dl := encodings["/out.mp4"]; strings.Contains(dl, "zstd") {
		t.Errorf("download Accept-Encoding = %q, want the plain transport", dl)
	}
}

func TestQueryJob_TopLevelUsageAndFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"output": {"task_id": "task-9", "task_status": "FAILED", "code": "E_FACE_NOT_FOUND", "message": "no face in image"},
			"usage": {"video_duration": 0}
		}`))
	}))
	defer server.Close()

	snap, err := newTestClient(server).QueryJob(context.Background(), "task-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != StatusFailed || snap.Code != "E_FACE_NOT_FOUND" || snap.Message != "no face in image" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.Usage == nil {
		t.Error("expected top-level usage to be used as fallback")
	}
}

func TestQueryJob_MissingStatusIsUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output": {"task_id": "task-x"}}`))
	}))
	defer server.Close()

	snap, err := newTestClient(server).QueryJob(context.Background(), "task-x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != StatusUnknown {
		t.Errorf("status = %s, want UNKNOWN", snap.Status)
	}
}

func TestQueryJob_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	_, err := newTestClient(server).QueryJob(context.Background(), "task-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != 500 || apiErr.TaskID != "task-1" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
	if !strings.Contains(apiErr.Error(), "upstream exploded") {
		t.Errorf("error should include body, got %q", apiErr.Error())
	}
}

func TestGetUploadPolicy(t *testing.T) {
	bodies := map[string]string{
		"data":        `{"data": {"upload_host": "https://up.example.com", "upload_dir": "dashscope-instant/abc", "oss_access_key_id": "AK", "policy": "cG9s", "signature": "c2ln"}}`,
		"output.data": `{"output": {"data": {"upload_host": "https://up.example.com", "upload_dir": "dashscope-instant/abc", "oss_access_key_id": "AK", "policy": "cG9s", "signature": "c2ln"}}}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != uploadPath {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				if r.URL.Query().Get("action") != "getPolicy" || r.URL.Query().Get("model") != DefaultModel {
					t.Errorf("unexpected query: %s", r.URL.RawQuery)
				}
				w.Write([]byte(body))
			}))
			defer server.Close()

			policy, err := newTestClient(server).GetUploadPolicy(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if policy.Host != "https://up.example.com" || policy.Dir != "dashscope-instant/abc" || policy.AccessKeyID != "AK" {
				t.Errorf("unexpected policy: %+v", policy)
			}
		})
	}
}

func TestGetUploadPolicy_Incomplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"upload_host": "https://up.example.com"}}`))
	}))
	defer server.Close()

	if _, err := newTestClient(server).GetUploadPolicy(context.Background()); err == nil {
		t.Error("expected error for incomplete policy")
	}
}

func TestDownloadResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.mp4" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("fake mp4 bytes"))
	}))
	defer server.Close()

	client := newTestClient(server)
	dest := filepath.Join(t.TempDir(), "nested", "out", "result.mp4")

	if err := client.DownloadResult(context.Background(), server.URL+"/out.mp4", dest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "fake mp4 bytes" {
		t.Errorf("unexpected content %q", data)
	}

	missing := filepath.Join(filepath.Dir(dest), "missing.mp4")
	err = client.DownloadResult(context.Background(), server.URL+"/missing.mp4", missing)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 APIError, got %v", err)
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Error("failed download left a file behind")
	}

	entries, _ := os.ReadDir(filepath.Dir(dest))
	if len(entries) != 1 {
		t.Errorf("expected only the finished download in the directory, found %d entries", len(entries))
	}

	if err := client.DownloadResult(context.Background(), "", dest); !errors.Is(err, ErrNoResultURL) {
		t.Errorf("expected ErrNoResultURL, got %v", err)
	}
}
