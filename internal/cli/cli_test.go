package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fpang/animate-mix-cli/internal/dashscope"
	"github.com/fpang/animate-mix-cli/internal/pipeline"
	"github.com/fpang/animate-mix-cli/internal/upload"
	"github.com/fpang/animate-mix-cli/internal/validate"
)

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00"},
		{9 * time.Second, "0:09"},
		{75 * time.Second, "1:15"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		if got := FormatDurationShort(tt.in); got != tt.want {
			t.Errorf("FormatDurationShort(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatCost(t *testing.T) {
	if got := FormatCost(6); got != "6.00 RMB" {
		t.Errorf("got %q", got)
	}
}

func TestHint(t *testing.T) {
	wrap := func(stage pipeline.Stage, err error) error {
		return &pipeline.ProcessingError{Stage: stage, Err: err}
	}

	tests := []struct {
		name string
		err  error
		want string // substring; "" means no hint
	}{
		{"nil", nil, ""},
		{"duration", wrap(pipeline.StageValidateVideo, &validate.Error{Kind: "video", Reason: validate.ReasonDuration}), "2 to 30 seconds"},
		{"image size", &validate.Error{Kind: "image", Reason: validate.ReasonFileTooLarge}, "5 MB"},
		{"video size", &validate.Error{Kind: "video", Reason: validate.ReasonFileTooLarge}, "200 MB"},
		{"resolution", &validate.Error{Kind: "image", Reason: validate.ReasonDimensions}, "4096"},
		{"no face", &validate.Error{Kind: "image", Reason: validate.ReasonNoFace}, "one visible face"},
		{"auth", wrap(pipeline.StageCreateJob, &dashscope.APIError{Op: "create", StatusCode: 401}), "Invalid API key"},
		{"timeout", wrap(pipeline.StageWait, &dashscope.APIError{Op: "wait", Err: dashscope.ErrTimeout}), "MAX_WAIT_TIME"},
		{"face not found job", wrap(pipeline.StageWait, &dashscope.APIError{Op: "wait", Code: "E_FACE_NOT_FOUND", Err: dashscope.ErrJobFailed}), "no usable face"},
		{"generic job failure", &dashscope.APIError{Op: "wait", Err: dashscope.ErrJobFailed}, "not billed"},
		{"network deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), "Network timeout"},
		{"bucket creds", &upload.Error{Strategy: upload.StrategyBucket, Step: "credentials", Err: upload.ErrMissingCredentials}, "OSS_ACCESS_KEY_ID"},
		{"upload", &upload.Error{Strategy: upload.StrategyBroker, Step: "post", Err: errors.New("403")}, "Upload failed"},
		{"other", errors.New("boom"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Hint(tt.err)
			if tt.want == "" {
				if got != "" {
					t.Errorf("expected no hint, got %q", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("Hint() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestPromptForPath(t *testing.T) {
	if got := PromptForPath(strings.NewReader("  /tmp/face.jpg \n"), "Image", ""); got != "/tmp/face.jpg" {
		t.Errorf("got %q", got)
	}
	if got := PromptForPath(strings.NewReader("\n"), "Output", "output"); got != "output" {
		t.Errorf("empty answer should return the default, got %q", got)
	}
	if got := PromptForPath(strings.NewReader(""), "Output", "output"); got != "output" {
		t.Errorf("EOF should return the default, got %q", got)
	}
}

func TestResolveFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.jpg")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveFile(file)
	if err != nil || !filepath.IsAbs(got) {
		t.Errorf("ResolveFile(file) = %q, %v", got, err)
	}
	if _, err := ResolveFile(dir); err == nil {
		t.Error("a directory should be rejected")
	}
	if _, err := ResolveFile(filepath.Join(dir, "nope.jpg")); err == nil {
		t.Error("a missing file should be rejected")
	}
}
