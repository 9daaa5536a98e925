package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fpang/animate-mix-cli/internal/config"
	"github.com/fpang/animate-mix-cli/internal/dashscope"
	"github.com/fpang/animate-mix-cli/internal/filehandler"
	"github.com/fpang/animate-mix-cli/internal/pricing"
	"github.com/fpang/animate-mix-cli/internal/retry"
	"github.com/fpang/animate-mix-cli/internal/upload"
	"github.com/fpang/animate-mix-cli/internal/validate"
)

// --- fakes ---

type fakeProber struct {
	meta *filehandler.VideoMetadata
}

func (f *fakeProber) Probe(ctx context.Context, path string) (*filehandler.VideoMetadata, error) {
	return f.meta, nil
}

type fakeUploader struct {
	mu       sync.Mutex
	uploaded []string
	failures int // fail this many calls before succeeding
	err      error
}

func (f *fakeUploader) Upload(ctx context.Context, path string) (*upload.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, &upload.Error{Strategy: upload.StrategyBroker, Step: "post", Path: path, Err: errors.New("connection reset")}
	}
	if f.err != nil {
		return nil, f.err
	}
	f.uploaded = append(f.uploaded, path)
	return &upload.Result{URL: "oss://tmp/" + filepath.Base(path), Strategy: upload.StrategyBroker}, nil
}

func (f *fakeUploader) CleanupOlderThan(ctx context.Context, days int) (int, error) { return 0, nil }

func (f *fakeUploader) Strategy() upload.Strategy { return upload.StrategyBroker }

type fakeJobs struct {
	mu         sync.Mutex
	created    []dashscope.CreateRequest
	createErr  error
	final      *dashscope.Snapshot
	waitErr    error
	downloaded []string
	nextID     int
}

func (f *fakeJobs) CreateJob(ctx context.Context, req dashscope.CreateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, req)
	f.nextID++
	return fmt.Sprintf("task-%d", f.nextID), nil
}

func (f *fakeJobs) WaitForJob(ctx context.Context, taskID string, opts dashscope.WaitOptions) (*dashscope.Snapshot, error) {
	if opts.OnProgress != nil {
		opts.OnProgress(&dashscope.Snapshot{TaskID: taskID, Status: dashscope.StatusRunning}, time.Second)
	}
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	snap := *f.final
	snap.TaskID = taskID
	return &snap, nil
}

func (f *fakeJobs) DownloadResult(ctx context.Context, url, dest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f.downloaded = append(f.downloaded, dest)
	return os.WriteFile(dest, []byte("mp4"), 0o644)
}

// --- helpers ---

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
}

type fixture struct {
	image, video string
	outDir       string
	uploader     *fakeUploader
	jobs         *fakeJobs
	proc         *Processor
	sleeps       []time.Duration
}

func newFixture(t *testing.T, videoDuration time.Duration) *fixture {
	t.Helper()
	dir := t.TempDir()
	fx := &fixture{
		image:    filepath.Join(dir, "portrait.png"),
		video:    filepath.Join(dir, "dance.mp4"),
		outDir:   filepath.Join(dir, "out"),
		uploader: &fakeUploader{},
		jobs: &fakeJobs{final: &dashscope.Snapshot{
			Status:    dashscope.StatusSucceeded,
			ResultURL: "https://cdn.example/result.mp4",
			Usage:     &dashscope.Usage{VideoDuration: 10},
		}},
	}
	writePNG(t, fx.image, 1920, 1080)
	if err := os.WriteFile(fx.video, make([]byte, 1024), 0o644); err != nil {
		t.Fatal(err)
	}

	v := validate.New(validate.WithProber(&fakeProber{meta: &filehandler.VideoMetadata{
		Width: 1280, Height: 720, Duration: videoDuration, FrameRate: 30,
	}}))

	cfg := &config.Config{
		DefaultMode:       pricing.Standard,
		MaxRetries:        3,
		BackoffFactor:     2,
		MaxConcurrentJobs: 1,
		OutputDir:         fx.outDir,
	}
	policy := retry.New(3, 2)
	policy.NewTimer = func() backoff.Timer { return &instantTimer{fx: fx} }
	fx.proc = New(cfg, v, fx.uploader, fx.jobs, WithRetryPolicy(policy))
	fx.proc.now = func() time.Time { return time.Date(2026, 3, 1, 9, 5, 7, 0, time.UTC) }
	return fx
}

// instantTimer fires at once and records the requested backoff.
type instantTimer struct {
	fx *fixture
	c  chan time.Time
}

func (t *instantTimer) Start(d time.Duration) {
	t.fx.sleeps = append(t.fx.sleeps, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// --- tests ---

func TestProcess_StandardJobCostsSixYuan(t *testing.T) {
	fx := newFixture(t, 10*time.Second)

	var stages []Stage
	out, err := fx.proc.Process(context.Background(), Request{ImagePath: fx.image, VideoPath: fx.video}, func(s Stage, _ string) {
		stages = append(stages, s)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !out.Success || out.Err != nil {
		t.Fatalf("expected success, got %+v", out)
	}
	if !out.HasEstimate || !near(out.EstimatedCost, 6.0) {
		t.Errorf("estimated cost = %v (has=%t), want 6.00", out.EstimatedCost, out.HasEstimate)
	}
	if !near(out.ActualCost, 6.0) {
		t.Errorf("actual cost = %v, want 6.00", out.ActualCost)
	}
	if out.JobID != "task-1" {
		t.Errorf("job id = %q", out.JobID)
	}
	wantOut := filepath.Join(fx.outDir, "result_20260301_090507.mp4")
	if out.OutputPath != wantOut {
		t.Errorf("output = %q, want %q", out.OutputPath, wantOut)
	}
	if _, err := os.Stat(wantOut); err != nil {
		t.Errorf("result not written: %v", err)
	}

	if len(fx.jobs.created) != 1 {
		t.Fatalf("created %d jobs", len(fx.jobs.created))
	}
	req := fx.jobs.created[0]
	if req.Mode != pricing.Standard || req.ImageURL != "oss://tmp/portrait.png" || req.VideoURL != "oss://tmp/dance.mp4" {
		t.Errorf("unexpected create request %+v", req)
	}

	seen := map[Stage]bool{}
	for _, s := range stages {
		seen[s] = true
	}
	for _, s := range []Stage{StageValidateImage, StageValidateVideo, StageUploadImage, StageUploadVideo, StageCreateJob, StageWait, StageDownload} {
		if !seen[s] {
			t.Errorf("no progress reported for stage %s", s)
		}
	}
}

func TestProcess_LongVideoNeverUploads(t *testing.T) {
	fx := newFixture(t, 35*time.Second)

	out, err := fx.proc.Process(context.Background(), Request{ImagePath: fx.image, VideoPath: fx.video}, nil)

	var perr *ProcessingError
	if !errors.As(err, &perr) || perr.Stage != StageValidateVideo {
		t.Fatalf("expected validate_video ProcessingError, got %v", err)
	}
	var verr *validate.Error
	if !errors.As(err, &verr) || verr.Reason != validate.ReasonDuration {
		t.Errorf("expected duration reason, got %v", err)
	}
	if len(fx.uploader.uploaded) != 0 {
		t.Errorf("uploaded %v, expected nothing", fx.uploader.uploaded)
	}
	if out == nil || out.Success || out.Err != err {
		t.Errorf("outcome should carry the same error: %+v", out)
	}
}

func TestProcess_FailedJobKeepsJobID(t *testing.T) {
	fx := newFixture(t, 10*time.Second)
	fx.jobs.waitErr = &dashscope.APIError{
		Op: "wait", TaskID: "task-1", Code: "E_FACE_NOT_FOUND", Message: "no face found in image", Err: dashscope.ErrJobFailed,
	}

	out, err := fx.proc.Process(context.Background(), Request{ImagePath: fx.image, VideoPath: fx.video}, nil)

	var perr *ProcessingError
	if !errors.As(err, &perr) || perr.Stage != StageWait {
		t.Fatalf("expected wait ProcessingError, got %v", err)
	}
	if perr.JobID != "task-1" || out.JobID != "task-1" {
		t.Errorf("job id lost: err=%q outcome=%q", perr.JobID, out.JobID)
	}
	if !errors.Is(err, dashscope.ErrJobFailed) {
		t.Error("cause should match ErrJobFailed")
	}
	if !strings.Contains(err.Error(), "E_FACE_NOT_FOUND") || !strings.Contains(err.Error(), "no face found in image") {
		t.Errorf("error should embed code and message: %v", err)
	}
	if len(fx.jobs.downloaded) != 0 {
		t.Error("nothing should be downloaded for a failed job")
	}
}

func TestProcess_RetriesTransientUpload(t *testing.T) {
	fx := newFixture(t, 10*time.Second)
	fx.uploader.failures = 2

	out, err := fx.proc.Process(context.Background(), Request{ImagePath: fx.image, VideoPath: fx.video}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Success {
		t.Fatal("expected success after retries")
	}
	if len(fx.sleeps) != 2 || fx.sleeps[0] != time.Second || fx.sleeps[1] != 2*time.Second {
		t.Errorf("sleeps = %v, want [1s 2s]", fx.sleeps)
	}
}

func TestProcess_UploadExhaustsRetries(t *testing.T) {
	fx := newFixture(t, 10*time.Second)
	fx.uploader.failures = 3

	_, err := fx.proc.Process(context.Background(), Request{ImagePath: fx.image, VideoPath: fx.video}, nil)

	var perr *ProcessingError
	if !errors.As(err, &perr) || perr.Stage != StageUploadImage {
		t.Fatalf("expected upload_image ProcessingError, got %v", err)
	}
	var uerr *upload.Error
	if !errors.As(err, &uerr) || uerr.Step != "post" {
		t.Errorf("upload error should surface unchanged, got %v", err)
	}
	if len(fx.jobs.created) != 0 {
		t.Error("no job should be created")
	}
}

func TestProcess_CreateJobError(t *testing.T) {
	fx := newFixture(t, 10*time.Second)
	fx.jobs.createErr = &dashscope.APIError{Op: "create", StatusCode: 400, Code: "InvalidParameter", Message: "bad url"}

	_, err := fx.proc.Process(context.Background(), Request{ImagePath: fx.image, VideoPath: fx.video}, nil)

	var perr *ProcessingError
	if !errors.As(err, &perr) || perr.Stage != StageCreateJob || perr.JobID != "" {
		t.Fatalf("expected create_job ProcessingError without job id, got %v", err)
	}
	if len(fx.sleeps) != 2 {
		t.Errorf("create should be retried: sleeps = %v", fx.sleeps)
	}
}

func TestProcess_SkipValidation(t *testing.T) {
	fx := newFixture(t, 35*time.Second)

	out, err := fx.proc.Process(context.Background(), Request{ImagePath: fx.image, VideoPath: fx.video, SkipValidation: true}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Success {
		t.Error("expected success when validation is skipped")
	}
}

func TestProcess_ModeAndOutputName(t *testing.T) {
	fx := newFixture(t, 10*time.Second)

	out, err := fx.proc.Process(context.Background(), Request{
		ImagePath:  fx.image,
		VideoPath:  fx.video,
		Mode:       "professional",
		OutputName: "mine.mp4",
		CheckImage: true,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Mode != pricing.Professional || !near(out.ActualCost, 9.0) {
		t.Errorf("mode=%s cost=%v, want wan-pro 9.00", out.Mode, out.ActualCost)
	}
	if filepath.Base(out.OutputPath) != "mine.mp4" {
		t.Errorf("output = %s", out.OutputPath)
	}
	if !fx.jobs.created[0].CheckImage {
		t.Error("CheckImage not forwarded")
	}
}

func TestProcess_InvalidMode(t *testing.T) {
	fx := newFixture(t, 10*time.Second)

	_, err := fx.proc.Process(context.Background(), Request{ImagePath: fx.image, VideoPath: fx.video, Mode: "ultra"}, nil)
	if !errors.Is(err, dashscope.ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
	if len(fx.uploader.uploaded) != 0 {
		t.Error("nothing should be uploaded for an invalid mode")
	}
}

func TestProcess_MissingResultURL(t *testing.T) {
	fx := newFixture(t, 10*time.Second)
	fx.jobs.final = &dashscope.Snapshot{Status: dashscope.StatusSucceeded}

	_, err := fx.proc.Process(context.Background(), Request{ImagePath: fx.image, VideoPath: fx.video}, nil)
	if !errors.Is(err, dashscope.ErrNoResultURL) {
		t.Fatalf("expected ErrNoResultURL, got %v", err)
	}
}

func TestProcessingError_Message(t *testing.T) {
	err := &ProcessingError{Stage: StageDownload, JobID: "t-9", Err: errors.New("disk full")}
	if got := err.Error(); got != "download failed (job t-9): disk full" {
		t.Errorf("Error() = %q", got)
	}
	err = &ProcessingError{Stage: StageUploadVideo, Err: errors.New("denied")}
	if got := err.Error(); got != "upload_video failed: denied" {
		t.Errorf("Error() = %q", got)
	}
}
