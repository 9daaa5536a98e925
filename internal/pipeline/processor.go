// Package pipeline runs a face-swap request end to end:
// validate → upload → create job → wait → download.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/animate-mix-cli/internal/config"
	"github.com/fpang/animate-mix-cli/internal/dashscope"
	"github.com/fpang/animate-mix-cli/internal/metrics"
	"github.com/fpang/animate-mix-cli/internal/pricing"
	"github.com/fpang/animate-mix-cli/internal/retry"
	"github.com/fpang/animate-mix-cli/internal/upload"
	"github.com/fpang/animate-mix-cli/internal/validate"
)

// Validator checks inputs before anything is uploaded.
// *validate.Validator implements it.
type Validator interface {
	ValidateImage(ctx context.Context, path string) *validate.Result
	ValidateVideo(ctx context.Context, path string) *validate.Result
	EstimateCost(ctx context.Context, path string, mode pricing.Mode) (float64, bool)
}

// JobClient talks to the remote job service. *dashscope.Client implements it.
type JobClient interface {
	CreateJob(ctx context.Context, req dashscope.CreateRequest) (string, error)
	WaitForJob(ctx context.Context, taskID string, opts dashscope.WaitOptions) (*dashscope.Snapshot, error)
	DownloadResult(ctx context.Context, url, destPath string) error
}

// Observer receives human-readable progress messages. It may be nil.
type Observer func(stage Stage, message string)

// Request is one face-swap job.
type Request struct {
	ImagePath  string `yaml:"image"`
	VideoPath  string `yaml:"video"`
	OutputDir  string `yaml:"output_dir,omitempty"`
	OutputName string `yaml:"output,omitempty"`
	// Mode defaults to the configured default mode.
	Mode pricing.Mode `yaml:"mode,omitempty"`
	// SkipValidation bypasses local checks. The service still rejects bad input.
	SkipValidation bool `yaml:"skip_validation,omitempty"`
	// CheckImage asks the service to run its own portrait check.
	CheckImage bool `yaml:"check_image,omitempty"`
}

// Outcome describes a finished Process call, successful or not.
type Outcome struct {
	ImagePath  string
	VideoPath  string
	Success    bool
	OutputPath string
	// JobID is set as soon as the job is created, even if a later stage fails.
	JobID   string
	Mode    pricing.Mode
	Elapsed time.Duration

	// EstimatedCost is computed from the local video duration; HasEstimate
	// is false when the duration could not be read.
	EstimatedCost float64
	HasEstimate   bool
	// ActualCost is computed from the duration the service billed.
	ActualCost    float64
	VideoDuration float64

	Err error
}

// Processor composes the pipeline stages. It is safe for concurrent use.
type Processor struct {
	validator Validator
	uploader  upload.Uploader
	jobs      JobClient
	retry     retry.Policy
	wait      dashscope.WaitOptions

	outputDir     string
	defaultMode   pricing.Mode
	maxConcurrent int

	// submitMu serializes job creation so concurrent batches do not burst.
	submitMu sync.Mutex
	now      func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithRetryPolicy overrides the retry policy derived from the config.
func WithRetryPolicy(p retry.Policy) Option {
	return func(pr *Processor) { pr.retry = p }
}

// WithWaitOptions overrides the poll settings derived from the config.
func WithWaitOptions(w dashscope.WaitOptions) Option {
	return func(pr *Processor) { pr.wait = w }
}

// New creates a Processor from a resolved config and its collaborators.
func New(cfg *config.Config, v Validator, u upload.Uploader, jobs JobClient, opts ...Option) *Processor {
	p := &Processor{
		validator: v,
		uploader:  u,
		jobs:      jobs,
		retry:     retry.New(cfg.MaxRetries, cfg.BackoffFactor),
		wait: dashscope.WaitOptions{
			Interval:     cfg.PollInterval,
			Timeout:      cfg.MaxWait,
			UnknownGrace: cfg.UnknownGrace,
		},
		outputDir:     cfg.OutputDir,
		defaultMode:   cfg.DefaultMode,
		maxConcurrent: cfg.MaxConcurrentJobs,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one request. The returned Outcome is never nil; on failure
// its Err matches the returned *ProcessingError.
func (p *Processor) Process(ctx context.Context, req Request, observe Observer) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{ImagePath: req.ImagePath, VideoPath: req.VideoPath}
	report := func(stage Stage, format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		log.Debug().Str("stage", string(stage)).Msg(msg)
		if observe != nil {
			observe(stage, msg)
		}
	}
	fail := func(stage Stage, err error) (*Outcome, error) {
		perr := &ProcessingError{Stage: stage, JobID: out.JobID, Err: err}
		out.Err = perr
		out.Elapsed = time.Since(start)
		recordOutcome(out, stage)
		log.Error().Err(err).Str("stage", string(stage)).Str("jobId", out.JobID).Msg("Processing failed")
		return out, perr
	}

	requested := req.Mode
	if requested == "" {
		requested = p.defaultMode
	}
	mode, err := pricing.ParseMode(string(requested))
	if err != nil {
		return fail(StageRequest, fmt.Errorf("%w: %v", dashscope.ErrInvalidMode, err))
	}
	out.Mode = mode

	// Validation
	if req.SkipValidation {
		report(StageValidateImage, "Skipping validation (not recommended)")
	} else {
		report(StageValidateImage, "Validating image...")
		if err := p.validator.ValidateImage(ctx, req.ImagePath).Err(); err != nil {
			return fail(StageValidateImage, err)
		}
		report(StageValidateVideo, "Validating video...")
		if err := p.validator.ValidateVideo(ctx, req.VideoPath).Err(); err != nil {
			return fail(StageValidateVideo, err)
		}
	}
	if cost, ok := p.validator.EstimateCost(ctx, req.VideoPath, mode); ok {
		out.EstimatedCost, out.HasEstimate = cost, true
		report(StageValidateVideo, "Estimated cost: %.2f RMB", cost)
	}

	// Upload
	report(StageUploadImage, "Uploading image (%s)...", p.uploader.Strategy())
	image, err := retry.DoValue(ctx, p.retry, "upload image", func(ctx context.Context) (*upload.Result, error) {
		return p.uploader.Upload(ctx, req.ImagePath)
	})
	if err != nil {
		return fail(StageUploadImage, err)
	}
	report(StageUploadVideo, "Uploading video (%s)...", p.uploader.Strategy())
	video, err := retry.DoValue(ctx, p.retry, "upload video", func(ctx context.Context) (*upload.Result, error) {
		return p.uploader.Upload(ctx, req.VideoPath)
	})
	if err != nil {
		return fail(StageUploadVideo, err)
	}

	// Create
	report(StageCreateJob, "Creating job (%s)...", mode.Description())
	jobID, err := p.createJob(ctx, dashscope.CreateRequest{
		ImageURL:   image.URL,
		VideoURL:   video.URL,
		Mode:       mode,
		CheckImage: req.CheckImage,
	})
	if err != nil {
		return fail(StageCreateJob, err)
	}
	out.JobID = jobID
	report(StageCreateJob, "Job created: %s", jobID)

	// Wait
	report(StageWait, "Waiting for job (this may take a few minutes)...")
	wait := p.wait
	wait.OnProgress = func(snap *dashscope.Snapshot, elapsed time.Duration) {
		report(StageWait, "Job status: %s (%s elapsed)", snap.Status, elapsed.Round(time.Second))
	}
	snap, err := p.jobs.WaitForJob(ctx, jobID, wait)
	if err != nil {
		return fail(StageWait, err)
	}
	if snap.ResultURL == "" {
		return fail(StageWait, &dashscope.APIError{Op: "wait", TaskID: jobID, Err: dashscope.ErrNoResultURL})
	}
	if snap.Usage != nil {
		out.VideoDuration = snap.Usage.VideoDuration
		out.ActualCost = pricing.Estimate(snap.Usage.VideoDuration, mode)
		report(StageWait, "Billed duration %.1fs, cost %.2f RMB", out.VideoDuration, out.ActualCost)
	}

	// Download
	dest := p.outputPath(req)
	report(StageDownload, "Downloading result to %s...", dest)
	if err := p.jobs.DownloadResult(ctx, snap.ResultURL, dest); err != nil {
		return fail(StageDownload, err)
	}

	out.Success = true
	out.OutputPath = dest
	out.Elapsed = time.Since(start)
	recordOutcome(out, "")

	log.Info().
		Str("jobId", jobID).
		Str("output", dest).
		Str("mode", string(mode)).
		Float64("cost", out.ActualCost).
		Dur("elapsed", out.Elapsed).
		Msg("Processing complete")
	return out, nil
}

func (p *Processor) createJob(ctx context.Context, req dashscope.CreateRequest) (string, error) {
	p.submitMu.Lock()
	defer p.submitMu.Unlock()
	return retry.DoValue(ctx, p.retry, "create job", func(ctx context.Context) (string, error) {
		return p.jobs.CreateJob(ctx, req)
	})
}

func (p *Processor) outputPath(req Request) string {
	dir := req.OutputDir
	if dir == "" {
		dir = p.outputDir
	}
	name := req.OutputName
	if name == "" {
		name = DefaultOutputName(p.now())
	}
	return filepath.Join(dir, name)
}

// DefaultOutputName is the file name used when a request names none.
func DefaultOutputName(t time.Time) string {
	return fmt.Sprintf("result_%s.mp4", t.Format("20060102_150405"))
}

func recordOutcome(out *Outcome, failedStage Stage) {
	result := "success"
	if !out.Success {
		result = "failed"
	}
	rec := metrics.New(metrics.Namespace).
		Dimension("Mode", string(out.Mode)).
		Dimension("Outcome", result).
		Duration("ElapsedMs", out.Elapsed).
		Count("Jobs")
	if out.JobID != "" {
		rec.Property("jobId", out.JobID)
	}
	if failedStage != "" {
		rec.Property("stage", string(failedStage))
	}
	if out.HasEstimate {
		rec.Metric("EstimatedCostYuan", out.EstimatedCost, metrics.UnitNone)
	}
	if out.Success {
		rec.Metric("CostYuan", out.ActualCost, metrics.UnitNone).
			Metric("VideoSeconds", out.VideoDuration, metrics.UnitSeconds)
		if info, err := os.Stat(out.OutputPath); err == nil {
			rec.Metric("OutputBytes", float64(info.Size()), metrics.UnitBytes)
		}
	}
	rec.Flush()
}
