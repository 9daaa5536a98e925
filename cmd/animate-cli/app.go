package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/fpang/animate-mix-cli/internal/config"
	"github.com/fpang/animate-mix-cli/internal/dashscope"
	"github.com/fpang/animate-mix-cli/internal/facedetect"
	"github.com/fpang/animate-mix-cli/internal/filehandler"
	"github.com/fpang/animate-mix-cli/internal/logging"
	"github.com/fpang/animate-mix-cli/internal/metrics"
	"github.com/fpang/animate-mix-cli/internal/pipeline"
	"github.com/fpang/animate-mix-cli/internal/upload"
	"github.com/fpang/animate-mix-cli/internal/validate"
)

// app holds the resolved configuration and the closers opened by setup.
type app struct {
	cfg     *config.Config
	closers []io.Closer
}

// setup loads configuration and initializes logging and metrics. When
// needKey is set the API key is resolved (flag, env, then SSM) and the
// configuration is validated.
func setup(ctx context.Context, command string, needKey bool) (*app, error) {
	var envFiles []string
	if envFileFlag != "" {
		envFiles = []string{envFileFlag}
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if apiKeyFlag != "" {
		cfg.APIKey = apiKeyFlag
		cfg.APIKeySource = "flag"
	}
	if verboseFlag {
		cfg.LogLevel = "debug"
	}

	a := &app{cfg: cfg}
	logCloser, err := logging.Init(cfg.LogLevel, cfg.LogFile())
	if err != nil {
		log.Warn().Err(err).Msg("File logging disabled")
	}
	a.closers = append(a.closers, logCloser)

	if needKey {
		if cfg.APIKey == "" && cfg.SSMAPIKeyParam != "" {
			client, err := config.NewSSMClient(ctx)
			if err != nil {
				a.Close()
				return nil, err
			}
			if err := cfg.ResolveAPIKey(ctx, client); err != nil {
				a.Close()
				return nil, err
			}
		}
		if err := cfg.Validate(); err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid configuration:\n%w", err)
		}
	}

	logging.NewStartupLogger(command).
		Version(version).
		Resource("apiBaseURL", cfg.BaseURL).
		Resource("ssmApiKeyParam", cfg.SSMAPIKeyParam).
		Resource("bucket", bucketResource(cfg)).
		Feature("faceDetection", cfg.FaceDetection).
		Feature("directBucketUpload", cfg.UseBucket).
		Config("model", cfg.Model).
		Config("region", cfg.Region).
		Config("defaultMode", string(cfg.DefaultMode)).
		Config("pollInterval", cfg.PollInterval.String()).
		Config("maxWait", cfg.MaxWait.String()).
		Config("apiKey", cfg.MaskedAPIKey()).
		Config("apiKeySource", cfg.APIKeySource).
		Log()

	return a, nil
}

func bucketResource(cfg *config.Config) string {
	if !cfg.UseBucket {
		return ""
	}
	return cfg.Bucket.Name + "." + cfg.Bucket.Endpoint + "/" + cfg.Bucket.Prefix
}

// Close releases log and metrics files.
func (a *app) Close() {
	metrics.SetOutput(nil)
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

// openMetrics points the metrics recorder at <LOG_DIR>/metrics.jsonl.
func (a *app) openMetrics() {
	if a.cfg.LogDir == "" {
		return
	}
	path := filepath.Join(a.cfg.LogDir, "metrics.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Metrics file unavailable")
		return
	}
	metrics.SetOutput(f)
	a.closers = append(a.closers, f)
}

// newValidator wires the optional probe, frame and face capabilities.
// Any capability that cannot be set up is left out and logged.
func (a *app) newValidator() *validate.Validator {
	var opts []validate.Option

	if prober, err := filehandler.NewFFprobe(); err != nil {
		log.Warn().Err(err).Msg("ffprobe not available, video checks limited to format and size")
	} else {
		opts = append(opts, validate.WithProber(prober))
	}

	if frames, err := filehandler.NewFFmpeg(a.cfg.TempDir); err != nil {
		log.Debug().Err(err).Msg("ffmpeg not available, face check skipped for videos")
	} else {
		opts = append(opts, validate.WithFrameExtractor(frames))
	}

	if a.cfg.FaceDetection {
		detector, err := facedetect.New(a.cfg.FaceCascadePath, a.cfg.FaceMinQuality)
		if err != nil {
			log.Warn().Err(err).Msg("Face detection disabled")
		} else {
			opts = append(opts, validate.WithDetector(detector))
		}
	}

	return validate.New(opts...)
}

func (a *app) newClient() *dashscope.Client {
	return dashscope.NewClient(a.cfg.APIKey,
		dashscope.WithBaseURL(a.cfg.BaseURL),
		dashscope.WithModel(a.cfg.Model),
		dashscope.WithRateLimit(a.cfg.MaxRPS),
	)
}

// newUploader picks the upload strategy from USE_OSS.
func (a *app) newUploader(ctx context.Context, client *dashscope.Client) (upload.Uploader, error) {
	if a.cfg.UseBucket {
		return upload.NewBucketUploader(ctx, a.cfg.Bucket)
	}
	return upload.NewBrokerUploader(client, nil), nil
}

// newProcessor builds the full pipeline.
func (a *app) newProcessor(ctx context.Context) (*pipeline.Processor, error) {
	if err := a.cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	a.openMetrics()

	client := a.newClient()
	uploader, err := a.newUploader(ctx, client)
	if err != nil {
		return nil, err
	}
	return pipeline.New(a.cfg, a.newValidator(), uploader, client), nil
}
