package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/fpang/animate-mix-cli/internal/pricing"
)

// BatchOptions controls ProcessBatch.
type BatchOptions struct {
	// ContinueOnError keeps going after a failed item. When false the
	// batch stops at the first failure and the rest are not attempted.
	ContinueOnError bool
	// Concurrency > 1 runs items in parallel, capped at the configured
	// maximum number of concurrent jobs. Default is sequential.
	Concurrency int
	Observer    func(index int, stage Stage, message string)
}

// BatchSummary aggregates a batch run. Items keeps request order; an item
// that was never attempted has a nil entry.
type BatchSummary struct {
	Total      int
	Successful int
	Failed     int
	Items      []*Outcome
}

// ProcessBatch runs reqs and returns a summary. The error is non-nil only
// when the batch stopped early (ContinueOnError false or ctx cancelled);
// individual failures are reported through the summary.
func (p *Processor) ProcessBatch(ctx context.Context, reqs []Request, opts BatchOptions) (*BatchSummary, error) {
	summary := &BatchSummary{Total: len(reqs), Items: make([]*Outcome, len(reqs))}
	reqs = p.withBatchOutputNames(reqs)

	limit := opts.Concurrency
	if limit > p.maxConcurrent {
		log.Warn().Int("requested", limit).Int("max", p.maxConcurrent).Msg("Batch concurrency capped at the job limit")
		limit = p.maxConcurrent
	}
	if limit < 1 {
		limit = 1
	}

	log.Info().Int("total", len(reqs)).Int("concurrency", limit).Bool("continueOnError", opts.ContinueOnError).Msg("Starting batch")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, req := range reqs {
		if gctx.Err() != nil {
			break
		}
		i, req := i, req
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			var observe Observer
			if opts.Observer != nil {
				observe = func(stage Stage, msg string) { opts.Observer(i, stage, msg) }
			}
			out, err := p.Process(gctx, req, observe)
			summary.Items[i] = out
			if err != nil && !opts.ContinueOnError {
				return fmt.Errorf("item %d: %w", i+1, err)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	for _, out := range summary.Items {
		switch {
		case out == nil:
		case out.Success:
			summary.Successful++
		default:
			summary.Failed++
		}
	}

	log.Info().
		Int("total", summary.Total).
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Msg("Batch complete")
	return summary, err
}

// withBatchOutputNames gives unnamed items distinct default names, since
// several may finish within the same second.
func (p *Processor) withBatchOutputNames(reqs []Request) []Request {
	named := make([]Request, len(reqs))
	stamp := strings.TrimSuffix(DefaultOutputName(p.now()), ".mp4")
	for i, req := range reqs {
		if req.OutputName == "" {
			req.OutputName = fmt.Sprintf("%s_%03d.mp4", stamp, i+1)
		}
		named[i] = req
	}
	return named
}

// Manifest is the on-disk batch description.
//
//	output_dir: results
//	mode: wan-pro
//	continue_on_error: true
//	jobs:
//	  - image: faces/alice.jpg
//	    video: clips/dance.mp4
//	    output: alice_dance.mp4
type Manifest struct {
	OutputDir       string    `yaml:"output_dir,omitempty"`
	Mode            string    `yaml:"mode,omitempty"`
	ContinueOnError *bool     `yaml:"continue_on_error,omitempty"`
	Jobs            []Request `yaml:"jobs"`
}

// LoadManifest reads a YAML manifest. Relative image and video paths are
// resolved against the manifest's directory; manifest-level output_dir
// and mode fill in items that leave them empty.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Jobs) == 0 {
		return nil, fmt.Errorf("manifest %s lists no jobs", path)
	}

	base := filepath.Dir(path)
	for i := range m.Jobs {
		job := &m.Jobs[i]
		if job.ImagePath == "" || job.VideoPath == "" {
			return nil, fmt.Errorf("manifest %s: job %d needs both image and video", path, i+1)
		}
		job.ImagePath = resolve(base, job.ImagePath)
		job.VideoPath = resolve(base, job.VideoPath)
		if job.OutputDir == "" {
			job.OutputDir = m.OutputDir
		}
		if job.Mode == "" {
			job.Mode = pricing.Mode(m.Mode)
		}
	}
	return &m, nil
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
