// Package validate checks that a portrait image and a reference video meet
// the input constraints of the animate-mix service before anything is
// uploaded.
//
// Checks run cheapest first and stop at the first failure:
// existence, format, file size, decoded dimensions, aspect ratio,
// duration (video only), and finally the optional single-face check.
// Validation never returns an error value; every outcome is a *Result.
package validate

import (
	"context"
	"errors"
	"image"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/animate-mix-cli/internal/facedetect"
	"github.com/fpang/animate-mix-cli/internal/filehandler"
	"github.com/fpang/animate-mix-cli/internal/pricing"
)

// Limits bounds one kind of input file.
type Limits struct {
	Formats     map[string]string
	MinSide     int
	MaxSide     int
	MaxBytes    int64
	MinDuration time.Duration
	MaxDuration time.Duration
}

// ImageLimits are the constraints for the portrait image.
var ImageLimits = Limits{
	Formats:  filehandler.ImageFormats,
	MinSide:  200,
	MaxSide:  4096,
	MaxBytes: 5 << 20,
}

// VideoLimits are the constraints for the reference video.
var VideoLimits = Limits{
	Formats:     filehandler.VideoFormats,
	MinSide:     200,
	MaxSide:     2048,
	MaxBytes:    200 << 20,
	MinDuration: 2 * time.Second,
	MaxDuration: 30 * time.Second,
}

// Validator validates images and videos. It is safe for concurrent use
// on distinct files.
type Validator struct {
	prober   filehandler.Prober
	frames   filehandler.FrameExtractor
	detector facedetect.Detector

	faceOffOnce  sync.Once
	frameOffOnce sync.Once
	probeOffOnce sync.Once
}

// Option configures a Validator.
type Option func(*Validator)

// WithProber sets the video metadata reader. Without one, video
// validation is degraded to format and size checks.
func WithProber(p filehandler.Prober) Option {
	return func(v *Validator) { v.prober = p }
}

// WithFrameExtractor sets how the first video frame is obtained for the
// face check.
func WithFrameExtractor(f filehandler.FrameExtractor) Option {
	return func(v *Validator) { v.frames = f }
}

// WithDetector enables the single-face check. A nil detector leaves it off.
func WithDetector(d facedetect.Detector) Option {
	return func(v *Validator) { v.detector = d }
}

// New creates a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// FaceDetectionEnabled reports whether the single-face check will run.
func (v *Validator) FaceDetectionEnabled() bool {
	return v.detector != nil
}

// ValidateImage checks a portrait image.
func (v *Validator) ValidateImage(ctx context.Context, path string) *Result {
	res := v.validateImage(ctx, path)
	res.Kind = "image"
	logResult(res)
	return res
}

func (v *Validator) validateImage(ctx context.Context, path string) *Result {
	mf, res := checkFile(path, ImageLimits)
	if res != nil {
		return res
	}

	w, h, _, err := filehandler.DecodeImageConfig(path)
	if err != nil {
		return fail(mf, ReasonDecodeFailed, "cannot read image: %v", err)
	}
	mf.Width, mf.Height = w, h

	if res := checkGeometry(mf, ImageLimits); res != nil {
		return res
	}

	res = pass(mf)
	if v.detector == nil {
		v.faceOffOnce.Do(logFaceDetectionOff)
		return res
	}
	img, err := filehandler.DecodeImage(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Cannot decode image for face detection, skipping face check")
		return res
	}
	return v.checkFaces(ctx, res, img)
}

// ValidateVideo checks a reference video.
func (v *Validator) ValidateVideo(ctx context.Context, path string) *Result {
	res := v.validateVideo(ctx, path)
	res.Kind = "video"
	logResult(res)
	return res
}

func (v *Validator) validateVideo(ctx context.Context, path string) *Result {
	mf, res := checkFile(path, VideoLimits)
	if res != nil {
		return res
	}

	meta, err := v.probe(ctx, path)
	if errors.Is(err, filehandler.ErrProbeUnavailable) {
		v.probeOffOnce.Do(func() {
			log.Warn().Msg("Video metadata unavailable, validating format and size only")
		})
		res := pass(mf)
		res.Degraded = true
		return res
	}
	if err != nil {
		return fail(mf, ReasonDecodeFailed, "cannot read video: %v", err)
	}
	if meta.Width == 0 || meta.Height == 0 {
		return fail(mf, ReasonDecodeFailed, "video reports no frame dimensions")
	}
	mf.Width, mf.Height = meta.Width, meta.Height
	mf.Duration = meta.Duration
	mf.FrameRate = meta.FrameRate
	mf.Codec = meta.Codec

	if res := checkGeometry(mf, VideoLimits); res != nil {
		return res
	}

	if mf.Duration < VideoLimits.MinDuration || mf.Duration > VideoLimits.MaxDuration {
		return fail(mf, ReasonDuration, "duration %.1fs outside [%.0f, %.0f] seconds",
			mf.Duration.Seconds(), VideoLimits.MinDuration.Seconds(), VideoLimits.MaxDuration.Seconds())
	}

	res = pass(mf)
	if v.detector == nil {
		v.faceOffOnce.Do(logFaceDetectionOff)
		return res
	}
	if v.frames == nil {
		v.frameOffOnce.Do(func() {
			log.Warn().Msg("No frame extractor available, skipping face check on videos")
		})
		return res
	}
	frame, err := v.frames.FirstFrame(ctx, path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Cannot extract first frame, skipping face check")
		return res
	}
	return v.checkFaces(ctx, res, frame)
}

// EstimateCost returns the price of processing the video at path in mode.
// The second return is false when the duration could not be determined.
func (v *Validator) EstimateCost(ctx context.Context, path string, mode pricing.Mode) (float64, bool) {
	meta, err := v.probe(ctx, path)
	if err != nil || meta.Duration <= 0 {
		return 0, false
	}
	return pricing.Estimate(meta.Duration.Seconds(), mode), true
}

// Inspect returns everything known about a media file without applying
// any limits. EXIF is read for images on a best-effort basis.
func (v *Validator) Inspect(ctx context.Context, path string) (*filehandler.MediaFile, error) {
	mf, err := filehandler.Stat(path)
	if err != nil {
		return nil, err
	}
	ext := "." + mf.Format
	switch {
	case filehandler.IsImage(ext):
		if mf.Width, mf.Height, _, err = filehandler.DecodeImageConfig(path); err != nil {
			return mf, err
		}
		if exif, err := filehandler.ExtractImageMetadata(path); err == nil {
			mf.EXIF = exif
		}
	case filehandler.IsVideo(ext):
		meta, err := v.probe(ctx, path)
		if err != nil {
			return mf, err
		}
		mf.Width, mf.Height = meta.Width, meta.Height
		mf.Duration, mf.FrameRate, mf.Codec = meta.Duration, meta.FrameRate, meta.Codec
	}
	return mf, nil
}

func (v *Validator) probe(ctx context.Context, path string) (*filehandler.VideoMetadata, error) {
	if v.prober == nil {
		return nil, filehandler.ErrProbeUnavailable
	}
	return v.prober.Probe(ctx, path)
}

func (v *Validator) checkFaces(ctx context.Context, res *Result, img image.Image) *Result {
	if ctx.Err() != nil {
		return res
	}
	n, err := v.detector.CountFaces(img)
	if err != nil {
		log.Warn().Err(err).Str("path", res.Media.Path).Msg("Face detection failed, skipping face check")
		return res
	}
	res.FaceChecked = true
	switch {
	case n == 0:
		return fail(res.Media, ReasonNoFace, "no face detected; use a clear, front-facing portrait")
	case n > 1:
		return fail(res.Media, ReasonMultipleFaces, "%d faces detected; exactly one is required", n)
	}
	return res
}

// checkFile runs the existence, format and size checks.
func checkFile(path string, limits Limits) (*filehandler.MediaFile, *Result) {
	mf, err := filehandler.Stat(path)
	if err != nil {
		stub := &filehandler.MediaFile{Path: path}
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fail(stub, ReasonFileNotFound, "file not found: %s", path)
		}
		return nil, fail(stub, ReasonUnreadable, "%v", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := limits.Formats[ext]; !ok {
		return nil, fail(mf, ReasonUnsupportedFormat, "format %q not supported; use one of %s", mf.Format, formatList(limits.Formats))
	}
	if mf.Size > limits.MaxBytes {
		return nil, fail(mf, ReasonFileTooLarge, "file size %s exceeds %s",
			filehandler.FormatSize(mf.Size), filehandler.FormatSize(limits.MaxBytes))
	}
	return mf, nil
}

// checkGeometry runs the dimension and aspect-ratio checks.
func checkGeometry(mf *filehandler.MediaFile, limits Limits) *Result {
	w, h := mf.Width, mf.Height
	if w < limits.MinSide || w > limits.MaxSide || h < limits.MinSide || h > limits.MaxSide {
		return fail(mf, ReasonDimensions, "resolution %dx%d outside [%d, %d] px",
			w, h, limits.MinSide, limits.MaxSide)
	}
	// 1/3 <= w/h <= 3, compared in integers so the boundaries are exact.
	if 3*w < h || w > 3*h {
		return fail(mf, ReasonAspectRatio, "aspect ratio %.2f outside [1/3, 3]", mf.AspectRatio())
	}
	return nil
}

func formatList(formats map[string]string) string {
	names := make([]string, 0, len(formats))
	exts := make([]string, 0, len(formats))
	for ext := range formats {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	for _, ext := range exts {
		names = append(names, strings.TrimPrefix(ext, "."))
	}
	return strings.Join(names, ", ")
}

func logFaceDetectionOff() {
	log.Info().Msg("Face detection not available, single-face check disabled")
}

func logResult(res *Result) {
	if res.OK {
		log.Debug().
			Str("kind", res.Kind).
			Str("path", res.Media.Path).
			Bool("degraded", res.Degraded).
			Bool("faceChecked", res.FaceChecked).
			Msg("Validation passed")
		return
	}
	log.Info().
		Str("kind", res.Kind).
		Str("path", res.Media.Path).
		Str("reason", string(res.Reason)).
		Str("detail", res.Detail).
		Msg("Validation failed")
}
