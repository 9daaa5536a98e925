// Package facedetect counts human faces in an image.
//
// Face detection is an optional capability. Callers hold a Detector that
// may be nil; a nil Detector means "not available" and the single-face
// check is skipped.
package facedetect

import (
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
	pigo "github.com/esimov/pigo/core"
	"github.com/rs/zerolog/log"
)

// ErrUnavailable is returned by New when no cascade file is configured.
var ErrUnavailable = errors.New("face detection unavailable: FACE_CASCADE_PATH not set")

// Detector counts faces in an image.
type Detector interface {
	CountFaces(img image.Image) (int, error)
}

// maxSide bounds the image handed to the cascade. Portraits far larger
// than this only slow the scan down.
const maxSide = 640

// classifier is the subset of *pigo.Pigo used here.
type classifier interface {
	RunCascade(cp pigo.CascadeParams, angle float64) []pigo.Detection
	ClusterDetections(dets []pigo.Detection, iouThreshold float64) []pigo.Detection
}

// PigoDetector runs a pigo face cascade.
type PigoDetector struct {
	classifier classifier
	minQuality float32
}

// New loads the pigo cascade at cascadePath. Detections scoring below
// minQuality are ignored.
func New(cascadePath string, minQuality float64) (*PigoDetector, error) {
	if cascadePath == "" {
		return nil, ErrUnavailable
	}
	data, err := os.ReadFile(cascadePath)
	if err != nil {
		return nil, fmt.Errorf("read face cascade: %w", err)
	}
	p, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack face cascade: %w", err)
	}
	log.Debug().Str("cascade", cascadePath).Float64("minQuality", minQuality).Msg("Face detector loaded")
	return &PigoDetector{classifier: p, minQuality: float32(minQuality)}, nil
}

// CountFaces returns the number of distinct faces above the quality threshold.
func (d *PigoDetector) CountFaces(img image.Image) (int, error) {
	if img == nil {
		return 0, errors.New("nil image")
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return 0, errors.New("empty image")
	}

	var src *image.NRGBA
	if b.Dx() > maxSide || b.Dy() > maxSide {
		src = imaging.Fit(img, maxSide, maxSide, imaging.Box)
	} else {
		src = imaging.Clone(img)
	}
	cols, rows := src.Bounds().Dx(), src.Bounds().Dy()

	minSide := cols
	if rows < minSide {
		minSide = rows
	}

	params := pigo.CascadeParams{
		MinSize:     max(20, minSide/10),
		MaxSize:     minSide,
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(src),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := d.classifier.RunCascade(params, 0.0)
	dets = d.classifier.ClusterDetections(dets, 0.2)

	count := 0
	for _, det := range dets {
		if det.Q >= d.minQuality {
			count++
		}
	}
	log.Debug().Int("detections", len(dets)).Int("faces", count).Msg("Face detection complete")
	return count, nil
}
