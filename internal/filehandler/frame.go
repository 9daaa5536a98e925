package filehandler

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// FrameExtractor returns a single decoded frame of a video.
type FrameExtractor interface {
	FirstFrame(ctx context.Context, videoPath string) (image.Image, error)
}

// FFmpeg is a FrameExtractor backed by the ffmpeg binary.
type FFmpeg struct {
	path    string
	tempDir string
}

// NewFFmpeg locates ffmpeg in PATH. Extracted frames are written to
// tempDir (os.TempDir when empty) and removed after decoding.
func NewFFmpeg(tempDir string) (*FFmpeg, error) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return &FFmpeg{path: path, tempDir: tempDir}, nil
}

// FirstFrame extracts frame 0 as PNG and decodes it.
func (f *FFmpeg) FirstFrame(ctx context.Context, videoPath string) (image.Image, error) {
	tmp, err := os.CreateTemp(f.tempDir, "frame-*.png")
	if err != nil {
		return nil, fmt.Errorf("create temp frame file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	// ffmpeg -i input.mp4 -vframes 1 -y frame.png
	cmd := exec.CommandContext(ctx, f.path,
		"-v", "error",
		"-i", videoPath,
		"-vframes", "1",
		"-y", tmpPath,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame extraction failed: %w: %s", err, string(output))
	}

	file, err := os.Open(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("open extracted frame: %w", err)
	}
	defer file.Close()

	img, err := png.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode extracted frame: %w", err)
	}

	log.Debug().
		Str("video", filepath.Base(videoPath)).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Msg("First frame extracted")
	return img, nil
}
