// Package filehandler reads the facts about local media files that the
// validators need: format, size, pixel dimensions, and duration.
//
// Two metadata providers are used:
//   - Images: pure Go (image.DecodeConfig for dimensions, imagemeta for EXIF)
//   - Videos: external ffprobe, with ffmpeg for first-frame extraction
//
// Nothing in this package writes to the input files.
package filehandler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ImageFormats maps the accepted image extensions to their MIME types.
var ImageFormats = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".bmp":  "image/bmp",
	".webp": "image/webp",
}

// VideoFormats maps the accepted video extensions to their MIME types.
var VideoFormats = map[string]string{
	".mp4": "video/mp4",
	".avi": "video/x-msvideo",
	".mov": "video/quicktime",
}

// ErrIsDirectory is returned by Stat when the path names a directory.
var ErrIsDirectory = errors.New("path is a directory, not a file")

// MediaFile describes a local media file. It is derived from the filesystem
// and never mutated after the validator fills it in.
type MediaFile struct {
	Path     string
	Format   string // lower-case extension without the dot
	MIMEType string
	Size     int64

	Width  int
	Height int

	// Video only.
	Duration  time.Duration
	FrameRate float64
	Codec     string

	// Image only, best effort.
	EXIF *ImageMetadata
}

// AspectRatio returns width/height, or 0 when dimensions are unknown.
func (m *MediaFile) AspectRatio() float64 {
	if m.Height == 0 {
		return 0
	}
	return float64(m.Width) / float64(m.Height)
}

// Stat returns a MediaFile with Path, Format, MIMEType, and Size filled in.
// Missing files yield an error matching fs.ErrNotExist.
func Stat(filePath string) (*MediaFile, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", filePath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: %w", filePath, ErrIsDirectory)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	mf := &MediaFile{
		Path:     filePath,
		Format:   strings.TrimPrefix(ext, "."),
		MIMEType: MIMEType(ext),
		Size:     info.Size(),
	}
	log.Debug().Str("path", filePath).Str("format", mf.Format).Int64("size_bytes", mf.Size).Msg("Media file stat")
	return mf, nil
}

// MIMEType returns the MIME type for a supported extension, or
// application/octet-stream.
func MIMEType(ext string) string {
	ext = strings.ToLower(ext)
	if m, ok := ImageFormats[ext]; ok {
		return m
	}
	if m, ok := VideoFormats[ext]; ok {
		return m
	}
	return "application/octet-stream"
}

// IsImage returns true if the file extension is an accepted image format.
func IsImage(ext string) bool {
	_, ok := ImageFormats[strings.ToLower(ext)]
	return ok
}

// IsVideo returns true if the file extension is an accepted video format.
func IsVideo(ext string) bool {
	_, ok := VideoFormats[strings.ToLower(ext)]
	return ok
}

// FormatSize renders a byte count as B, KB, MB, or GB.
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit && exp < 2; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMG"[exp])
}
