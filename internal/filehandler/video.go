package filehandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrProbeUnavailable means no video metadata tool is installed. Video
// validation degrades to format and size checks when it sees this error.
var ErrProbeUnavailable = errors.New("ffprobe not found in PATH")

// VideoMetadata contains the stream properties reported by ffprobe.
type VideoMetadata struct {
	Duration  time.Duration
	Width     int
	Height    int
	FrameRate float64
	Codec     string
	BitRate   int64
}

// Prober reads video metadata from a file.
type Prober interface {
	Probe(ctx context.Context, filePath string) (*VideoMetadata, error)
}

// FFprobe is a Prober backed by the ffprobe binary.
type FFprobe struct {
	path string
}

// NewFFprobe locates ffprobe in PATH. It returns ErrProbeUnavailable
// when the binary is missing.
func NewFFprobe() (*FFprobe, error) {
	path, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("%w: install FFmpeg with brew install ffmpeg (macOS) or apt install ffmpeg (Linux)", ErrProbeUnavailable)
	}
	log.Debug().Str("path", path).Msg("ffprobe found")
	return &FFprobe{path: path}, nil
}

// ffprobeOutput represents the JSON structure from ffprobe.
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type ffprobeStream struct {
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
	Duration   string `json:"duration"`
}

// Probe runs ffprobe with JSON output and parses the first video stream.
func (p *FFprobe) Probe(ctx context.Context, filePath string) (*VideoMetadata, error) {
	cmd := exec.CommandContext(ctx, p.path,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	metadata, err := parseFFprobeOutput(output)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("path", filePath).
		Dur("duration", metadata.Duration).
		Int("width", metadata.Width).
		Int("height", metadata.Height).
		Float64("frame_rate", metadata.FrameRate).
		Str("codec", metadata.Codec).
		Msg("Video metadata extracted via ffprobe")

	return metadata, nil
}

func parseFFprobeOutput(output []byte) (*VideoMetadata, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	metadata := &VideoMetadata{}
	if probe.Format.Duration != "" {
		metadata.Duration = parseSeconds(probe.Format.Duration)
	}
	if probe.Format.BitRate != "" {
		metadata.BitRate, _ = strconv.ParseInt(probe.Format.BitRate, 10, 64)
	}

	foundVideo := false
	for _, stream := range probe.Streams {
		if stream.CodecType != "video" || foundVideo {
			continue
		}
		foundVideo = true
		metadata.Width = stream.Width
		metadata.Height = stream.Height
		metadata.Codec = stream.CodecName
		metadata.FrameRate = parseFrameRate(stream.RFrameRate)
		// Some containers only report duration on the stream.
		if metadata.Duration == 0 && stream.Duration != "" {
			metadata.Duration = parseSeconds(stream.Duration)
		}
	}
	if !foundVideo {
		return nil, errors.New("no video stream found")
	}
	return metadata, nil
}

func parseSeconds(value string) time.Duration {
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// parseFrameRate parses frame rate from ffprobe format (e.g., "60/1" -> 60.0)
func parseFrameRate(value string) float64 {
	parts := strings.Split(value, "/")
	if len(parts) == 2 {
		num, _ := strconv.ParseFloat(parts[0], 64)
		den, _ := strconv.ParseFloat(parts[1], 64)
		if den != 0 {
			return num / den
		}
	}
	rate, _ := strconv.ParseFloat(value, 64)
	return rate
}
