package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"

	"github.com/fpang/animate-mix-cli/internal/filehandler"
)

// ErrCanceled is returned when the user dismisses a picker.
var ErrCanceled = errors.New("selection canceled")

// PromptForPath asks for a path on stdout and reads it from in.
// An empty answer returns def.
func PromptForPath(in io.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}

	reader := bufio.NewReader(in)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		log.Warn().Err(err).Msg("Failed to read input, using default")
		return def
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

// PickImage opens a native file dialog filtered to supported images.
func PickImage() (string, error) {
	return pickFile("Select portrait image", "Images", filehandler.ImageFormats)
}

// PickVideo opens a native file dialog filtered to supported videos.
func PickVideo() (string, error) {
	return pickFile("Select reference video", "Videos", filehandler.VideoFormats)
}

func pickFile(title, filterName string, formats map[string]string) (string, error) {
	patterns := make([]string, 0, len(formats))
	exts := make([]string, 0, len(formats))
	for ext := range formats {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	for _, ext := range exts {
		patterns = append(patterns, "*"+ext)
	}

	selected, err := zenity.SelectFile(
		zenity.Title(title),
		zenity.FileFilters{{Name: filterName, Patterns: patterns}},
	)
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return "", ErrCanceled
		}
		return "", fmt.Errorf("file picker failed: %w", err)
	}
	log.Debug().Str("path", selected).Msg("File picked via native dialog")
	return selected, nil
}

// ResolveFile checks that path names an existing regular file and returns
// it as an absolute path.
func ResolveFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("cannot access %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}
