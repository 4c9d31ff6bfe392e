// Package frames extracts still frames and audio tracks from a video via
// ffmpeg. Frames come out one per second of segment runtime, named so that
// lexical order is capture order.
package frames

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"shelfscan/internal/media/scenes"
)

// Extractor runs ffmpeg extraction jobs for one video file.
type Extractor struct {
	binary string
}

// NewExtractor returns an extractor using the given ffmpeg binary; empty
// falls back to "ffmpeg" on PATH.
func NewExtractor(binary string) *Extractor {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Extractor{binary: binary}
}

// ExtractSegmentFrames writes one JPEG per second of the segment into dir
// and returns the written paths in capture order. A segment shorter than
// one second still yields its first frame.
func (e *Extractor) ExtractSegmentFrames(ctx context.Context, videoPath string, segment scenes.Segment, dir string) ([]string, error) {
	videoPath = strings.TrimSpace(videoPath)
	if videoPath == "" {
		return nil, errors.New("frame extract: empty video path")
	}
	if segment.Duration() <= 0 {
		return nil, fmt.Errorf("frame extract: empty segment %+v", segment)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("frame extract: create dir: %w", err)
	}

	pattern := filepath.Join(dir, "frame-%04d.jpg")
	cmd := exec.CommandContext(ctx, e.binary,
		"-hide_banner", "-nostats", "-loglevel", "error",
		"-ss", formatSeconds(segment.Start),
		"-to", formatSeconds(segment.End),
		"-i", videoPath,
		"-vf", "fps=1",
		"-fps_mode", "vfr",
		"-q:v", "3",
		"-y", pattern)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("frame extract: %w: %s", err, strings.TrimSpace(string(output)))
	}

	return listFrames(dir)
}

// ExtractAudio writes a mono 16 kHz WAV suitable for speech-to-text and
// returns its path. It fails when the container has no audio stream.
func (e *Extractor) ExtractAudio(ctx context.Context, videoPath, outPath string) (string, error) {
	videoPath = strings.TrimSpace(videoPath)
	if videoPath == "" {
		return "", errors.New("audio extract: empty video path")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("audio extract: create dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.binary,
		"-hide_banner", "-nostats", "-loglevel", "error",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y", outPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("audio extract: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return outPath, nil
}

// listFrames returns dir's frame files sorted by name. The %04d pattern
// makes lexical order equal capture order.
func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("frame extract: read dir: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "frame-") && strings.HasSuffix(name, ".jpg") {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func formatSeconds(seconds float64) string {
	return fmt.Sprintf("%.3f", seconds)
}
