// Package scenes detects scene changes in a video and turns them into a
// gap-free list of segments covering the whole runtime.
package scenes

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// Segments shorter than this are detection jitter, not real scenes.
const minSegmentSeconds = 0.5

// Segment is one [Start, End) scene interval in seconds.
type Segment struct {
	Start float64
	End   float64
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 { return s.End - s.Start }

// Detector runs ffmpeg scene-change detection.
type Detector struct {
	binary    string
	threshold float64
}

// NewDetector returns a detector using the given ffmpeg binary and scene
// score threshold in (0, 1].
func NewDetector(binary string, threshold float64) (*Detector, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("scene detect: threshold %v outside (0, 1]", threshold)
	}
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Detector{binary: binary, threshold: threshold}, nil
}

// Detect returns the video's segments: scene-change timestamps bracketed
// by 0 and the total duration, with sub-half-second intervals dropped.
func (d *Detector) Detect(ctx context.Context, path string, duration float64) ([]Segment, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("scene detect: empty path")
	}
	if duration <= 0 {
		return nil, fmt.Errorf("scene detect: non-positive duration %v", duration)
	}

	filter := fmt.Sprintf("select='gt(scene,%g)',showinfo", d.threshold)
	cmd := exec.CommandContext(ctx, d.binary,
		"-hide_banner", "-nostats",
		"-i", path,
		"-vf", filter,
		"-an", "-f", "null", "-")
	// showinfo writes to stderr; ffmpeg exits 0 even when no frame passes
	// the select filter.
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("scene detect: %w: %s", err, lastOutputLine(output))
	}
	return BuildSegments(parseShowinfoTimestamps(string(output)), duration), nil
}

// BuildSegments brackets scene-change timestamps with 0 and the total
// duration, forming intervals that partition [0, duration], then drops any
// interval shorter than half a second. Out-of-range and duplicate
// timestamps are ignored.
func BuildSegments(timestamps []float64, duration float64) []Segment {
	cuts := make([]float64, 0, len(timestamps)+2)
	cuts = append(cuts, 0)
	for _, ts := range timestamps {
		if ts > 0 && ts < duration {
			cuts = append(cuts, ts)
		}
	}
	cuts = append(cuts, duration)
	sort.Float64s(cuts)

	segments := make([]Segment, 0, len(cuts)-1)
	for i := 1; i < len(cuts); i++ {
		segment := Segment{Start: cuts[i-1], End: cuts[i]}
		if segment.Duration() < minSegmentSeconds {
			continue
		}
		segments = append(segments, segment)
	}
	return segments
}

// parseShowinfoTimestamps extracts pts_time values from ffmpeg showinfo
// stderr lines.
func parseShowinfoTimestamps(output string) []float64 {
	var timestamps []float64
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "showinfo") {
			continue
		}
		idx := strings.Index(line, "pts_time:")
		if idx < 0 {
			continue
		}
		value := line[idx+len("pts_time:"):]
		if end := strings.IndexAny(value, " \t"); end >= 0 {
			value = value[:end]
		}
		ts, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			continue
		}
		timestamps = append(timestamps, ts)
	}
	return timestamps
}

func lastOutputLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
