package logs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Filter narrows tailed output to the structured records the worker writes.
// Zero value keeps every line.
type Filter struct {
	// MinLevel drops records below the named level (debug, info, warn,
	// error). Empty keeps all levels.
	MinLevel string
	// Component keeps only records from the named component, e.g.
	// "dispatcher" or "video".
	Component string
}

// TailOptions controls one Tail call. A negative Offset means "the last
// Limit lines"; a non-negative Offset resumes where a previous call's
// TailResult.Offset left off.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	Filter Filter
}

type TailResult struct {
	Lines  []string
	Offset int64
}

// lineFilter is Filter with the level threshold parsed once per Tail call.
type lineFilter struct {
	minLevel  slog.Level
	hasLevel  bool
	component string
}

func (f Filter) compile() (lineFilter, error) {
	compiled := lineFilter{component: f.Component}
	if f.MinLevel != "" {
		if err := compiled.minLevel.UnmarshalText([]byte(f.MinLevel)); err != nil {
			return compiled, fmt.Errorf("log level %q: %w", f.MinLevel, err)
		}
		compiled.hasLevel = true
	}
	return compiled, nil
}

func (f lineFilter) active() bool { return f.hasLevel || f.component != "" }

// keep reports whether a log line passes the filter. Filtering reads the
// JSON records the worker's file logger writes; when a filter is set,
// lines that are not JSON records are dropped.
func (f lineFilter) keep(line string) bool {
	if !f.active() {
		return true
	}
	var record struct {
		Level     string `json:"level"`
		Component string `json:"component"`
	}
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return false
	}
	if f.component != "" && record.Component != f.component {
		return false
	}
	if f.hasLevel {
		var level slog.Level
		if err := level.UnmarshalText([]byte(record.Level)); err != nil {
			return false
		}
		if level < f.minLevel {
			return false
		}
	}
	return true
}

// Tail reads worker log lines from path. A missing file is not an error; it
// reports no lines at offset zero so a follower can pick the file up once
// the worker creates it.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	result := TailResult{Offset: opts.Offset}

	filter, err := opts.Filter.compile()
	if err != nil {
		return result, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Offset = 0
			return result, nil
		}
		return result, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return result, fmt.Errorf("log path %q is a directory", path)
	}

	if opts.Wait < 0 {
		opts.Wait = 0
	}

	if opts.Offset < 0 {
		lines, offset, err := tailLast(path, opts.Limit, filter)
		if err != nil {
			return result, err
		}
		result.Lines = lines
		result.Offset = offset
		if opts.Follow && opts.Wait > 0 && len(lines) == 0 {
			return awaitLines(ctx, path, result.Offset, opts.Wait, filter)
		}
		return result, nil
	}

	offset := opts.Offset
	if offset > info.Size() {
		offset = info.Size()
	}
	lines, newOffset, err := scanFrom(path, offset, filter)
	if err != nil {
		return result, err
	}
	result.Lines = lines
	result.Offset = newOffset

	if opts.Follow && opts.Wait > 0 && len(lines) == 0 {
		return awaitLines(ctx, path, newOffset, opts.Wait, filter)
	}
	return result, nil
}

// tailLast returns the last limit matching lines and the end-of-file offset
// follow calls resume from.
func tailLast(path string, limit int, filter lineFilter) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		size, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("seek log file: %w", err)
		}
		return nil, size, nil
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	ring := make([]string, limit)
	count := 0
	idx := 0
	for scanner.Scan() {
		line := scanner.Text()
		if !filter.keep(line) {
			continue
		}
		ring[idx] = line
		idx = (idx + 1) % limit
		if count < limit {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	lines := make([]string, count)
	if count == limit {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, offset, nil
}

// scanFrom reads every matching line from offset to the current end of
// file and returns the new offset.
func scanFrom(path string, offset int64, filter lineFilter) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if filter.keep(line) {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}

	newOffset, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, fmt.Errorf("determine log offset: %w", err)
	}
	return lines, newOffset, nil
}

// awaitLines polls for matching lines past offset until one arrives or the
// wait elapses. Filtered-out lines still advance the offset, so a quiet
// component never causes the same lines to be rescanned.
func awaitLines(ctx context.Context, path string, offset int64, wait time.Duration, filter lineFilter) (TailResult, error) {
	deadline := time.Now().Add(wait)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	result := TailResult{Offset: offset}
	for {
		lines, newOffset, err := scanFrom(path, result.Offset, filter)
		if err != nil {
			return result, err
		}
		result.Offset = newOffset
		if len(lines) > 0 {
			result.Lines = lines
			return result, nil
		}
		if time.Now().After(deadline) {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}
