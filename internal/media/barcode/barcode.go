// Package barcode decodes product barcodes from extracted frames using the
// zbarimg binary. Scanning stops at the first decodable frame so a clean
// barcode early in a segment keeps the rest of the frames unscanned.
package barcode

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// zbarimg exits 4 when it scanned the image fine but found no symbol.
const zbarNoSymbolExit = 4

// Hit is one decoded barcode.
type Hit struct {
	// Symbology is the barcode type as reported by the scanner, such as
	// "EAN-13" or "UPC-A".
	Symbology string
	// Value is the decoded payload, typically a GTIN.
	Value string
	// FrameIndex is the position of the decoded frame within the scanned
	// list.
	FrameIndex int
}

// Scanner decodes barcodes from image files.
type Scanner struct {
	binary string
	decode func(ctx context.Context, path string) (string, string, error)
}

// NewScanner returns a scanner using the given zbarimg binary; empty falls
// back to "zbarimg" on PATH.
func NewScanner(binary string) *Scanner {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "zbarimg"
	}
	s := &Scanner{binary: binary}
	s.decode = s.decodeFile
	return s
}

// ScanFirst scans frames in order and returns the first decoded barcode,
// or nil when no frame decodes. The returned count is how many frames were
// actually scanned.
func (s *Scanner) ScanFirst(ctx context.Context, framePaths []string) (*Hit, int, error) {
	for i, path := range framePaths {
		symbology, value, err := s.decode(ctx, path)
		if err != nil {
			return nil, i + 1, err
		}
		if value != "" {
			return &Hit{Symbology: symbology, Value: value, FrameIndex: i}, i + 1, nil
		}
	}
	return nil, len(framePaths), nil
}

// decodeFile runs zbarimg on one image. No symbol is not an error; the
// caller moves on to the next frame.
func (s *Scanner) decodeFile(ctx context.Context, path string) (string, string, error) {
	cmd := exec.CommandContext(ctx, s.binary, "--quiet", "--raw=false", "--", path)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == zbarNoSymbolExit {
			return "", "", nil
		}
		return "", "", fmt.Errorf("barcode scan %s: %w", path, err)
	}
	symbology, value := parseZbarOutput(string(output))
	return symbology, value, nil
}

// parseZbarOutput picks the first "SYMBOLOGY:value" line out of zbarimg
// stdout.
func parseZbarOutput(output string) (string, string) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		symbology, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		symbology = strings.TrimSpace(symbology)
		value = strings.TrimSpace(value)
		if symbology != "" && value != "" {
			return symbology, value
		}
	}
	return "", ""
}
