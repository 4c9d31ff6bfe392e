// Package transcribe turns a video's audio track into a word-level
// transcript via a whisper CLI, then optionally runs one model correction
// pass over the text. Correction replaces word text only; the recognizer's
// timestamps are never touched.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"shelfscan/internal/logging"
	"shelfscan/internal/services"
)

// Word is one recognized word with its timing and confidence.
type Word struct {
	Text       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"score"`
}

// Transcript is the full word-level output for one audio track.
type Transcript struct {
	Words    []Word
	Language string
}

// Text joins the words into a plain transcript string.
func (t *Transcript) Text() string {
	parts := make([]string, 0, len(t.Words))
	for _, word := range t.Words {
		if text := strings.TrimSpace(word.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// Slice returns the words whose midpoint falls inside [from, to).
func (t *Transcript) Slice(from, to float64) []Word {
	var out []Word
	for _, word := range t.Words {
		mid := (word.Start + word.End) / 2
		if mid >= from && mid < to {
			out = append(out, word)
		}
	}
	return out
}

// Transcriber runs the whisper CLI against extracted audio files.
type Transcriber struct {
	binary string
	model  string
	logger *slog.Logger

	run func(ctx context.Context, name string, args ...string) error
}

// NewTranscriber constructs a transcriber using the given whisper binary
// and model name.
func NewTranscriber(binary, model string, logger *slog.Logger) *Transcriber {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "whisperx"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	t := &Transcriber{
		binary: binary,
		model:  strings.TrimSpace(model),
		logger: logging.NewComponentLogger(logger, "transcribe"),
	}
	t.run = t.runCommand
	return t
}

// Transcribe runs speech-to-text over the audio file, boosting the given
// keywords (brand and product names recognized earlier in the pipeline),
// and parses the word-level JSON the CLI writes into outputDir.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string, keywords []string, outputDir string) (*Transcript, error) {
	audioPath = strings.TrimSpace(audioPath)
	if audioPath == "" {
		return nil, services.Wrap(services.ErrValidation, "transcribe", "run", "empty audio path", nil)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrTransient, "transcribe", "run", "create output dir", err)
	}

	args := []string{
		audioPath,
		"--output_dir", outputDir,
		"--output_format", "json",
	}
	if t.model != "" {
		args = append(args, "--model", t.model)
	}
	if boost := boostList(keywords); boost != "" {
		args = append(args, "--hotwords", boost)
	}

	if err := t.run(ctx, t.binary, args...); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "transcribe", "run", "speech-to-text failed", err)
	}

	jsonPath := filepath.Join(outputDir, baseName(audioPath)+".json")
	transcript, err := loadWhisperJSON(jsonPath)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "transcribe", "parse", jsonPath, err)
	}
	t.logger.Debug("transcription complete",
		logging.Int("words", len(transcript.Words)),
		logging.String("language", transcript.Language))
	return transcript, nil
}

// boostList joins deduplicated keywords into the CLI's hotword string.
func boostList(keywords []string) string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		lower := strings.ToLower(keyword)
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, keyword)
	}
	return strings.Join(out, ", ")
}

type whisperWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Score float64 `json:"score"`
}

type whisperSegment struct {
	Text  string        `json:"text"`
	Start float64       `json:"start"`
	End   float64       `json:"end"`
	Words []whisperWord `json:"words"`
}

type whisperPayload struct {
	Segments []whisperSegment `json:"segments"`
	Language string           `json:"language"`
}

func loadWhisperJSON(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var payload whisperPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse whisper json: %w", err)
	}

	transcript := &Transcript{Language: payload.Language}
	for _, segment := range payload.Segments {
		for _, word := range segment.Words {
			text := strings.TrimSpace(word.Word)
			if text == "" {
				continue
			}
			transcript.Words = append(transcript.Words, Word{
				Text:       text,
				Start:      word.Start,
				End:        word.End,
				Confidence: word.Score,
			})
		}
	}
	return transcript, nil
}

func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (t *Transcriber) runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("%s: %w: %s", name, err, detail)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
