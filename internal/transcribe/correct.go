package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"shelfscan/internal/llm"
	"shelfscan/internal/logging"
	"shelfscan/internal/services"
)

const correctionSystemPrompt = `You fix speech-to-text errors in a word-level transcript from a product video.
You receive the raw words in order, plus the brand catalog and product names likely spoken in the video. Correct misheard brand and product names and obvious recognition mistakes. Do not reorder, merge, split, add, or remove words: return exactly one corrected word per input word, in the same order.
Respond with JSON only: {"words": ["word1", "word2", ...]}.`

// Corrector runs one model pass over a transcript's text.
type Corrector struct {
	model  llm.Completer
	logger *slog.Logger
}

// NewCorrector constructs a corrector. A nil logger disables logging.
func NewCorrector(model llm.Completer, logger *slog.Logger) *Corrector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Corrector{model: model, logger: logging.NewComponentLogger(logger, "transcribe")}
}

// Correct returns a transcript with corrected word text and the original
// word timings. When the model returns a word count that does not line up
// with the input, the original transcript is kept; a bad correction must
// never cost the timestamps.
func (c *Corrector) Correct(ctx context.Context, transcript *Transcript, brandCatalog, productNames []string) (*Transcript, llm.Usage, error) {
	if transcript == nil || len(transcript.Words) == 0 {
		return transcript, llm.Usage{}, nil
	}

	content, usage, err := c.model.CompleteJSON(ctx, correctionSystemPrompt, correctionUserPrompt(transcript, brandCatalog, productNames))
	if err != nil {
		return nil, usage, services.Wrap(services.ErrTransient, "transcribe", "correct", "model call", err)
	}

	var payload struct {
		Words []string `json:"words"`
	}
	if err := llm.DecodeJSON(content, &payload); err != nil {
		c.logger.Warn("unparsable correction response, keeping raw transcript", logging.Error(err))
		return transcript, usage, nil
	}
	if len(payload.Words) != len(transcript.Words) {
		c.logger.Warn("correction word count mismatch, keeping raw transcript",
			logging.Int("expected", len(transcript.Words)),
			logging.Int("got", len(payload.Words)))
		return transcript, usage, nil
	}

	corrected := &Transcript{
		Language: transcript.Language,
		Words:    make([]Word, len(transcript.Words)),
	}
	for i, word := range transcript.Words {
		text := strings.TrimSpace(payload.Words[i])
		if text == "" {
			text = word.Text
		}
		corrected.Words[i] = Word{
			Text:       text,
			Start:      word.Start,
			End:        word.End,
			Confidence: word.Confidence,
		}
	}
	return corrected, usage, nil
}

func correctionUserPrompt(transcript *Transcript, brandCatalog, productNames []string) string {
	var b strings.Builder
	b.WriteString("Raw words in order:\n")
	for i, word := range transcript.Words {
		fmt.Fprintf(&b, "%d: %s\n", i, word.Text)
	}
	if len(brandCatalog) > 0 {
		b.WriteString("\nBrand catalog:\n")
		for _, brand := range brandCatalog {
			fmt.Fprintf(&b, "- %s\n", brand)
		}
	}
	if len(productNames) > 0 {
		b.WriteString("\nRecognized product names:\n")
		for _, name := range productNames {
			fmt.Fprintf(&b, "- %s\n", name)
		}
	}
	return b.String()
}
