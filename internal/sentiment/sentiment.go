// Package sentiment scores how a video segment talks about the products
// it shows. It slices the word-level transcript into spans around the
// segment, resolves the shown products against the catalog, and only then
// pays for a model call: no transcript text or no resolved product means
// no call at all.
package sentiment

import (
	"context"
	"log/slog"
	"strings"

	"shelfscan/internal/llm"
	"shelfscan/internal/logging"
	"shelfscan/internal/services"
	"shelfscan/internal/transcribe"

	"shelfscan/internal/jobstore"
)

// Context window around a segment: speech shortly before a product appears
// and shortly after it leaves the frame still tends to be about it.
const (
	preRollSeconds  = 5.0
	postRollSeconds = 3.0
)

// Spans split a segment's transcript window into what was said before,
// during, and after the segment.
type Spans struct {
	Pre  []transcribe.Word
	In   []transcribe.Word
	Post []transcribe.Word
}

// InText returns the in-segment span as plain text.
func (s Spans) InText() string { return joinWords(s.In) }

// PreText returns the pre-roll span as plain text.
func (s Spans) PreText() string { return joinWords(s.Pre) }

// PostText returns the post-roll span as plain text.
func (s Spans) PostText() string { return joinWords(s.Post) }

// SliceSpans slices the transcript to [start-5s, end+3s] and splits it at
// the segment boundaries.
func SliceSpans(transcript *transcribe.Transcript, start, end float64) Spans {
	if transcript == nil {
		return Spans{}
	}
	from := start - preRollSeconds
	if from < 0 {
		from = 0
	}
	return Spans{
		Pre:  transcript.Slice(from, start),
		In:   transcript.Slice(start, end),
		Post: transcript.Slice(end, end+postRollSeconds),
	}
}

func joinWords(words []transcribe.Word) string {
	parts := make([]string, 0, len(words))
	for _, word := range words {
		if text := strings.TrimSpace(word.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// Assessment is the model's verdict for one resolved product.
type Assessment struct {
	ProductID string
	Sentiment string
	Score     float64
	Quotes    []jobstore.Quote
}

// Analyzer runs sentiment analysis over segment spans.
type Analyzer struct {
	model  llm.Completer
	logger *slog.Logger
}

// NewAnalyzer constructs an analyzer. A nil logger disables logging.
func NewAnalyzer(model llm.Completer, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Analyzer{model: model, logger: logging.NewComponentLogger(logger, "sentiment")}
}

// Analyze scores the spans against the resolved products. Empty in-segment
// text or an empty product list yields an empty result without invoking
// the model. A malformed model response also yields an empty result; it is
// a handled no-classification, not an error.
func (a *Analyzer) Analyze(ctx context.Context, spans Spans, products []jobstore.Product) ([]Assessment, llm.Usage, error) {
	var usage llm.Usage
	if len(products) == 0 || spans.InText() == "" {
		return nil, usage, nil
	}

	content, callUsage, err := a.model.CompleteJSON(ctx, sentimentSystemPrompt, sentimentUserPrompt(spans, products))
	usage.Add(callUsage)
	if err != nil {
		return nil, usage, services.Wrap(services.ErrTransient, "sentiment", "analyze", "model call", err)
	}

	var payload struct {
		Products []struct {
			ProductID string  `json:"product_id"`
			Sentiment string  `json:"sentiment"`
			Score     float64 `json:"score"`
			Quotes    []struct {
				Text      string  `json:"text"`
				Sentiment string  `json:"sentiment"`
				Score     float64 `json:"score"`
			} `json:"quotes"`
		} `json:"products"`
	}
	if err := llm.DecodeJSON(content, &payload); err != nil {
		a.logger.Warn("unparsable sentiment response", logging.Error(err))
		return nil, usage, nil
	}

	known := make(map[string]bool, len(products))
	for _, product := range products {
		known[product.ID] = true
	}

	var assessments []Assessment
	for _, entry := range payload.Products {
		if !known[entry.ProductID] {
			continue
		}
		assessment := Assessment{
			ProductID: entry.ProductID,
			Sentiment: normalizeClass(entry.Sentiment),
			Score:     clampScore(entry.Score),
		}
		for _, quote := range entry.Quotes {
			text := strings.TrimSpace(quote.Text)
			if text == "" {
				continue
			}
			assessment.Quotes = append(assessment.Quotes, jobstore.Quote{
				Text:      text,
				Sentiment: normalizeClass(quote.Sentiment),
				Score:     clampScore(quote.Score),
			})
		}
		assessments = append(assessments, assessment)
	}
	return assessments, usage, nil
}

func normalizeClass(class string) string {
	switch strings.ToLower(strings.TrimSpace(class)) {
	case "positive":
		return "positive"
	case "negative":
		return "negative"
	case "mixed":
		return "mixed"
	default:
		return "neutral"
	}
}

func clampScore(score float64) float64 {
	if score > 1 {
		return 1
	}
	if score < -1 {
		return -1
	}
	return score
}
