package sentiment

import (
	"fmt"
	"strings"

	"shelfscan/internal/jobstore"
)

const sentimentSystemPrompt = `You judge how a speaker talks about specific products in a video transcript excerpt.
The excerpt has three spans: words spoken shortly before the product appeared on screen, words spoken while it was visible, and words spoken shortly after.
For each listed product, give an overall sentiment class (positive, negative, neutral, or mixed), a score from -1 (very negative) to 1 (very positive), and zero or more supporting quotes from the excerpt, each with its own class and score.
Only use the product ids from the list. Respond with JSON only:
{"products": [{"product_id": "...", "sentiment": "...", "score": 0.0, "quotes": [{"text": "...", "sentiment": "...", "score": 0.0}]}]}`

func sentimentUserPrompt(spans Spans, products []jobstore.Product) string {
	var b strings.Builder
	b.WriteString("Products on screen:\n")
	for _, product := range products {
		fmt.Fprintf(&b, "- id=%s name=%s\n", product.ID, product.Name)
	}
	b.WriteString("\nBefore: ")
	b.WriteString(orNone(spans.PreText()))
	b.WriteString("\nDuring: ")
	b.WriteString(orNone(spans.InText()))
	b.WriteString("\nAfter: ")
	b.WriteString(orNone(spans.PostText()))
	b.WriteString("\n")
	return b.String()
}

func orNone(text string) string {
	if text == "" {
		return "(silence)"
	}
	return text
}
