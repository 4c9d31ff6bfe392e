package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
)

// VisionCompleter is the contract for completions that carry images
// alongside the text prompt.
type VisionCompleter interface {
	CompleteVisionJSON(ctx context.Context, systemPrompt, userPrompt string, images [][]byte) (string, Usage, error)
}

type visionChatRequest struct {
	Model          string              `json:"model"`
	Messages       []visionChatMessage `json:"messages"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat map[string]string   `json:"response_format"`
}

type visionChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	ImageURL *contentImageURL `json:"image_url,omitempty"`
}

type contentImageURL struct {
	URL string `json:"url"`
}

// CompleteVisionJSON issues a JSON-only chat completion with JPEG images
// attached to the user message, returning the raw JSON payload and token
// usage.
func (c *Client) CompleteVisionJSON(ctx context.Context, systemPrompt, userPrompt string, images [][]byte) (string, Usage, error) {
	systemPrompt = strings.TrimSpace(systemPrompt)
	userPrompt = strings.TrimSpace(userPrompt)
	if systemPrompt == "" {
		return "", Usage{}, errors.New("llm vision: system prompt required")
	}
	if userPrompt == "" {
		return "", Usage{}, errors.New("llm vision: user prompt required")
	}
	if len(images) == 0 {
		return "", Usage{}, errors.New("llm vision: at least one image required")
	}
	if c.cfg.APIKey == "" {
		return "", Usage{}, errors.New("llm vision: api key required")
	}

	parts := make([]contentPart, 0, len(images)+1)
	parts = append(parts, contentPart{Type: "text", Text: userPrompt})
	for _, image := range images {
		if len(image) == 0 {
			return "", Usage{}, errors.New("llm vision: empty image payload")
		}
		parts = append(parts, contentPart{
			Type: "image_url",
			ImageURL: &contentImageURL{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image),
			},
		})
	}

	payload := visionChatRequest{
		Model: c.cfg.Model,
		Messages: []visionChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: parts},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}

	var content string
	var usage Usage
	err := c.policy.Do(ctx, "llm vision", func(ctx context.Context) error {
		completion, err := c.sendChatRequestOnce(ctx, payload)
		if err != nil {
			return err
		}
		extracted := extractCompletionContent(completion)
		if extracted == "" {
			return errors.New("llm vision: empty content")
		}
		content = extracted
		usage = completion.Usage
		return nil
	})
	if err != nil {
		return "", Usage{}, err
	}
	return content, usage, nil
}
