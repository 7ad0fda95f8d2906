package gemini

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const maxPromptChars = 6000

type Client struct {
	client   *genai.Client
	model    string
	maxChars int
}

func NewClient(ctx context.Context, apiKey, model string, maxChars int) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Client{client: client, model: model, maxChars: maxChars}, nil
}

func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// Summarize asks the model for a short factual alert summary.
func (c *Client) Summarize(ctx context.Context, title, text string) (string, error) {
	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(0.2)

	resp, err := model.GenerateContent(ctx, genai.Text(buildPrompt(title, text, c.maxChars)))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response from Gemini")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	out := cleanResponse(b.String())
	if out == "" {
		return "", fmt.Errorf("empty response from Gemini")
	}
	return out, nil
}

func buildPrompt(title, text string, maxChars int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) > maxPromptChars {
		text = string([]rune(text)[:maxPromptChars])
	}
	return fmt.Sprintf(`Summarize this news report for a security and crisis alert channel.

Headline: %s
Report: %s

Rules:
- At most %d characters, two sentences.
- State what happened, where, and the reported casualties or damage.
- Plain text only. No preamble, no markdown, no speculation.
`, title, text, maxChars)
}

// cleanResponse strips labels and markdown the model sometimes adds.
func cleanResponse(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"Summary:", "SUMMARY:", "**Summary:**"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
	}
	s = strings.ReplaceAll(s, "**", "")
	return strings.Join(strings.Fields(s), " ")
}
