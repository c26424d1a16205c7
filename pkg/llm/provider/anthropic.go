package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/papercomputeco/chronicle/pkg/llm"
)

func newAnthropicCaller(apiKey, model, baseURL string) llm.CallFunc {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)

	return func(ctx context.Context, req llm.Request) (string, error) {
		prompt := req.Prompt
		if req.JSON {
			prompt += "\n\nReturn ONLY valid JSON, no markdown or extra text."
		}
		maxTokens := int64(req.MaxTokens)
		if maxTokens <= 0 {
			maxTokens = defaultMaxTokens
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		}
		if req.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.System}}
		}
		if req.Temperature != nil {
			params.Temperature = anthropic.Float(*req.Temperature)
		}

		resp, err := client.Messages.New(ctx, params)
		if err != nil {
			var apiErr *anthropic.Error
			if errors.As(err, &apiErr) {
				return "", statusError(Anthropic, apiErr.StatusCode, apiErr.RawJSON())
			}
			return "", err
		}

		var text strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		if text.Len() == 0 {
			return "", errors.New("anthropic returned no content")
		}
		return text.String(), nil
	}
}
