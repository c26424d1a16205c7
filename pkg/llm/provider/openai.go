package provider

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/papercomputeco/chronicle/pkg/llm"
)

func newOpenAICaller(apiKey, model, baseURL string) llm.CallFunc {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	return func(ctx context.Context, req llm.Request) (string, error) {
		messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
		if req.System != "" {
			messages = append(messages, openai.SystemMessage(req.System))
		}
		messages = append(messages, openai.UserMessage(req.Prompt))

		params := openai.ChatCompletionNewParams{
			Model:    model,
			Messages: messages,
		}
		if req.JSON {
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			}
		}
		if req.Temperature != nil {
			params.Temperature = openai.Float(*req.Temperature)
		}
		if req.MaxTokens > 0 {
			params.MaxTokens = openai.Int(int64(req.MaxTokens))
		}

		resp, err := client.Chat.Completions.New(ctx, params)
		if err != nil {
			var apiErr *openai.Error
			if errors.As(err, &apiErr) {
				return "", statusError(OpenAI, apiErr.StatusCode, apiErr.Message)
			}
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("openai returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	}
}
