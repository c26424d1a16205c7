package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/papercomputeco/chronicle/pkg/llm"
)

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   string              `json:"format,omitempty"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

func newOllamaCaller(model, baseURL string) llm.CallFunc {
	return func(ctx context.Context, req llm.Request) (string, error) {
		reqBody := ollamaChatRequest{
			Model:  model,
			Stream: false,
		}
		if req.System != "" {
			reqBody.Messages = append(reqBody.Messages, ollamaChatMessage{Role: "system", Content: req.System})
		}
		reqBody.Messages = append(reqBody.Messages, ollamaChatMessage{Role: "user", Content: req.Prompt})
		if req.JSON {
			reqBody.Format = "json"
		}
		if req.Temperature != nil || req.MaxTokens > 0 {
			reqBody.Options = map[string]any{}
			if req.Temperature != nil {
				reqBody.Options["temperature"] = *req.Temperature
			}
			if req.MaxTokens > 0 {
				reqBody.Options["num_predict"] = req.MaxTokens
			}
		}

		data, err := json.Marshal(reqBody)
		if err != nil {
			return "", fmt.Errorf("marshal request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/chat", bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(httpReq)
		if err != nil {
			return "", fmt.Errorf("ollama request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return "", statusError(Ollama, resp.StatusCode, string(body))
		}

		var result ollamaChatResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return "", fmt.Errorf("unmarshal response: %w", err)
		}
		if result.Error != "" {
			return "", fmt.Errorf("ollama error: %s", result.Error)
		}

		return result.Message.Content, nil
	}
}
