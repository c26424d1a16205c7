// Package provider builds llm.CallFunc values for OpenAI, Anthropic and
// Ollama, mapping provider failures onto the llm error sentinels.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/papercomputeco/chronicle/pkg/llm"
	"github.com/papercomputeco/chronicle/pkg/logger"
)

const (
	OpenAI    = "openai"
	Anthropic = "anthropic"
	Ollama    = "ollama"

	defaultTimeout   = 30 * time.Second
	defaultMaxTokens = 1024
)

// Config holds configuration for creating a model caller.
type Config struct {
	Provider string // "openai", "anthropic", or "ollama"
	Model    string // e.g. "gpt-4o-mini", "claude-haiku-4-5-20251001"
	APIKey   string // explicit API key (highest priority)
	BaseURL  string // override base URL

	// Timeout bounds each call. Defaults to 30s.
	Timeout time.Duration

	Logger *slog.Logger
}

// Supported returns the provider names NewCallFunc accepts.
func Supported() []string {
	return []string{OpenAI, Anthropic, Ollama}
}

// HasCredentials reports whether an API key can be resolved for c without
// creating a caller.
func HasCredentials(c Config) bool {
	if strings.ToLower(c.Provider) == Ollama {
		return true
	}
	return c.APIKey != "" || apiKeyFromEnv(strings.ToLower(c.Provider)) != ""
}

// NewCallFunc creates a caller for c. The API key comes from the config,
// then from OPENAI_API_KEY / ANTHROPIC_API_KEY.
func NewCallFunc(c Config) (llm.CallFunc, error) {
	name := strings.ToLower(c.Provider)
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	apiKey := c.APIKey
	if apiKey == "" {
		apiKey = apiKeyFromEnv(name)
	}

	var call llm.CallFunc
	switch name {
	case OpenAI, "":
		if apiKey == "" {
			return nil, errors.New("openai API key is required (set OPENAI_API_KEY)")
		}
		model := c.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		call = newOpenAICaller(apiKey, model, c.BaseURL)

	case Anthropic:
		if apiKey == "" {
			return nil, errors.New("anthropic API key is required (set ANTHROPIC_API_KEY)")
		}
		model := c.Model
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		call = newAnthropicCaller(apiKey, model, c.BaseURL)

	case Ollama:
		model := c.Model
		if model == "" {
			model = "llama3.2"
		}
		baseURL := c.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		call = newOllamaCaller(model, strings.TrimRight(baseURL, "/"))

	default:
		return nil, fmt.Errorf("unsupported provider: %s", c.Provider)
	}

	return withTimeout(call, c.Timeout, name, c.Logger), nil
}

func apiKeyFromEnv(provider string) string {
	switch provider {
	case Anthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case OpenAI, "":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

// withTimeout bounds every call and turns deadline and transport failures
// into llm sentinels.
func withTimeout(call llm.CallFunc, timeout time.Duration, name string, log *slog.Logger) llm.CallFunc {
	return func(ctx context.Context, req llm.Request) (string, error) {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		reply, err := call(cctx, req)
		if err != nil {
			err = transportError(cctx, name, err)
			log.Debug("model call failed", "provider", name, "error", err)
			return "", err
		}
		log.Debug("model call finished",
			"provider", name,
			"duration", time.Since(start).Round(time.Millisecond).String(),
		)
		return reply, nil
	}
}

func transportError(ctx context.Context, name string, err error) error {
	switch {
	case errors.Is(err, llm.ErrProviderTimeout),
		errors.Is(err, llm.ErrProviderRateLimited),
		errors.Is(err, llm.ErrProviderUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %v", llm.ErrProviderTimeout, name, err)
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %s: %v", llm.ErrProviderTimeout, name, err)
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return fmt.Errorf("%w: %s: %v", llm.ErrProviderUnavailable, name, err)
	}
	return err
}

// statusError maps an HTTP status to an llm sentinel where one applies.
func statusError(name string, status int, detail string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s: %s", llm.ErrProviderRateLimited, name, detail)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s: status %d", llm.ErrProviderTimeout, name, status)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s API error (status %d): %s", llm.ErrProviderUnavailable, name, status, detail)
	}
	return fmt.Errorf("%s API error (status %d): %s", name, status, detail)
}
