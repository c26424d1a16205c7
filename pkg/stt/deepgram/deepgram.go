// Package deepgram implements stt.SpeechToText against Deepgram's
// pre-recorded audio API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/logger"
	"github.com/papercomputeco/chronicle/pkg/stt"
)

const (
	// DefaultBaseURL is Deepgram's public API.
	DefaultBaseURL = "https://api.deepgram.com"

	// DefaultModel is the recognition model requested when none is set.
	DefaultModel = "nova-3"

	defaultTimeout = 5 * time.Minute
)

// Config holds configuration for the Deepgram client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	// Timeout bounds a single transcription request.
	Timeout time.Duration

	Logger *slog.Logger
}

// Client transcribes audio through Deepgram.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates c and returns a client.
func NewClient(c Config) (*Client, error) {
	if c.APIKey == "" {
		return nil, errors.New("deepgram API key is required (set DEEPGRAM_API_KEY)")
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	return &Client{
		apiKey:     c.APIKey,
		baseURL:    strings.TrimRight(c.BaseURL, "/"),
		model:      c.Model,
		timeout:    c.Timeout,
		httpClient: &http.Client{},
		logger:     c.Logger,
	}, nil
}

type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word           string  `json:"word"`
					PunctuatedWord string  `json:"punctuated_word"`
					Start          float64 `json:"start"`
					End            float64 `json:"end"`
					Confidence     float64 `json:"confidence"`
					Speaker        *int    `json:"speaker"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
		Utterances []struct {
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			Transcript string  `json:"transcript"`
			Speaker    *int    `json:"speaker"`
		} `json:"utterances"`
	} `json:"results"`
}

type errorResponse struct {
	ErrCode string `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

// Transcribe posts the audio with diarization and utterances enabled.
func (c *Client) Transcribe(ctx context.Context, audio stt.Audio) (*stt.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("model", c.model)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	q.Set("diarize", "true")
	q.Set("utterances", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/listen?"+q.Encode(), audio.Reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	contentType := audio.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %v", stt.ErrProviderTimeout, err)
		}
		return nil, fmt.Errorf("deepgram request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %v", stt.ErrProviderTimeout, err)
		}
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body)
	}

	var parsed listenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := toResult(&parsed)
	c.logger.Debug("deepgram transcription finished",
		"filename", audio.Filename,
		"words", len(result.Words),
		"segments", len(result.Segments),
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
	return result, nil
}

func statusError(status int, body []byte) error {
	var e errorResponse
	_ = json.Unmarshal(body, &e)
	msg := e.ErrMsg
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", stt.ErrProviderRateLimited, msg)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", stt.ErrProviderTimeout, status)
	case status == http.StatusBadRequest || status == http.StatusUnsupportedMediaType:
		return fmt.Errorf("%w: %s", stt.ErrUnsupportedAudio, msg)
	}
	return fmt.Errorf("deepgram API error (status %d): %s", status, msg)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func speakerID(s *int) string {
	if s == nil {
		return ""
	}
	return strconv.Itoa(*s)
}

func toResult(r *listenResponse) *stt.Result {
	result := &stt.Result{}
	if len(r.Results.Channels) == 0 || len(r.Results.Channels[0].Alternatives) == 0 {
		return result
	}
	alt := r.Results.Channels[0].Alternatives[0]
	result.Text = alt.Transcript

	for _, w := range alt.Words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		result.Words = append(result.Words, stt.Word{
			Text:       text,
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Confidence,
			Speaker:    speakerID(w.Speaker),
		})
	}
	result.Confidence = stt.AverageConfidence(result.Words)

	for _, u := range r.Results.Utterances {
		result.Segments = append(result.Segments, conversation.Segment{
			SpeakerID: speakerID(u.Speaker),
			StartTime: u.Start,
			EndTime:   u.End,
			Text:      u.Transcript,
		})
	}
	if len(result.Segments) == 0 {
		result.Segments = segmentsFromWords(result.Words)
	}
	return result
}

// segmentsFromWords groups consecutive words of the same speaker.
func segmentsFromWords(words []stt.Word) []conversation.Segment {
	var segments []conversation.Segment
	var parts []string
	for i, w := range words {
		if i == 0 || w.Speaker != words[i-1].Speaker {
			if len(parts) > 0 {
				segments[len(segments)-1].Text = strings.Join(parts, " ")
				parts = parts[:0]
			}
			segments = append(segments, conversation.Segment{
				SpeakerID: w.Speaker,
				StartTime: w.Start,
			})
		}
		segments[len(segments)-1].EndTime = w.End
		parts = append(parts, w.Text)
	}
	if len(parts) > 0 {
		segments[len(segments)-1].Text = strings.Join(parts, " ")
	}
	return segments
}

var _ stt.SpeechToText = (*Client)(nil)
