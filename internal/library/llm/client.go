// Package llm calls an OpenAI compatible Responses API gateway.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"

	"github.com/Laisky/codepatch/library/config"
)

const (
	defaultAPIBase = "https://oneapi.laisky.com"
	defaultModel   = "openai/gpt-oss-120b"
)

// Settings configures the gateway client.
type Settings struct {
	APIBase         string
	APIKey          string
	Model           string
	Timeout         time.Duration
	MaxOutputTokens int
}

// LoadSettingsFromConfig reads settings.codepatch.llm.*.
func LoadSettingsFromConfig() Settings {
	return Settings{
		APIBase:         config.String("settings.codepatch.llm.base_url", defaultAPIBase),
		APIKey:          config.String("settings.codepatch.llm.api_key", ""),
		Model:           config.String("settings.codepatch.llm.model", defaultModel),
		Timeout:         time.Duration(config.Int("settings.codepatch.llm.timeout_ms", 120000)) * time.Millisecond,
		MaxOutputTokens: config.Int("settings.codepatch.llm.max_output_tokens", 32000),
	}
}

// Request describes one generation.
type Request struct {
	Instructions string
	Input        string
	// JSONOutput asks the model for a single JSON object.
	JSONOutput     bool
	PromptCacheKey string
	// Model overrides the configured model when set.
	Model string
}

// Completer produces text for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// StatusError is a non-2xx gateway answer.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return "responses endpoint status " + http.StatusText(e.StatusCode)
	}
	return "responses endpoint status " + http.StatusText(e.StatusCode) + ": " + e.Body
}

// Transient reports whether retrying later may succeed.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Client wraps Responses API calls.
type Client struct {
	settings   Settings
	httpClient *http.Client
}

var _ Completer = (*Client)(nil)

// NewClient creates a client with safe defaults. httpClient is optional.
func NewClient(settings Settings, httpClient *http.Client) *Client {
	settings.APIBase = strings.TrimRight(strings.TrimSpace(settings.APIBase), "/")
	if settings.APIBase == "" {
		settings.APIBase = defaultAPIBase
	}
	if strings.TrimSpace(settings.Model) == "" {
		settings.Model = defaultModel
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 2 * time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: settings.Timeout}
	}

	return &Client{settings: settings, httpClient: httpClient}
}

// Complete sends a Responses API request and returns the aggregated text output.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if c == nil {
		return "", errors.New("llm client is nil")
	}
	if strings.TrimSpace(c.settings.APIKey) == "" {
		return "", errors.New("missing api key")
	}
	if strings.TrimSpace(req.Input) == "" {
		return "", errors.New("missing input")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.settings.Model
	}

	payload := map[string]any{
		"model": model,
		"input": req.Input,
	}
	if strings.TrimSpace(req.Instructions) != "" {
		payload["instructions"] = req.Instructions
	}
	if strings.TrimSpace(req.PromptCacheKey) != "" {
		payload["prompt_cache_key"] = req.PromptCacheKey
	}
	if c.settings.MaxOutputTokens > 0 {
		payload["max_output_tokens"] = c.settings.MaxOutputTokens
	}
	if req.JSONOutput {
		payload["text"] = map[string]any{
			"format": map[string]any{"type": "json_object"},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "marshal responses request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.settings.APIBase+"/v1/responses", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build responses request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.settings.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", errors.Wrap(err, "call responses endpoint")
	}
	defer resp.Body.Close() // nolint: errcheck

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.WithStack(&StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		})
	}

	var decoded responsesCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", errors.Wrap(err, "decode responses response")
	}

	text := strings.TrimSpace(decoded.OutputText)
	if text != "" {
		return text, nil
	}

	text = strings.TrimSpace(decoded.AggregatedText())
	if text == "" {
		return "", errors.New("responses output text is empty")
	}

	return text, nil
}

type responsesCreateResponse struct {
	OutputText string                `json:"output_text"`
	Output     []responsesOutputItem `json:"output"`
}

func (r responsesCreateResponse) AggregatedText() string {
	parts := make([]string, 0, len(r.Output))
	for _, item := range r.Output {
		for _, content := range item.Content {
			if strings.EqualFold(content.Type, "output_text") || strings.EqualFold(content.Type, "text") {
				if text := strings.TrimSpace(content.Text); text != "" {
					parts = append(parts, text)
				}
			}
		}
	}

	return strings.Join(parts, "\n")
}

type responsesOutputItem struct {
	Type    string                   `json:"type"`
	Content []responsesOutputContent `json:"content"`
}

type responsesOutputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
