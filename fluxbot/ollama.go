package fluxbot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrGenerationTimeout indicates the generation backend didn't answer
// within the configured timeout. The remote may still complete the work;
// the call is simply abandoned locally.
var ErrGenerationTimeout = errors.New("generation request timed out")

// Generator produces a completion for an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// sampling parameters are fixed configuration constants, not exposed to
// callers
const (
	ollamaTemperature = 0.7
	ollamaTopP        = 0.9
	ollamaMaxTokens   = 500
)

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// OllamaClient is a thin client for the Ollama generate API.
type OllamaClient struct {
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient builds a client from config. The HTTP client is
// long-lived and shared; its connection pool is released by the bot's
// shutdown path, not by this client.
func NewOllamaClient(
	config *OllamaConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) *OllamaClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL:    fmt.Sprintf("http://%s:%d", config.Host, config.Port),
		model:      config.Model,
		timeout:    config.Timeout,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Generate implements Generator. It returns ErrGenerationTimeout (wrapped)
// when the deadline is exceeded, so callers can distinguish a slow backend
// from a broken one.
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(
		generateRequest{
			Model:  c.model,
			Prompt: prompt,
			Stream: false,
			Options: generateOptions{
				Temperature: ollamaTemperature,
				TopP:        ollamaTopP,
				MaxTokens:   ollamaMaxTokens,
			},
		},
	)
	if err != nil {
		return "", fmt.Errorf("error encoding generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/api/generate",
		bytes.NewReader(body),
	)
	if err != nil {
		return "", fmt.Errorf("error creating generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf(
				"%w after %s", ErrGenerationTimeout, time.Since(started),
			)
		}
		return "", fmt.Errorf("generate request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation backend returned status %d", resp.StatusCode)
	}

	var payload generateResponse
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("error decoding generate response: %w", err)
	}

	c.logger.DebugContext(
		ctx,
		"generation complete",
		"elapsed", time.Since(started),
		"response_len", len(payload.Response),
	)
	return strings.TrimSpace(payload.Response), nil
}
