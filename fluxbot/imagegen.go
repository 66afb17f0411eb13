package fluxbot

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const defaultNegativePrompt = "blurry, bad quality, watermark"

type imageRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Seed           int64   `json:"seed"`
}

type imageResponse struct {
	Success bool   `json:"success"`
	Image   string `json:"image"`
	Seed    int64  `json:"seed"`
	Prompt  string `json:"prompt"`
	Error   string `json:"error"`
}

// GeneratedImage is a decoded render from the image backend.
type GeneratedImage struct {
	Data   []byte
	Seed   int64
	Prompt string
}

// ImageClient talks to the image-generation server. The rendering
// algorithm is entirely the remote's concern; this just moves bytes.
type ImageClient struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

func NewImageClient(
	config *ImageConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) *ImageClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageClient{
		baseURL:    config.BaseURL,
		timeout:    config.Timeout,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Healthy reports whether the image server answers its health probe.
func (c *ImageClient) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.baseURL+"/health", nil,
	)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false
	}
	return payload.Status == "healthy"
}

// Generate renders an image for the given prompt. A seed of -1 asks the
// backend to pick one.
func (c *ImageClient) Generate(
	ctx context.Context,
	prompt string,
	negativePrompt string,
	seed int64,
) (*GeneratedImage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if negativePrompt == "" {
		negativePrompt = defaultNegativePrompt
	}

	body, err := json.Marshal(
		imageRequest{
			Prompt:         prompt,
			NegativePrompt: negativePrompt,
			Width:          DefaultImageWidth,
			Height:         DefaultImageHeight,
			Steps:          DefaultImageSteps,
			GuidanceScale:  0,
			Seed:           seed,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error encoding image request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/generate",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image backend returned status %d", resp.StatusCode)
	}

	var payload imageResponse
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("error decoding image response: %w", err)
	}
	if !payload.Success {
		return nil, fmt.Errorf("image generation failed: %s", payload.Error)
	}

	data, err := base64.StdEncoding.DecodeString(payload.Image)
	if err != nil {
		return nil, fmt.Errorf("error decoding image data: %w", err)
	}

	c.logger.InfoContext(
		ctx,
		"image generated",
		"elapsed", time.Since(started),
		"bytes", len(data),
		"seed", payload.Seed,
	)
	return &GeneratedImage{
		Data:   data,
		Seed:   payload.Seed,
		Prompt: payload.Prompt,
	}, nil
}
