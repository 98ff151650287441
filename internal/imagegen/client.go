// Package imagegen turns a text prompt into a batch of images through the
// Hugging Face Inference API and runs the worker that serves the image
// job queue.
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/sidekick/internal/httpkit"
)

// maxImageBytes caps a single response body.
const maxImageBytes = 32 << 20

// Image is one generated image as returned by the provider.
type Image struct {
	Data        []byte
	ContentType string
}

// GenerationError is a provider response that did not carry an image:
// a non-200 status, or a 200 with a non-image body (the model loading
// notice, for example).
type GenerationError struct {
	StatusCode  int
	ContentType string
	Body        string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("image generation failed: status=%d ctype=%s text=%s", e.StatusCode, e.ContentType, e.Body)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	APIKey   string
	ModelURL string
	// Timeout bounds each request. Defaults to 60s.
	Timeout time.Duration
}

// Client calls a text-to-image inference endpoint.
type Client struct {
	modelURL   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an inference client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	// A cold model can take most of the timeout before answering.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = timeout

	return &Client{
		modelURL: cfg.ModelURL,
		logger:   logger.With("provider", "huggingface"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithTransport(t),
			httpkit.WithHeader("Authorization", "Bearer "+cfg.APIKey),
		),
	}
}

type inferenceRequest struct {
	Inputs     string              `json:"inputs"`
	Options    inferenceOptions    `json:"options"`
	Parameters inferenceParameters `json:"parameters"`
}

type inferenceOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

type inferenceParameters struct {
	Seed int `json:"seed"`
}

// Generate requests one image for prompt with the given seed.
func (c *Client) Generate(ctx context.Context, prompt string, seed int) (*Image, error) {
	body, err := json.Marshal(inferenceRequest{
		Inputs:     prompt,
		Options:    inferenceOptions{WaitForModel: true},
		Parameters: inferenceParameters{Seed: seed},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.modelURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	ctype := resp.Header.Get("Content-Type")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(ctype, "image/") {
		return nil, &GenerationError{
			StatusCode:  resp.StatusCode,
			ContentType: ctype,
			Body:        httpkit.ReadErrorBody(resp.Body, 2048),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	c.logger.Debug("image received",
		"seed", seed,
		"bytes", len(data),
		"content_type", ctype,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return &Image{Data: data, ContentType: ctype}, nil
}
