package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/nugget/sidekick/internal/httpkit"
)

// GroqConfig configures a GroqClient.
type GroqConfig struct {
	APIKey  string
	BaseURL string // e.g. https://api.groq.com/openai/v1
}

// GroqClient streams chat completions from Groq's OpenAI-compatible API.
type GroqClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGroqClient creates a new completion client.
func NewGroqClient(cfg GroqConfig, logger *slog.Logger) *GroqClient {
	if logger == nil {
		logger = slog.Default()
	}
	// Large prompts can take a while before the first byte arrives.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 60 * time.Second

	return &GroqClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logger.With("provider", "groq"),
		httpClient: httpkit.NewClient(
			// No global timeout; streams are bounded by ctx.
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// buildBody marshals req as an OpenAI chat-completions request with
// streaming and usage reporting enabled.
func buildBody(req Request) ([]byte, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(req.Model),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(req.TopP)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "stream", true); err != nil {
		return nil, err
	}
	return sjson.SetBytes(body, "stream_options.include_usage", true)
}

// Stream sends req and accumulates the streamed answer.
func (c *GroqClient) Stream(ctx context.Context, req Request, callback StreamCallback) (*Response, error) {
	start := time.Now()

	c.logger.Debug("preparing request",
		"model", req.Model,
		"messages", len(req.Messages),
		"max_tokens", req.MaxTokens,
	)

	body, err := buildBody(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, parseAPIError(resp.StatusCode, errBody)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		content strings.Builder
		result  = &Response{Model: req.Model}
	)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		c.logger.Log(ctx, LevelTrace, "stream chunk", "data", data)

		// A provider error inside the stream aborts the request; it is
		// not a malformed chunk.
		if gjson.Get(data, "error").IsObject() {
			apiErr := parseAPIError(resp.StatusCode, data)
			c.logger.Error("API error in stream", "code", apiErr.Code, "message", apiErr.Message, "chunks", result.Chunks)
			return nil, apiErr
		}

		chunk := DecodeChunk([]byte(data))
		if chunk.Model != "" {
			result.Model = chunk.Model
		}
		if chunk.InputTokens > 0 || chunk.OutputTokens > 0 {
			result.InputTokens = chunk.InputTokens
			result.OutputTokens = chunk.OutputTokens
		}
		if !chunk.OK {
			result.Skipped++
			continue // Skip malformed or empty events
		}

		result.Chunks++
		content.WriteString(chunk.Content)
		if callback != nil {
			callback(chunk.Content)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	result.Content = content.String()
	result.Duration = time.Since(start)

	c.logger.Debug("stream complete",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"chunks", result.Chunks,
		"skipped", result.Skipped,
		"content_len", len(result.Content),
		"elapsed", result.Duration.Round(time.Millisecond),
	)
	c.logger.Log(ctx, LevelTrace, "stream final content", "content", result.Content)

	return result, nil
}
