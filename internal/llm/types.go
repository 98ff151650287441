// Package llm provides the streaming chat-completion client used by the
// chat and search modes.
package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles understood by the completion API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System returns a system message with the given content.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// Request is a single streamed completion request.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Response is the accumulated result of a streamed completion. Content
// is the raw concatenation of every usable chunk; callers clean it for
// display.
type Response struct {
	Model   string
	Content string

	// Token usage, when the provider reports it on the final chunk.
	InputTokens  int
	OutputTokens int

	// Chunks counts data events that contributed content. Skipped counts
	// events that were malformed or carried no content.
	Chunks  int
	Skipped int

	Duration time.Duration
}

// StreamCallback receives each content fragment as it arrives.
type StreamCallback func(token string)
