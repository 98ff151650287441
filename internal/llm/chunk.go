package llm

import (
	"encoding/json"

	"github.com/openai/openai-go/v3"
)

// Chunk is the decoded form of one streamed data event. OK is false when
// the event was malformed or carried no content; such chunks are skipped
// without failing the stream.
type Chunk struct {
	Content string
	OK      bool

	// Usage is set when the event carried token counts (usually the
	// last event before [DONE]).
	InputTokens  int
	OutputTokens int
	Model        string
}

// DecodeChunk parses a single SSE data payload in the OpenAI
// chat-completion-chunk format.
func DecodeChunk(data []byte) Chunk {
	var wire openai.ChatCompletionChunk
	if err := json.Unmarshal(data, &wire); err != nil {
		return Chunk{}
	}

	c := Chunk{
		Model:        wire.Model,
		InputTokens:  int(wire.Usage.PromptTokens),
		OutputTokens: int(wire.Usage.CompletionTokens),
	}
	if len(wire.Choices) == 0 {
		return c
	}
	c.Content = wire.Choices[0].Delta.Content
	c.OK = c.Content != ""
	return c
}
