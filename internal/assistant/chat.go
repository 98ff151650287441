package assistant

import (
	"context"

	"github.com/nugget/sidekick/internal/events"
	"github.com/nugget/sidekick/internal/llm"
	"github.com/nugget/sidekick/internal/prompts"
	"github.com/nugget/sidekick/internal/usage"
)

// Clock supplies the current-time context message. *realtime.Provider
// satisfies it.
type Clock interface {
	Now() llm.Message
}

// Chat answers conversational questions with the chat persona.
type Chat struct {
	*engine
	persona llm.Message
	clock   Clock
}

// NewChat creates a chat orchestrator. persona is the system prompt
// (see prompts.ChatPersona).
func NewChat(cfg Config, persona string, clock Clock) *Chat {
	return &Chat{
		engine:  newEngine(cfg, usage.ModeChat, events.SourceChat),
		persona: llm.System(persona),
		clock:   clock,
	}
}

// Persona returns the fixed messages that open every chat request.
func (c *Chat) Persona() []llm.Message {
	return []llm.Message{c.persona}
}

// Ask answers query. Model failures are reported in the returned text
// rather than as an error; the conversation log is reset in that case.
func (c *Chat) Ask(ctx context.Context, query string) string {
	answer, err := c.ask(ctx, query, c.compose)
	if err != nil {
		return prompts.ChatErrorFallback(err)
	}
	return answer
}

func (c *Chat) compose(_ context.Context, history []llm.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, c.persona, c.clock.Now())
	return append(msgs, history...)
}
