package assistant

import (
	"context"

	"github.com/nugget/sidekick/internal/events"
	"github.com/nugget/sidekick/internal/llm"
	"github.com/nugget/sidekick/internal/prompts"
	"github.com/nugget/sidekick/internal/usage"
)

// ContextSource supplies both ephemeral context messages search mode
// needs. *realtime.Provider satisfies it.
type ContextSource interface {
	Clock
	SearchContext(ctx context.Context, query string) llm.Message
}

// Search answers questions grounded in fresh web search results.
type Search struct {
	*engine
	baseline []llm.Message
	src      ContextSource
}

// NewSearch creates a search orchestrator. persona is the system prompt
// (see prompts.SearchPersona); it is followed by a fixed priming
// exchange.
func NewSearch(cfg Config, persona string, src ContextSource) *Search {
	return &Search{
		engine: newEngine(cfg, usage.ModeSearch, events.SourceSearch),
		baseline: []llm.Message{
			llm.System(persona),
			{Role: llm.RoleUser, Content: prompts.SearchPrimingUser},
			{Role: llm.RoleAssistant, Content: prompts.SearchPrimingAssistant},
		},
		src: src,
	}
}

// Persona returns a copy of the fixed messages that open every search
// request. The baseline never changes between calls.
func (s *Search) Persona() []llm.Message {
	out := make([]llm.Message, len(s.baseline))
	copy(out, s.baseline)
	return out
}

// Ask answers query. Failures are reported in the returned text; the
// conversation log is reset in that case.
func (s *Search) Ask(ctx context.Context, query string) string {
	answer, err := s.ask(ctx, query, func(ctx context.Context, history []llm.Message) []llm.Message {
		return s.compose(ctx, query, history)
	})
	if err != nil {
		if llm.IsModelError(err) {
			return prompts.ModelErrorFallback
		}
		return prompts.SearchErrorFallback(err)
	}
	return answer
}

// compose builds a fresh message list for one call. The search results
// live only in this slice.
func (s *Search) compose(ctx context.Context, query string, history []llm.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(s.baseline)+len(history)+2)
	msgs = append(msgs, s.baseline...)
	msgs = append(msgs, s.src.SearchContext(ctx, query), s.src.Now())
	return append(msgs, history...)
}
