// Package assistant implements the chat and search orchestrators. Both
// run the same request cycle against the shared conversation log: load
// the log fresh, append the question, compose the model request, stream
// the answer, and persist it. A failed model call resets the log so a
// bad exchange cannot poison later requests.
package assistant

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/sidekick/internal/conversation"
	"github.com/nugget/sidekick/internal/events"
	"github.com/nugget/sidekick/internal/llm"
	"github.com/nugget/sidekick/internal/usage"
)

// DefaultTimeout bounds one streamed completion when Config.Timeout is zero.
const DefaultTimeout = 2 * time.Minute

// History is the conversation log as seen by an orchestrator. Every
// request loads it fresh; nothing is cached between calls.
type History interface {
	Load() ([]conversation.Turn, error)
	Save(turns []conversation.Turn) error
	Reset() error
}

// UsageRecorder persists one row per completion attempt. *usage.Store
// satisfies it.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// State is the position of an orchestrator in its request cycle.
type State int32

const (
	StateIdle State = iota
	StateLoading
	StateRequesting
	StateStreaming
	StatePersisting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StatePersisting:
		return "persisting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds the dependencies and model settings shared by Chat and
// Search. Client and History are required.
type Config struct {
	Client  llm.Client
	History History

	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
	// Timeout bounds a whole streamed completion.
	Timeout time.Duration

	// OnToken, if set, receives answer fragments as they stream in.
	OnToken llm.StreamCallback

	Usage  UsageRecorder
	Events *events.Bus
	Logger *slog.Logger
}

// engine runs the request cycle. compose builds the model messages from
// the working history for one call.
type engine struct {
	cfg    Config
	mode   string
	source string
	state  atomic.Int32
	logger *slog.Logger
}

func newEngine(cfg Config, mode, source string) *engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &engine{
		cfg:    cfg,
		mode:   mode,
		source: source,
		logger: logger.With("component", mode),
	}
}

func (e *engine) State() State {
	return State(e.state.Load())
}

func (e *engine) setState(ctx context.Context, s State) {
	prev := State(e.state.Swap(int32(s)))
	if prev != s {
		e.logger.Log(ctx, llm.LevelTrace, "state transition", "from", prev, "to", s)
	}
}

func toMessages(turns []conversation.Turn) []llm.Message {
	msgs := make([]llm.Message, len(turns))
	for i, t := range turns {
		msgs[i] = llm.Message{Role: string(t.Role), Content: t.Content}
	}
	return msgs
}

// ask runs one request cycle and returns the cleaned answer. On a model
// failure the log has already been reset when the error is returned.
func (e *engine) ask(ctx context.Context, query string, compose func(ctx context.Context, history []llm.Message) []llm.Message) (string, error) {
	requestID := uuid.NewString()
	logger := e.logger.With("request_id", requestID)
	defer e.setState(ctx, StateIdle)

	e.setState(ctx, StateLoading)
	turns, err := e.cfg.History.Load()
	if err != nil {
		logger.Warn("conversation log unreadable, continuing with empty history", "error", err)
		turns = []conversation.Turn{}
	}
	turns = append(turns, conversation.Turn{Role: conversation.RoleUser, Content: query})

	e.setState(ctx, StateRequesting)
	req := llm.Request{
		Model:       e.cfg.Model,
		Messages:    compose(ctx, toMessages(turns)),
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		TopP:        e.cfg.TopP,
	}

	logger.Info("request started", "model", req.Model, "history", len(turns)-1, "messages", len(req.Messages))
	e.cfg.Events.Emit(e.source, events.KindRequestStart, map[string]any{
		"request_id": requestID,
		"model":      req.Model,
		"history":    len(turns) - 1,
	})

	streamCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	streaming := false
	resp, err := e.cfg.Client.Stream(streamCtx, req, func(token string) {
		if !streaming {
			streaming = true
			e.setState(ctx, StateStreaming)
		}
		if e.cfg.OnToken != nil {
			e.cfg.OnToken(token)
		}
	})
	if err != nil {
		e.fail(ctx, logger, requestID, req.Model, time.Since(start), err)
		return "", err
	}

	e.setState(ctx, StatePersisting)
	answer := strings.TrimSpace(llm.StripMarkers(resp.Content))
	turns = append(turns, conversation.Turn{Role: conversation.RoleAssistant, Content: answer})
	if err := e.cfg.History.Save(turns); err != nil {
		logger.Error("failed to persist conversation", "error", err)
	}

	elapsed := time.Since(start)
	e.record(ctx, logger, usage.Record{
		RequestID:    requestID,
		Mode:         e.mode,
		Model:        resp.Model,
		Provider:     "groq",
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Chunks:       resp.Chunks,
		Skipped:      resp.Skipped,
		Duration:     elapsed,
		OK:           true,
	})

	logger.Info("request complete",
		"model", resp.Model,
		"tokens_in", resp.InputTokens,
		"tokens_out", resp.OutputTokens,
		"chunks", resp.Chunks,
		"skipped", resp.Skipped,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	e.cfg.Events.Emit(e.source, events.KindRequestComplete, map[string]any{
		"request_id": requestID,
		"model":      resp.Model,
		"tokens_in":  resp.InputTokens,
		"tokens_out": resp.OutputTokens,
		"chunks":     resp.Chunks,
		"skipped":    resp.Skipped,
		"elapsed_ms": elapsed.Milliseconds(),
	})

	return llm.CleanAnswer(answer), nil
}

func (e *engine) fail(ctx context.Context, logger *slog.Logger, requestID, model string, elapsed time.Duration, err error) {
	e.setState(ctx, StateFailed)
	logger.Error("model request failed, resetting conversation", "model", model, "error", err)

	if resetErr := e.cfg.History.Reset(); resetErr != nil {
		logger.Error("failed to reset conversation log", "error", resetErr)
	}

	e.record(ctx, logger, usage.Record{
		RequestID: requestID,
		Mode:      e.mode,
		Model:     model,
		Provider:  "groq",
		Duration:  elapsed,
		Error:     err.Error(),
	})
	e.cfg.Events.Emit(e.source, events.KindRequestFailed, map[string]any{
		"request_id":  requestID,
		"model":       model,
		"error":       err.Error(),
		"model_error": llm.IsModelError(err),
	})
}

func (e *engine) record(ctx context.Context, logger *slog.Logger, rec usage.Record) {
	if e.cfg.Usage == nil {
		return
	}
	if err := e.cfg.Usage.Record(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("failed to record usage", "error", err)
	}
}
