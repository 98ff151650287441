package mqtt

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nugget/sidekick/internal/events"
)

// Submitter accepts image prompts. *jobqueue.Queue satisfies it.
type Submitter interface {
	Submit(prompt string) error
}

// Inbound command limits.
const (
	commandLimit    = 10
	commandInterval = time.Minute
	maxPromptBytes  = 2048
)

var (
	errEmptyPrompt   = errors.New("empty prompt")
	errPromptTooLong = errors.New("prompt too long")
	errRateLimited   = errors.New("rate limited")
)

// commandHandler turns messages on the image command topic into image
// jobs.
type commandHandler struct {
	submit  Submitter
	limiter *messageRateLimiter
	bus     *events.Bus
	logger  *slog.Logger
}

func newCommandHandler(submit Submitter, bus *events.Bus, logger *slog.Logger) *commandHandler {
	return &commandHandler{
		submit:  submit,
		limiter: newMessageRateLimiter(commandLimit, commandInterval, logger),
		bus:     bus,
		logger:  logger,
	}
}

// handle submits payload as an image prompt.
func (h *commandHandler) handle(topic string, payload []byte) error {
	prompt := strings.TrimSpace(string(payload))
	switch {
	case prompt == "":
		return errEmptyPrompt
	case len(prompt) > maxPromptBytes:
		return errPromptTooLong
	case !h.limiter.allow():
		return errRateLimited
	}

	if err := h.submit.Submit(prompt); err != nil {
		return err
	}
	h.logger.Info("image job submitted over mqtt", "topic", topic, "prompt", prompt)
	h.bus.Emit(events.SourceImages, events.KindJobSubmitted, map[string]any{
		"prompt": prompt,
		"via":    "mqtt",
	})
	return nil
}

// messageRateLimiter drops inbound messages once more than limit arrive
// within one interval. Counters are atomic for the receive hot path.
type messageRateLimiter struct {
	count    atomic.Int64
	dropped  atomic.Int64
	limit    int64
	interval time.Duration
	logger   *slog.Logger
}

func newMessageRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *messageRateLimiter {
	return &messageRateLimiter{
		limit:    limit,
		interval: interval,
		logger:   logger,
	}
}

// start resets the counter every interval until ctx is cancelled,
// warning when messages were dropped.
func (r *messageRateLimiter) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := r.count.Swap(0)
			if dropped := r.dropped.Swap(0); dropped > 0 {
				r.logger.Warn("mqtt commands dropped due to rate limit",
					"received", count,
					"dropped", dropped,
					"interval", r.interval.String(),
					"limit", r.limit,
				)
			}
		}
	}
}

// allow counts one message and reports whether it is within the limit.
func (r *messageRateLimiter) allow() bool {
	if r.count.Add(1) > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}
