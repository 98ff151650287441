package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/sidekick/internal/assistant"
	"github.com/nugget/sidekick/internal/config"
	"github.com/nugget/sidekick/internal/conversation"
	"github.com/nugget/sidekick/internal/events"
	"github.com/nugget/sidekick/internal/httpkit"
	"github.com/nugget/sidekick/internal/imagegen"
	"github.com/nugget/sidekick/internal/jobqueue"
	"github.com/nugget/sidekick/internal/llm"
	"github.com/nugget/sidekick/internal/prompts"
	"github.com/nugget/sidekick/internal/realtime"
	"github.com/nugget/sidekick/internal/search"
	"github.com/nugget/sidekick/internal/upstream"
	"github.com/nugget/sidekick/internal/usage"
)

// deps holds the components shared by the chat, search, and serve
// commands.
type deps struct {
	history *conversation.Store
	queue   *jobqueue.Queue
	ledger  *usage.Store // nil when the ledger could not be opened
	chat    *assistant.Chat
	search  *assistant.Search
}

// Close releases the usage ledger.
func (d *deps) Close() error {
	if d.ledger == nil {
		return nil
	}
	return d.ledger.Close()
}

type depsOption func(*depsOptions)

type depsOptions struct {
	events *events.Bus
}

// withEvents publishes orchestrator events on bus.
func withEvents(bus *events.Bus) depsOption {
	return func(o *depsOptions) { o.events = bus }
}

// openDeps builds the conversation store, image queue, usage ledger, and
// both orchestrators from cfg.
func openDeps(cfg *config.Config, logger *slog.Logger, opts ...depsOption) (*deps, error) {
	var o depsOptions
	for _, opt := range opts {
		opt(&o)
	}

	d := &deps{
		history: newHistory(cfg, logger),
		queue:   newQueue(cfg, logger),
		ledger:  openUsage(cfg, logger),
	}
	if err := d.history.Init(); err != nil {
		d.Close()
		return nil, fmt.Errorf("initialize conversation log: %w", err)
	}

	client := llm.NewGroqClient(llm.GroqConfig{
		APIKey:  cfg.Groq.APIKey,
		BaseURL: cfg.Groq.BaseURL,
	}, logger)

	base := assistant.Config{
		Client:      client,
		History:     d.history,
		Temperature: cfg.Models.Temperature,
		TopP:        cfg.Models.TopP,
		Timeout:     cfg.Groq.Timeout,
		Events:      o.events,
		Logger:      logger,
	}
	if d.ledger != nil {
		base.Usage = d.ledger
	}

	chatCfg := base
	chatCfg.Model = cfg.Models.Chat
	chatCfg.MaxTokens = cfg.Models.ChatMaxTokens
	d.chat = assistant.NewChat(chatCfg,
		prompts.ChatPersona(cfg.Username, cfg.AssistantName),
		realtime.New(realtime.Config{Header: realtime.ChatHeader, Logger: logger}),
	)

	searchCfg := base
	searchCfg.Model = cfg.Models.Search
	searchCfg.MaxTokens = cfg.Models.SearchMaxTokens
	d.search = assistant.NewSearch(searchCfg,
		prompts.SearchPersona(cfg.Username, cfg.AssistantName),
		realtime.New(realtime.Config{
			Header:   realtime.SearchHeader,
			Searcher: newSearchManager(cfg, logger),
			Count:    cfg.Search.Count,
			Timeout:  cfg.Search.Timeout,
			Logger:   logger,
		}),
	)

	return d, nil
}

func newHistory(cfg *config.Config, logger *slog.Logger) *conversation.Store {
	return conversation.NewStore(cfg.ChatLogPath(), logger)
}

func newQueue(cfg *config.Config, logger *slog.Logger) *jobqueue.Queue {
	return jobqueue.New(cfg.Images.ControlFile, logger)
}

// openUsage opens the usage ledger. The ledger is bookkeeping only, so a
// failure is logged and nil returned.
func openUsage(cfg *config.Config, logger *slog.Logger) *usage.Store {
	store, err := usage.NewStore(cfg.UsageDBPath())
	if err != nil {
		logger.Warn("usage ledger unavailable", "path", cfg.UsageDBPath(), "error", err)
		return nil
	}
	return store
}

// newSearchManager registers every configured search provider. The
// configured primary answers searches; if it has no credentials every
// search reports an error, which search mode turns into an error block
// in the model context.
func newSearchManager(cfg *config.Config, logger *slog.Logger) *search.Manager {
	mgr := search.NewManager(cfg.Search.Provider)
	if cfg.Search.Google.Configured() {
		mgr.Register(search.NewGoogle(cfg.Search.Google.APIKey, cfg.Search.Google.CX, cfg.Search.Timeout))
	}
	if cfg.Search.Brave.Configured() {
		mgr.Register(search.NewBrave(cfg.Search.Brave.APIKey, cfg.Search.Timeout))
	}
	if cfg.Search.SearXNG.Configured() {
		mgr.Register(search.NewSearXNG(cfg.Search.SearXNG.URL, cfg.Search.Timeout))
	}
	if !mgr.Configured() {
		logger.Warn("primary search provider not configured", "provider", cfg.Search.Provider, "registered", mgr.Providers())
	}
	return mgr
}

// newWorker assembles the image worker from cfg. ledger may be nil.
func newWorker(cfg *config.Config, q *jobqueue.Queue, ledger *usage.Store, bus *events.Bus, logger *slog.Logger) *imagegen.Worker {
	client := imagegen.NewClient(imagegen.ClientConfig{
		APIKey:   cfg.HuggingFace.APIKey,
		ModelURL: cfg.HuggingFace.ModelURL,
		Timeout:  cfg.HuggingFace.Timeout,
	}, logger)

	wcfg := imagegen.WorkerConfig{
		Queue: q,
		Batch: imagegen.NewBatch(imagegen.BatchConfig{
			Generator: client,
			Dir:       cfg.Images.Dir,
			Count:     cfg.Images.Count,
			Events:    bus,
			Logger:    logger,
		}),
		Pace:         cfg.Images.Pace,
		PollInterval: cfg.Images.PollInterval,
		Continuous:   cfg.Images.Continuous,
		Watch:        true,
		Events:       bus,
		Logger:       logger,
	}
	if cfg.Images.ShowResults() {
		wcfg.Viewer = imagegen.NewSystemViewer(cfg.Images.Viewer)
	}
	if ledger != nil {
		wcfg.Usage = ledger
	}
	return imagegen.NewWorker(wcfg)
}

// newMonitor starts reachability probes for the configured remote
// services. Google and Brave bill per query, so they are not probed.
func newMonitor(ctx context.Context, cfg *config.Config, bus *events.Bus, logger *slog.Logger) *upstream.Monitor {
	m := upstream.NewMonitor(bus, logger)
	client := httpkit.NewClient(httpkit.WithTimeout(15 * time.Second))
	sched := upstream.DefaultSchedule()

	if cfg.Groq.Configured() {
		url := strings.TrimRight(cfg.Groq.BaseURL, "/") + "/models"
		m.Add(ctx, "groq", upstream.HTTPProbe(client, url, upstream.BearerHeader(cfg.Groq.APIKey)), sched)
	}
	if cfg.HuggingFace.Configured() {
		m.Add(ctx, "huggingface", upstream.HTTPProbe(client, cfg.HuggingFace.ModelURL, upstream.BearerHeader(cfg.HuggingFace.APIKey)), sched)
	}
	if cfg.Search.SearXNG.Configured() {
		m.Add(ctx, "searxng", upstream.HTTPProbe(client, cfg.Search.SearXNG.URL, nil), sched)
	}
	return m
}
