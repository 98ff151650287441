// Sidekick is a personal assistant backend: streaming chat, chat
// grounded in live web search, and a file-backed text-to-image job
// queue served by a worker.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	sidekick chat [question]     Ask once, or start an interactive chat
//	sidekick search [question]   Same, grounded in web search results
//	sidekick image <prompt>      Queue an image generation job
//	sidekick worker              Serve the image job queue
//	sidekick serve               Start the API server
//	sidekick status              Show the image queue and usage totals
//	sidekick reset               Clear the conversation log
//	sidekick init [dir]          Write an example config
//	sidekick version             Print version and build information
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/sidekick/internal/api"
	"github.com/nugget/sidekick/internal/buildinfo"
	"github.com/nugget/sidekick/internal/config"
	"github.com/nugget/sidekick/internal/events"
	"github.com/nugget/sidekick/internal/mqtt"
	"github.com/nugget/sidekick/internal/usage"
)

// main constructs the OS-level environment and delegates to [run], which
// keeps os.Exit and the standard streams out of the application logic.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options are the global flags shared by every subcommand.
type options struct {
	configPath string
	outputFmt  string // "text" (default) or "json"
	continuous bool   // worker: keep serving after one job
}

// run is the real entry point. Arguments are parsed by hand rather than
// with the flag package so that run holds no global state and can be
// driven concurrently from tests.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var (
		opts    options
		command string
		cmdArgs []string
	)

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			// Everything after the command belongs to it.
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			opts.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			opts.outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-continuous" || args[i] == "--continuous":
			opts.continuous = true
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if opts.outputFmt == "" {
		opts.outputFmt = "text"
	}
	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
	}

	switch command {
	case "chat", "search":
		return runAsk(ctx, stdin, stdout, stderr, opts, command, cmdArgs)
	case "image":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: sidekick image <prompt>")
		}
		return runImage(stdout, stderr, opts, strings.Join(cmdArgs, " "))
	case "worker":
		return runWorker(ctx, stdout, opts)
	case "serve":
		return runServe(ctx, stdout, opts)
	case "status":
		return runStatus(ctx, stdout, stderr, opts)
	case "reset":
		return runReset(stdout, stderr, opts)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, opts.outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Sidekick - personal assistant backend")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: sidekick [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat [question]     Ask once, or chat interactively when no question is given")
	fmt.Fprintln(w, "  search [question]   Like chat, grounded in live web search results")
	fmt.Fprintln(w, "  image <prompt>      Queue an image generation job")
	fmt.Fprintln(w, "  worker              Serve the image job queue")
	fmt.Fprintln(w, "  serve               Start the API server")
	fmt.Fprintln(w, "  status              Show the image queue and usage totals")
	fmt.Fprintln(w, "  reset               Clear the conversation log")
	fmt.Fprintln(w, "  init [dir]          Write an example config (default: .)")
	fmt.Fprintln(w, "  version             Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w, "  -continuous       worker: keep serving jobs instead of exiting after one")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/sidekick/config.yaml, /etc/sidekick/config.yaml")
	return nil
}

// runAsk handles "sidekick chat" and "sidekick search". With a question
// it answers once; without one it reads questions from stdin until EOF
// or "exit".
func runAsk(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, opts options, mode string, args []string) error {
	cfg, logger, err := setup(stderr, opts)
	if err != nil {
		return err
	}
	if err := cfg.RequireGroq(); err != nil {
		return err
	}

	deps, err := openDeps(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	var asker api.Asker = deps.chat
	if mode == "search" {
		asker = deps.search
	}

	if len(args) > 0 {
		fmt.Fprintln(stdout, asker.Ask(ctx, strings.Join(args, " ")))
		return nil
	}
	return repl(ctx, stdin, stdout, asker)
}

// repl runs the interactive question loop.
func repl(ctx context.Context, stdin io.Reader, stdout io.Writer, asker api.Asker) error {
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "Enter Your Question: ")
		if !scanner.Scan() {
			fmt.Fprintln(stdout)
			return scanner.Err()
		}
		query := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(query) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		fmt.Fprintln(stdout, asker.Ask(ctx, query))
		if ctx.Err() != nil {
			return nil
		}
	}
}

// runImage handles "sidekick image <prompt>": it writes the prompt to the
// control file as a pending job.
func runImage(stdout, stderr io.Writer, opts options, prompt string) error {
	cfg, logger, err := setup(stderr, opts)
	if err != nil {
		return err
	}
	q := newQueue(cfg, logger)
	if err := q.Submit(prompt); err != nil {
		return fmt.Errorf("submit image job: %w", err)
	}
	fmt.Fprintf(stdout, "Queued image job in %s: %s\n", q.Path(), strings.TrimSpace(prompt))
	return nil
}

// runWorker handles "sidekick worker". By default it processes one job
// and exits so a supervisor can restart it; -continuous (or
// images.continuous) keeps it running until interrupted.
func runWorker(ctx context.Context, stdout io.Writer, opts options) error {
	cfg, logger, err := setup(stdout, opts)
	if err != nil {
		return err
	}
	if err := cfg.RequireHuggingFace(); err != nil {
		return err
	}
	if opts.continuous {
		cfg.Images.Continuous = true
	}

	bus := events.New()
	ledger := openUsage(cfg, logger)
	if ledger != nil {
		defer ledger.Close()
	}

	w := newWorker(cfg, newQueue(cfg, logger), ledger, bus, logger)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("image worker stopped")
	return nil
}

// runServe handles "sidekick serve": the API server, the optional MQTT
// bridge, and, when image generation is configured, a continuous image
// worker. It blocks until ctx is cancelled.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The MQTT bridge publishes "offline" and disconnects
//  3. The HTTP server drains in-flight requests
//  4. The usage ledger is closed via defer
func runServe(ctx context.Context, stdout io.Writer, opts options) error {
	cfg, logger, err := setup(stdout, opts)
	if err != nil {
		return err
	}
	logger.Info("starting Sidekick", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	bus := events.New()
	deps, err := openDeps(cfg, logger, withEvents(bus))
	if err != nil {
		return err
	}
	defer deps.Close()

	apiCfg := api.Config{
		Address: cfg.Listen.Address,
		Port:    cfg.Listen.Port,
		Queue:   deps.queue,
		History: deps.history,
		Events:  bus,
		Logger:  logger,
	}
	if cfg.Groq.Configured() {
		apiCfg.Chat = deps.chat
		apiCfg.Search = deps.search
	} else {
		logger.Warn("groq.api_key not set, chat and search endpoints disabled")
	}
	if deps.ledger != nil {
		apiCfg.Usage = deps.ledger
	}

	monitor := newMonitor(ctx, cfg, bus, logger)
	defer monitor.Stop()
	apiCfg.Health = monitor

	server := api.NewServer(apiCfg)

	var bridge *mqtt.Bridge
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		bridge = mqtt.New(cfg.MQTT, instanceID, bus, deps.queue, logger)
		go func() {
			if err := bridge.Start(ctx); err != nil {
				logger.Error("mqtt bridge failed", "error", err)
			}
		}()
		logger.Info("mqtt bridge enabled", "broker", cfg.MQTT.Broker, "base_topic", cfg.MQTT.BaseTopic, "instance_id", instanceID)
	} else {
		logger.Info("mqtt bridge disabled (not configured)")
	}

	if cfg.HuggingFace.Configured() {
		cfg.Images.Continuous = true
		w := newWorker(cfg, deps.queue, deps.ledger, bus, logger)
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("image worker failed", "error", err)
			}
		}()
	} else {
		logger.Info("image worker disabled (huggingface.api_key not set)")
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		if bridge != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := bridge.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Sidekick stopped")
	return nil
}

// statusReport is the output of "sidekick status".
type statusReport struct {
	ControlFile string                    `json:"control_file"`
	Prompt      string                    `json:"prompt"`
	Pending     bool                      `json:"pending"`
	History     int                       `json:"history_turns"`
	Today       map[string]*usage.Summary `json:"today,omitempty"`
	Batches     []usage.Batch             `json:"recent_batches,omitempty"`
}

// runStatus handles "sidekick status".
func runStatus(ctx context.Context, stdout, stderr io.Writer, opts options) error {
	cfg, logger, err := setup(stderr, opts)
	if err != nil {
		return err
	}

	q := newQueue(cfg, logger)
	rec, _ := q.Read()
	turns, _ := newHistory(cfg, logger).Load()

	report := statusReport{
		ControlFile: q.Path(),
		Prompt:      rec.Prompt,
		Pending:     rec.Pending,
		History:     len(turns),
	}

	if ledger := openUsage(cfg, logger); ledger != nil {
		defer ledger.Close()
		now := time.Now()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		if report.Today, err = ledger.SummaryByMode(midnight, now.Add(time.Second)); err != nil {
			logger.Warn("usage summary failed", "error", err)
		}
		if report.Batches, err = ledger.RecentBatches(ctx, 5); err != nil {
			logger.Warn("recent batches failed", "error", err)
		}
	}

	if opts.outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(stdout, "Image queue:   %s\n", report.ControlFile)
	switch {
	case report.Prompt == "":
		fmt.Fprintln(stdout, "  (no job)")
	case report.Pending:
		fmt.Fprintf(stdout, "  pending: %s\n", report.Prompt)
	default:
		fmt.Fprintf(stdout, "  done:    %s\n", report.Prompt)
	}
	fmt.Fprintf(stdout, "Conversation:  %d turns\n", report.History)
	for _, mode := range []string{usage.ModeChat, usage.ModeSearch} {
		if s := report.Today[mode]; s != nil {
			fmt.Fprintf(stdout, "Today %-7s %d requests (%d failed), %d in / %d out tokens\n",
				mode+":", s.TotalRecords, s.FailedRecords, s.TotalInputTokens, s.TotalOutputTokens)
		}
	}
	for _, b := range report.Batches {
		fmt.Fprintf(stdout, "Batch %s  %d/%d saved  %s\n", b.Timestamp.Local().Format(time.DateTime), b.Saved, b.Requested, b.Prompt)
	}
	return nil
}

// runReset handles "sidekick reset".
func runReset(stdout, stderr io.Writer, opts options) error {
	cfg, logger, err := setup(stderr, opts)
	if err != nil {
		return err
	}
	h := newHistory(cfg, logger)
	if err := h.Reset(); err != nil {
		return fmt.Errorf("reset conversation log: %w", err)
	}
	fmt.Fprintf(stdout, "Conversation log cleared: %s\n", h.Path())
	return nil
}

// setup loads the config and builds the configured logger writing to w.
func setup(w io.Writer, opts options) (*config.Config, *slog.Logger, error) {
	cfg, cfgPath, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, nil, err
	}

	// ParseLogLevel is already validated by config.Validate().
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := newLogger(w, level, cfg.LogFormat)
	logger.Debug("config loaded", "path", cfgPath, "data_dir", cfg.DataDir)
	return cfg, logger, nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
