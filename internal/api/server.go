// Package api implements the HTTP front end: chat and search questions,
// image job submission, conversation history, usage summaries, and a
// WebSocket stream of operational events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nugget/sidekick/internal/buildinfo"
	"github.com/nugget/sidekick/internal/conversation"
	"github.com/nugget/sidekick/internal/events"
	"github.com/nugget/sidekick/internal/jobqueue"
	"github.com/nugget/sidekick/internal/upstream"
	"github.com/nugget/sidekick/internal/usage"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Asker answers one question. The chat and search orchestrators satisfy it.
type Asker interface {
	Ask(ctx context.Context, query string) string
}

// JobQueue is the image control file. *jobqueue.Queue satisfies it.
type JobQueue interface {
	Read() (jobqueue.Record, bool)
	Submit(prompt string) error
}

// HistoryReader loads the persisted conversation log.
type HistoryReader interface {
	Load() ([]conversation.Turn, error)
}

// UsageReader reports from the usage ledger. *usage.Store satisfies it.
type UsageReader interface {
	SummaryByMode(start, end time.Time) (map[string]*usage.Summary, error)
	RecentBatches(ctx context.Context, limit int) ([]usage.Batch, error)
}

// HealthReporter reports the reachability of remote services.
// *upstream.Monitor satisfies it.
type HealthReporter interface {
	Snapshot() map[string]upstream.State
	Down() []string
}

// Config configures a Server. Nil dependencies disable the endpoints
// that need them; those endpoints answer 503.
type Config struct {
	Address string
	Port    int

	Chat    Asker
	Search  Asker
	Queue   JobQueue
	History HistoryReader
	Usage   UsageReader
	Health  HealthReporter
	Events  *events.Bus
	Logger  *slog.Logger
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	cfg    Config
	logger *slog.Logger
	server *http.Server

	// ask serializes chat and search. Both share one conversation log,
	// so only one question may be in flight at a time.
	ask sync.Mutex
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: logger.With("component", "api"),
	}
}

// Handler returns the server's routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.handleAsk(s.cfg.Chat, "chat"))
	mux.HandleFunc("POST /v1/search", s.handleAsk(s.cfg.Search, "search"))

	mux.HandleFunc("POST /v1/images", s.handleImageSubmit)
	mux.HandleFunc("GET /v1/images", s.handleImageStatus)

	mux.HandleFunc("GET /v1/history", s.handleHistory)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns when the server stops;
// a clean Shutdown yields nil.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute, // Long enough for a full streamed completion
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.cfg.Port)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

// decodeBody reads a bounded JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Sidekick",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

// HealthResponse is the body of GET /health. Status is "degraded" when
// any watched remote service is unreachable; the server itself still
// answers 200.
type HealthResponse struct {
	Status   string                    `json:"status"`
	Down     []string                  `json:"down,omitempty"`
	Services map[string]upstream.State `json:"services,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy"}
	if s.cfg.Health != nil {
		resp.Services = s.cfg.Health.Snapshot()
		resp.Down = s.cfg.Health.Down()
		if len(resp.Down) > 0 {
			resp.Status = "degraded"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// AskRequest is the body of POST /v1/chat and POST /v1/search.
type AskRequest struct {
	Message string `json:"message"`
}

// AskResponse carries the cleaned answer.
type AskResponse struct {
	Mode   string `json:"mode"`
	Answer string `json:"answer"`
}

func (s *Server) handleAsk(asker Asker, mode string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if asker == nil {
			s.errorResponse(w, http.StatusServiceUnavailable, mode+" is not configured")
			return
		}

		var req AskRequest
		if err := decodeBody(w, r, &req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			s.errorResponse(w, http.StatusBadRequest, "message is required")
			return
		}

		s.ask.Lock()
		answer := asker.Ask(r.Context(), req.Message)
		s.ask.Unlock()

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, AskResponse{Mode: mode, Answer: answer}, s.logger)
	}
}

// ImageRequest is the body of POST /v1/images.
type ImageRequest struct {
	Prompt string `json:"prompt"`
}

// ImageStatus describes the image control record.
type ImageStatus struct {
	Prompt  string `json:"prompt"`
	Pending bool   `json:"pending"`
	// Replaced is the pending prompt a submission overwrote, if any.
	Replaced string `json:"replaced,omitempty"`
}

func (s *Server) handleImageSubmit(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Queue == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "image queue is not configured")
		return
	}

	var req ImageRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		s.errorResponse(w, http.StatusBadRequest, "prompt is required")
		return
	}

	status := ImageStatus{Prompt: prompt, Pending: true}
	if prev, ok := s.cfg.Queue.Read(); ok && prev.Pending {
		status.Replaced = prev.Prompt
	}

	if err := s.cfg.Queue.Submit(prompt); err != nil {
		s.logger.Error("image job submit failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to submit image job")
		return
	}
	s.cfg.Events.Emit(events.SourceImages, events.KindJobSubmitted, map[string]any{
		"prompt": prompt,
		"via":    "api",
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, status, s.logger)
}

func (s *Server) handleImageStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Queue == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "image queue is not configured")
		return
	}
	rec, _ := s.cfg.Queue.Read()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ImageStatus{Prompt: rec.Prompt, Pending: rec.Pending}, s.logger)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "history is not configured")
		return
	}
	turns, err := s.cfg.History.Load()
	if err != nil {
		s.logger.Error("history load failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"turns": turns,
		"count": len(turns),
	}, s.logger)
}

// handleUsage reports per-mode completion totals since the given number
// of hours (default 24) and the most recent image batches.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage ledger is not configured")
		return
	}

	hours := parseIntParam(r, "hours", 24)
	// The ledger stores whole seconds and the range is half-open, so
	// round up to include rows written this second.
	end := time.Now().Truncate(time.Second).Add(time.Second)
	start := end.Add(-time.Duration(hours) * time.Hour)

	byMode, err := s.cfg.Usage.SummaryByMode(start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to summarize usage")
		return
	}
	batches, err := s.cfg.Usage.RecentBatches(r.Context(), parseIntParam(r, "batches", 10))
	if err != nil {
		s.logger.Error("recent batches failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list image batches")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"hours":   hours,
		"modes":   byMode,
		"batches": batches,
	}, s.logger)
}

// parseIntParam returns the positive integer query parameter name, or
// defaultVal when it is absent or invalid.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
