// Package realtime builds the per-request context messages that give the
// model the current date and time and, in search mode, fresh web search
// results. These messages are never written to the conversation log.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/sidekick/internal/llm"
	"github.com/nugget/sidekick/internal/search"
)

// Headers for the clock block. Chat and search mode word it differently.
const (
	ChatHeader   = "Please use this real-time information if needed,"
	SearchHeader = "Use This Real-time Information if needed,"
)

// Searcher runs web searches. *search.Manager satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// Config configures a Provider. Zero values select defaults.
type Config struct {
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
	// Header is the first line of the clock block. Defaults to ChatHeader.
	Header string
	// Searcher backs SearchContext. Nil makes every search report an error.
	Searcher Searcher
	// Count is the maximum number of results formatted. Defaults to 5.
	Count int
	// Timeout bounds a single search. Defaults to 20s.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Provider produces ephemeral context messages.
type Provider struct {
	clock    func() time.Time
	header   string
	searcher Searcher
	count    int
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a Provider.
func New(cfg Config) *Provider {
	p := &Provider{
		clock:    cfg.Clock,
		header:   cfg.Header,
		searcher: cfg.Searcher,
		count:    cfg.Count,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.header == "" {
		p.header = ChatHeader
	}
	if p.count <= 0 {
		p.count = search.DefaultCount
	}
	if p.timeout <= 0 {
		p.timeout = 20 * time.Second
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "realtime")
	return p
}

// Now returns a system message describing the current local time.
func (p *Provider) Now() llm.Message {
	return llm.System(FormatClock(p.header, p.clock()))
}

// FormatClock renders t as the clock block under header.
func FormatClock(header string, t time.Time) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "Day: %s\n", t.Format("Monday"))
	fmt.Fprintf(&b, "Date: %s\n", t.Format("02"))
	fmt.Fprintf(&b, "Month: %s\n", t.Format("January"))
	fmt.Fprintf(&b, "Year: %s\n", t.Format("2006"))
	fmt.Fprintf(&b, "Time: %s hours :%s minutes :%s seconds.\n", t.Format("15"), t.Format("04"), t.Format("05"))
	return b.String()
}

// SearchContext runs a web search for query and returns the results as a
// system message. Failures degrade to an error block in the same message
// rather than failing the request.
func (p *Provider) SearchContext(ctx context.Context, query string) llm.Message {
	if p.searcher == nil {
		return llm.System(FormatSearchError(fmt.Errorf("no search provider configured")))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	results, err := p.searcher.Search(ctx, query, search.Options{Count: p.count})
	if err != nil {
		p.logger.Warn("search failed", "query", query, "error", err)
		return llm.System(FormatSearchError(err))
	}

	p.logger.Debug("search complete",
		"query", query,
		"results", len(results),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	if len(results) > p.count {
		results = results[:p.count]
	}
	return llm.System(FormatResults(query, results))
}

// FormatResults renders search results as the block the search persona
// expects, between [start] and [end] markers.
func FormatResults(query string, results []search.Result) string {
	lines := []string{
		fmt.Sprintf("The search results for '%s' are:", query),
		"[start]",
	}
	for _, r := range results {
		lines = append(lines,
			"Title: "+r.Title,
			"Snippet: "+r.Snippet,
			"Link: "+r.URL,
			"",
		)
	}
	lines = append(lines, "[end]")
	return strings.Join(lines, "\n")
}

// FormatSearchError renders a failed search in place of the results block.
func FormatSearchError(err error) string {
	return fmt.Sprintf("[Search error] Could not fetch search results: %v", err)
}
