package search

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/sidekick/internal/httpkit"
)

// SearXNG implements the Provider interface for a self-hosted SearXNG
// instance. The instance must have the json output format enabled.
type SearXNG struct {
	baseURL    string
	httpClient *http.Client
}

// NewSearXNG creates a SearXNG provider rooted at baseURL, for example
// "http://localhost:8080".
func NewSearXNG(baseURL string, timeout time.Duration) *SearXNG {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SearXNG{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(httpkit.WithTimeout(timeout)),
	}
}

func (s *SearXNG) Name() string { return "searxng" }

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (s *SearXNG) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	params := url.Values{
		"q":      {query},
		"format": {"json"},
	}
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}

	var sr searxngResponse
	if err := getJSON(ctx, s.httpClient, s.Name(), s.baseURL+"/search?"+params.Encode(), nil, &sr); err != nil {
		return nil, err
	}

	// No count parameter upstream; stop once enough usable results are in.
	count := opts.count()
	results := make([]Result, 0, count)
	for _, r := range sr.Results {
		if len(results) == count {
			break
		}
		results = appendResult(results, r.Title, r.URL, r.Content)
	}
	return results, nil
}
