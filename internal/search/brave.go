package search

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nugget/sidekick/internal/httpkit"
)

// BraveEndpoint is the Brave web search API URL.
const BraveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// braveMaxCount is the largest count the web search API accepts.
const braveMaxCount = 20

// Brave implements the Provider interface for the Brave Search API.
type Brave struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewBrave creates a Brave Search provider.
func NewBrave(apiKey string, timeout time.Duration) *Brave {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Brave{
		apiKey:     apiKey,
		endpoint:   BraveEndpoint,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(timeout)),
	}
}

func (b *Brave) Name() string { return "brave" }

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (b *Brave) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	count := min(opts.count(), braveMaxCount)
	params := url.Values{
		"q":                {query},
		"count":            {strconv.Itoa(count)},
		"text_decorations": {"false"},
	}
	if opts.Language != "" {
		params.Set("search_lang", opts.Language)
	}

	var br braveResponse
	header := http.Header{"X-Subscription-Token": {b.apiKey}}
	if err := getJSON(ctx, b.httpClient, b.Name(), b.endpoint+"?"+params.Encode(), header, &br); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(br.Web.Results))
	for _, r := range br.Web.Results {
		results = appendResult(results, r.Title, r.URL, r.Description)
	}
	return results, nil
}
