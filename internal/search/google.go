package search

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nugget/sidekick/internal/httpkit"
)

// GoogleEndpoint is the Custom Search JSON API URL.
const GoogleEndpoint = "https://www.googleapis.com/customsearch/v1"

// Google implements the Provider interface for the Google Custom Search
// JSON API.
type Google struct {
	apiKey     string
	cx         string
	endpoint   string
	httpClient *http.Client
}

// NewGoogle creates a Google Custom Search provider. cx is the
// programmable search engine ID.
func NewGoogle(apiKey, cx string, timeout time.Duration) *Google {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Google{
		apiKey:   apiKey,
		cx:       cx,
		endpoint: GoogleEndpoint,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
		),
	}
}

func (g *Google) Name() string { return "google" }

// googleResponse is the subset of the Custom Search response we use.
type googleResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

func (g *Google) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	count := opts.count()
	// The API rejects num outside 1..10.
	if count > 10 {
		count = 10
	}

	params := url.Values{
		"key": {g.apiKey},
		"cx":  {g.cx},
		"q":   {query},
		"num": {strconv.Itoa(count)},
	}
	if opts.Language != "" {
		params.Set("lr", "lang_"+opts.Language)
	}

	var gr googleResponse
	if err := getJSON(ctx, g.httpClient, g.Name(), g.endpoint+"?"+params.Encode(), nil, &gr); err != nil {
		return nil, err
	}

	// A query with no hits omits "items" entirely.
	results := make([]Result, 0, len(gr.Items))
	for _, item := range gr.Items {
		results = appendResult(results, item.Title, item.Link, item.Snippet)
	}
	return results, nil
}
