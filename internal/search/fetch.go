package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nugget/sidekick/internal/httpkit"
)

// getJSON issues a GET to reqURL and decodes a 200 response into v.
// Errors are prefixed with the provider name so the realtime block can
// report which backend failed.
func getJSON(ctx context.Context, client *http.Client, provider, reqURL string, header http.Header, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", provider, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vals := range header {
		for _, val := range vals {
			req.Header.Add(k, val)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("%s: HTTP %d: %s", provider, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: decode response: %w", provider, err)
	}
	return nil
}

// highlightTags is the markup Brave and SearXNG wrap around matched
// query terms.
var highlightTags = strings.NewReplacer(
	"<strong>", "", "</strong>", "",
	"<b>", "", "</b>", "",
	"<em>", "", "</em>", "",
)

// cleanText strips highlight markup and folds runs of whitespace,
// including newlines, into single spaces. Snippets end up on one
// "Snippet:" line of the realtime block.
func cleanText(s string) string {
	return strings.Join(strings.Fields(highlightTags.Replace(s)), " ")
}

// appendResult appends a cleaned result, dropping entries without a
// URL (instant answers and infoboxes).
func appendResult(results []Result, title, link, snippet string) []Result {
	link = strings.TrimSpace(link)
	if link == "" {
		return results
	}
	return append(results, Result{
		Title:   cleanText(title),
		URL:     link,
		Snippet: cleanText(snippet),
	})
}
