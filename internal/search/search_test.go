package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// mockProvider is a simple test provider.
type mockProvider struct {
	name    string
	results []Result
	err     error
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Search(_ context.Context, _ string, _ Options) ([]Result, error) {
	return m.results, m.err
}

func TestManagerSearch(t *testing.T) {
	mgr := NewManager("mock")
	mgr.Register(&mockProvider{
		name: "mock",
		results: []Result{
			{Title: "Test", URL: "https://example.com", Snippet: "A test result"},
		},
	})

	results, err := mgr.Search(context.Background(), "test", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Title != "Test" {
		t.Errorf("expected title 'Test', got %q", results[0].Title)
	}
}

func TestManagerSearchTrimsToCount(t *testing.T) {
	mgr := NewManager("mock")
	many := make([]Result, 8)
	mgr.Register(&mockProvider{name: "mock", results: many})

	results, err := mgr.Search(context.Background(), "q", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != DefaultCount {
		t.Errorf("got %d results, want %d", len(results), DefaultCount)
	}

	results, _ = mgr.Search(context.Background(), "q", Options{Count: 2})
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
}

func TestManagerSearchWith(t *testing.T) {
	mgr := NewManager("primary")
	mgr.Register(&mockProvider{name: "primary", results: []Result{{Title: "Primary"}}})
	mgr.Register(&mockProvider{name: "secondary", results: []Result{{Title: "Secondary"}}})

	results, err := mgr.SearchWith(context.Background(), "secondary", "test", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Title != "Secondary" {
		t.Errorf("expected 'Secondary', got %q", results[0].Title)
	}
	if got := strings.Join(mgr.Providers(), ","); got != "primary,secondary" {
		t.Errorf("Providers() = %q", got)
	}
}

func TestManagerProviderError(t *testing.T) {
	mgr := NewManager("broken")
	mgr.Register(&mockProvider{name: "broken", err: errors.New("quota exceeded")})

	if _, err := mgr.Search(context.Background(), "q", Options{}); err == nil || !strings.Contains(err.Error(), "quota") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestManagerUnconfigured(t *testing.T) {
	mgr := NewManager("missing")
	_, err := mgr.Search(context.Background(), "test", Options{})
	if err == nil {
		t.Fatal("expected error for missing provider")
	}
}

func TestConfigured(t *testing.T) {
	mgr := NewManager("test")
	if mgr.Configured() {
		t.Error("empty manager should not be configured")
	}
	mgr.Register(&mockProvider{name: "other"})
	if mgr.Configured() {
		t.Error("manager without its primary should not be configured")
	}
	mgr.Register(&mockProvider{name: "test"})
	if !mgr.Configured() {
		t.Error("manager with provider should be configured")
	}
}

func TestGoogleSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("key") != "api-key" || q.Get("cx") != "engine" {
			t.Errorf("credentials = %q/%q", q.Get("key"), q.Get("cx"))
		}
		if q.Get("q") != "go generics" {
			t.Errorf("q = %q", q.Get("q"))
		}
		if q.Get("num") != "5" {
			t.Errorf("num = %q, want 5", q.Get("num"))
		}
		w.Write([]byte(`{"items":[
			{"title":"Generics tutorial","link":"https://go.dev/doc/tutorial/generics","snippet":"Learn generics."},
			{"title":"Type parameters proposal","link":"https://go.dev/design/43651-type-parameters","snippet":"Type parameters."}
		]}`))
	}))
	defer srv.Close()

	g := NewGoogle("api-key", "engine", 0)
	g.endpoint = srv.URL

	results, err := g.Search(context.Background(), "go generics", Options{})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].URL != "https://go.dev/doc/tutorial/generics" || results[0].Snippet != "Learn generics." {
		t.Errorf("first result = %+v", results[0])
	}
}

func TestGoogleSearch_NoItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"searchInformation":{"totalResults":"0"}}`))
	}))
	defer srv.Close()

	g := NewGoogle("k", "cx", 0)
	g.endpoint = srv.URL

	results, err := g.Search(context.Background(), "zzzz", Options{})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestGoogleSearch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"API key not valid"}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	g := NewGoogle("bad", "cx", 0)
	g.endpoint = srv.URL

	_, err := g.Search(context.Background(), "q", Options{})
	if err == nil || !strings.Contains(err.Error(), "HTTP 403") {
		t.Fatalf("expected HTTP 403 error, got %v", err)
	}
}

func TestBraveSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "brave-key" {
			t.Errorf("token = %q", r.Header.Get("X-Subscription-Token"))
		}
		w.Write([]byte(`{"web":{"results":[{"title":"Brave","url":"https://brave.com","description":"Browser"}]}}`))
	}))
	defer srv.Close()

	b := NewBrave("brave-key", 0)
	b.endpoint = srv.URL

	results, err := b.Search(context.Background(), "brave", Options{Count: 3})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 1 || results[0].Snippet != "Browser" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearXNGSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.URL.Query().Get("format") != "json" {
			t.Errorf("unexpected request %s", r.URL)
		}
		w.Write([]byte(`{"results":[
			{"title":"a","url":"https://a","content":"A"},
			{"title":"b","url":"https://b","content":"B"},
			{"title":"c","url":"https://c","content":"C"}
		]}`))
	}))
	defer srv.Close()

	s := NewSearXNG(srv.URL+"/", 0)
	results, err := s.Search(context.Background(), "letters", Options{Count: 2})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 2 || results[1].Title != "b" {
		t.Errorf("results = %+v", results)
	}
}

func TestBraveSearch_Params(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("count") != "20" {
			t.Errorf("count = %q, want 20", q.Get("count"))
		}
		if q.Get("text_decorations") != "false" {
			t.Errorf("text_decorations = %q, want false", q.Get("text_decorations"))
		}
		if q.Get("search_lang") != "de" {
			t.Errorf("search_lang = %q, want de", q.Get("search_lang"))
		}
		w.Write([]byte(`{"web":{"results":[]}}`))
	}))
	defer srv.Close()

	b := NewBrave("k", 0)
	b.endpoint = srv.URL

	if _, err := b.Search(context.Background(), "q", Options{Count: 50, Language: "de"}); err != nil {
		t.Fatalf("Search() error: %v", err)
	}
}

func TestBraveSearch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := NewBrave("k", 0)
	b.endpoint = srv.URL

	_, err := b.Search(context.Background(), "q", Options{})
	if err == nil || !strings.Contains(err.Error(), "brave: HTTP 429") {
		t.Fatalf("expected brave HTTP 429 error, got %v", err)
	}
}

func TestSearXNGSearch_SkipsAnswersAndCleans(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[
			{"title":"Infobox","url":"","content":"no link"},
			{"title":" Go <strong>1.24</strong> ","url":"https://go.dev/doc/go1.24","content":"Release\nnotes  for\tGo"},
			{"title":"second","url":"https://b","content":"B"},
			{"title":"third","url":"https://c","content":"C"}
		]}`))
	}))
	defer srv.Close()

	s := NewSearXNG(srv.URL, 0)
	results, err := s.Search(context.Background(), "go", Options{Count: 2})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2: %+v", len(results), results)
	}
	if results[0].Title != "Go 1.24" {
		t.Errorf("Title = %q, want %q", results[0].Title, "Go 1.24")
	}
	if results[0].Snippet != "Release notes for Go" {
		t.Errorf("Snippet = %q, want %q", results[0].Snippet, "Release notes for Go")
	}
	if results[1].URL != "https://b" {
		t.Errorf("second URL = %q", results[1].URL)
	}
}

func TestSearXNGSearch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "json format disabled", http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewSearXNG(srv.URL, 0)
	_, err := s.Search(context.Background(), "q", Options{})
	if err == nil || !strings.Contains(err.Error(), "searxng: HTTP 403") {
		t.Fatalf("expected searxng HTTP 403 error, got %v", err)
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"  padded  ", "padded"},
		{"line one\nline two", "line one line two"},
		{"<strong>bold</strong> and <b>b</b> and <em>em</em>", "bold and b and em"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := cleanText(tt.in); got != tt.want {
			t.Errorf("cleanText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
