package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/nugget/sidekick/internal/config"
	"github.com/nugget/sidekick/internal/conversation"
	"github.com/nugget/sidekick/internal/jobqueue"
)

// clearUmask sets the process umask to 0 so file permission assertions are
// deterministic. It restores the original umask when the test completes.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

// writeConfig writes a config.yaml into a fresh temp directory whose data
// directory is that same directory. extra is appended verbatim.
func writeConfig(t *testing.T, extra string) (path, dir string) {
	t.Helper()
	dir = t.TempDir()
	content := fmt.Sprintf("data_dir: %s\nlog_level: warn\n%s", dir, extra)
	path = filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path, dir
}

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), strings.NewReader(stdin), &stdout, &stderr, args)
	return stdout.String(), err
}

// completionServer fakes an OpenAI-compatible streaming endpoint that
// answers every request with answer, split into two chunks. Request
// bodies are passed to inspect.
func completionServer(t *testing.T, answer string, inspect func(body []byte)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if inspect != nil {
			inspect(body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		half := len(answer) / 2
		for _, part := range []string{answer[:half], answer[half:]} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"model\":\"llama-3.3-70b-versatile\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		out, err := runCmd(t, "", args...)
		if err != nil {
			t.Fatalf("run(%v) error: %v", args, err)
		}
		if !strings.Contains(out, "Usage: sidekick") {
			t.Errorf("run(%v) output missing usage:\n%s", args, out)
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"launch"}, "unknown command: launch"},
		{"unknown flag", []string{"-verbose"}, "unknown flag: -verbose"},
		{"bad output", []string{"-o", "xml", "version"}, "unknown output format"},
		{"image without prompt", []string{"image"}, "usage: sidekick image"},
		{"missing config", []string{"-config", "/nonexistent/config.yaml", "status"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCmd(t, "", tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestRun_Version(t *testing.T) {
	out, err := runCmd(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Sidekick") || !strings.Contains(out, "go_version:") {
		t.Errorf("text output:\n%s", out)
	}

	out, err = runCmd(t, "", "-o", "json", "version")
	if err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("json output: %v\n%s", err, out)
	}
	if info["version"] == "" {
		t.Error("version missing from JSON output")
	}
}

func TestRun_ChatMissingKey(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	_, err := runCmd(t, "", "-config", cfgPath, "chat", "hi")
	if err == nil || !strings.Contains(err.Error(), "groq.api_key") {
		t.Errorf("error = %v, want missing groq.api_key", err)
	}
}

func TestRun_ChatOneShot(t *testing.T) {
	var sent map[string]any
	srv := completionServer(t, "Hello there!</s>", func(body []byte) { json.Unmarshal(body, &sent) })
	cfgPath, dir := writeConfig(t, fmt.Sprintf("groq:\n  api_key: test\n  base_url: %s\n", srv.URL))

	out, err := runCmd(t, "", "-config", cfgPath, "chat", "how", "are", "you?")
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if strings.TrimSpace(out) != "Hello there!" {
		t.Errorf("answer = %q", out)
	}

	msgs, _ := sent["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("sent %d messages, want persona + clock + question", len(msgs))
	}
	last, _ := msgs[2].(map[string]any)
	if last["content"] != "how are you?" {
		t.Errorf("question sent = %v", last["content"])
	}

	turns, err := conversation.NewStore(filepath.Join(dir, "ChatLog.json"), nil).Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 || turns[1].Content != "Hello there!" {
		t.Errorf("conversation log = %+v", turns)
	}
}

func TestRun_ChatREPL(t *testing.T) {
	srv := completionServer(t, "Sure.", nil)
	cfgPath, dir := writeConfig(t, fmt.Sprintf("groq:\n  api_key: test\n  base_url: %s\n", srv.URL))

	out, err := runCmd(t, "first\n\nsecond\nexit\nnever asked\n", "-config", cfgPath, "chat")
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if n := strings.Count(out, "Sure."); n != 2 {
		t.Errorf("answers printed = %d, want 2:\n%s", n, out)
	}
	if !strings.Contains(out, "Enter Your Question: ") {
		t.Errorf("prompt missing:\n%s", out)
	}

	turns, _ := conversation.NewStore(filepath.Join(dir, "ChatLog.json"), nil).Load()
	if len(turns) != 4 {
		t.Errorf("conversation log has %d turns, want 4", len(turns))
	}
}

func TestRun_SearchGrounded(t *testing.T) {
	searx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results":[{"title":"Tide Tables","url":"https://tides.example","content":"High tide at 6pm"}]}`)
	}))
	defer searx.Close()

	var sent string
	srv := completionServer(t, "High tide is at 6pm.", func(body []byte) { sent = string(body) })
	cfgPath, _ := writeConfig(t, fmt.Sprintf(
		"groq:\n  api_key: test\n  base_url: %s\nsearch:\n  provider: searxng\n  searxng:\n    url: %s\n",
		srv.URL, searx.URL))

	out, err := runCmd(t, "", "-config", cfgPath, "search", "when is high tide")
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if strings.TrimSpace(out) != "High tide is at 6pm." {
		t.Errorf("answer = %q", out)
	}
	for _, want := range []string{"Use This Real-time Information", "Title: Tide Tables", "Hello, how can I help you?"} {
		if !strings.Contains(sent, want) {
			t.Errorf("request body missing %q", want)
		}
	}
}

func TestRun_ImageStatusReset(t *testing.T) {
	cfgPath, dir := writeConfig(t, "")

	out, err := runCmd(t, "", "-config", cfgPath, "image", "a", "red", "kite")
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	if !strings.Contains(out, "a red kite") {
		t.Errorf("image output = %q", out)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "ImageGeneration.data"))
	if string(data) != "a red kite,true" {
		t.Errorf("control file = %q", data)
	}

	out, err = runCmd(t, "", "-config", cfgPath, "-o", "json", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var report statusReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("status json: %v\n%s", err, out)
	}
	if !report.Pending || report.Prompt != "a red kite" {
		t.Errorf("status = %+v", report)
	}

	out, err = runCmd(t, "", "-config", cfgPath, "status")
	if err != nil || !strings.Contains(out, "pending: a red kite") {
		t.Errorf("text status = %q, err = %v", out, err)
	}

	logPath := filepath.Join(dir, "ChatLog.json")
	os.WriteFile(logPath, []byte(`[{"role":"user","content":"x"}]`), 0o644)
	if _, err := runCmd(t, "", "-config", cfgPath, "reset"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if turns, _ := conversation.NewStore(logPath, nil).Load(); len(turns) != 0 {
		t.Errorf("log after reset = %+v", turns)
	}
}

func TestRun_WorkerOneShot(t *testing.T) {
	hf := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png"))
	}))
	defer hf.Close()

	cfgPath, dir := writeConfig(t, fmt.Sprintf(
		"huggingface:\n  api_key: hf_test\n  model_url: %s\nimages:\n  count: 2\n  show: false\n  poll_interval: 10ms\n",
		hf.URL))

	q := jobqueue.New(filepath.Join(dir, "ImageGeneration.data"), nil)
	if err := q.Submit("blue moon"); err != nil {
		t.Fatal(err)
	}

	if _, err := runCmd(t, "", "-config", cfgPath, "worker"); err != nil {
		t.Fatalf("worker: %v", err)
	}

	for _, name := range []string{"blue_moon1.png", "blue_moon2.png"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	if rec, _ := q.Read(); rec.Pending {
		t.Error("job still pending after worker exit")
	}
}

func TestRun_WorkerMissingKey(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	_, err := runCmd(t, "", "-config", cfgPath, "worker")
	if err == nil || !strings.Contains(err.Error(), "huggingface.api_key") {
		t.Errorf("error = %v", err)
	}
}

func TestNewMonitor(t *testing.T) {
	var paths sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths.Store(r.URL.Path, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfgPath, _ := writeConfig(t, fmt.Sprintf(
		"groq:\n  api_key: gsk\n  base_url: %s/v1\nsearch:\n  provider: searxng\n  searxng:\n    url: %s/searx\n",
		srv.URL, srv.URL))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}

	m := newMonitor(context.Background(), cfg, nil, nil)
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for len(m.Down()) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	snap := m.Snapshot()
	if len(snap) != 2 || !snap["groq"].Up || !snap["searxng"].Up {
		t.Fatalf("snapshot = %+v", snap)
	}
	if auth, _ := paths.Load("/v1/models"); auth != "Bearer gsk" {
		t.Errorf("groq probe auth = %v", auth)
	}
	if _, ok := paths.Load("/searx"); !ok {
		t.Error("searxng was not probed")
	}
}

func TestRunInit(t *testing.T) {
	clearUmask(t)
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	cfgInfo, err := os.Stat(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if got := cfgInfo.Mode().Perm(); got != 0o600 {
		t.Errorf("config.yaml permissions = %o, want 0600", got)
	}
	if data, _ := os.ReadFile(filepath.Join(dir, "Data", "ChatLog.json")); strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("ChatLog.json = %q, want []", data)
	}
	if !strings.Contains(buf.String(), "✓") {
		t.Errorf("output missing ✓ markers:\n%s", buf.String())
	}

	// The example config must load as-is.
	if _, err := config.Load(filepath.Join(dir, "config.yaml")); err != nil {
		t.Errorf("example config does not load: %v", err)
	}

	// A second run leaves edited files alone.
	sentinel := []byte("# edited\n")
	os.WriteFile(filepath.Join(dir, "config.yaml"), sentinel, 0o600)
	buf.Reset()
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("second runInit failed: %v", err)
	}
	if got, _ := os.ReadFile(filepath.Join(dir, "config.yaml")); !bytes.Equal(got, sentinel) {
		t.Error("config.yaml was overwritten")
	}
	if !strings.Contains(buf.String(), "exists, skipping") {
		t.Errorf("output missing skip marker:\n%s", buf.String())
	}
}

func TestWriteIfMissing(t *testing.T) {
	clearUmask(t)
	path := filepath.Join(t.TempDir(), "f.txt")

	created, err := writeIfMissing(path, []byte("one"), 0o640)
	if err != nil || !created {
		t.Fatalf("first write: created=%v err=%v", created, err)
	}
	created, err = writeIfMissing(path, []byte("two"), 0o640)
	if err != nil || created {
		t.Fatalf("second write: created=%v err=%v", created, err)
	}
	if data, _ := os.ReadFile(path); string(data) != "one" {
		t.Errorf("content = %q", data)
	}
	if info, _ := os.Stat(path); info.Mode().Perm() != 0o640 {
		t.Errorf("perm = %o", info.Mode().Perm())
	}
}
