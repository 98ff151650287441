// Package jobqueue implements the one-slot image job queue: a single
// control file holding "<prompt>,<pending>". A producer overwrites it
// with a pending job; the image worker reads it, processes the job, and
// writes it back with pending=false, keeping the prompt for reference.
package jobqueue

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Record is the single job held by the control file.
type Record struct {
	Prompt  string `json:"prompt"`
	Pending bool   `json:"pending"`
}

// String renders the record in control file form.
func (r Record) String() string {
	return r.Prompt + "," + strconv.FormatBool(r.Pending)
}

// Parse decodes control file content. ok is false when the content holds
// no job: empty, or missing the comma separating prompt from status.
// Only the last comma separates; the prompt may contain commas.
func Parse(content string) (rec Record, ok bool) {
	content = strings.TrimSpace(content)
	i := strings.LastIndex(content, ",")
	if i < 0 {
		return Record{}, false
	}
	status := strings.TrimSpace(content[i+1:])
	return Record{
		Prompt:  strings.TrimSpace(content[:i]),
		Pending: truthy(status),
	}, true
}

func truthy(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// Queue reads and writes the control file at a fixed path.
type Queue struct {
	path   string
	logger *slog.Logger
}

// New creates a queue backed by the control file at path.
func New(path string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		path:   path,
		logger: logger.With("component", "jobqueue"),
	}
}

// Path returns the control file location.
func (q *Queue) Path() string {
	return q.path
}

// Read returns the current job. ok is false when there is nothing to do:
// the file is missing, unreadable, empty, or malformed.
func (q *Queue) Read() (Record, bool) {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if !os.IsNotExist(err) {
			q.logger.Warn("control file unreadable", "path", q.path, "error", err)
		}
		return Record{}, false
	}
	rec, ok := Parse(string(data))
	if !ok && len(strings.TrimSpace(string(data))) > 0 {
		q.logger.Debug("control file malformed, ignoring", "path", q.path)
	}
	return rec, ok
}

// Write replaces the control file with rec. The content is written to a
// temporary file and renamed into place, so a concurrent reader sees
// either the old record or the new one.
func (q *Queue) Write(rec Record) error {
	dir := filepath.Dir(q.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create control directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(q.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp control file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(rec.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("write control file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close control file: %w", err)
	}
	if err := os.Rename(tmpName, q.path); err != nil {
		return fmt.Errorf("replace control file: %w", err)
	}

	q.logger.Debug("control file written", "prompt", rec.Prompt, "pending", rec.Pending)
	return nil
}

// Submit enqueues prompt as the pending job, replacing whatever was there.
func (q *Queue) Submit(prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return fmt.Errorf("empty prompt")
	}
	return q.Write(Record{Prompt: prompt, Pending: true})
}

// Complete marks the current job done, keeping its prompt.
func (q *Queue) Complete(prompt string) error {
	return q.Write(Record{Prompt: prompt, Pending: false})
}
