// Package conversation persists the chat log shared by chat and search
// modes as a JSON array of role/content turns.
package conversation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Role identifies the author of a turn.
type Role string

// Turn roles. System turns never reach the log in practice; personas and
// realtime context are composed per request.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the conversation log.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Store reads and writes the conversation log at a fixed path. It caches
// nothing: every call goes to disk so concurrent writers (another process,
// a manual edit) are always observed.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a store for the log at path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		logger: logger.With("component", "conversation"),
	}
}

// Path returns the log file location.
func (s *Store) Path() string {
	return s.path
}

// Init creates the parent directory and an empty log if none exists.
func (s *Store) Init() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat log: %w", err)
	}
	s.logger.Info("initializing empty conversation log", "path", s.path)
	return s.Save(nil)
}

// Load reads the whole log. A missing file is an empty log. A file that
// does not hold a JSON array of turns is also treated as empty and is
// rewritten as "[]" so the next reader sees a valid document. Only I/O
// failures are returned, always alongside an empty (non-nil) slice.
func (s *Store) Load() ([]Turn, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Turn{}, nil
	}
	if err != nil {
		return []Turn{}, fmt.Errorf("read log: %w", err)
	}

	var turns []Turn
	if len(bytes.TrimSpace(data)) == 0 {
		err = errors.New("empty file")
	} else {
		err = json.Unmarshal(data, &turns)
	}
	if err != nil || turns == nil {
		if err == nil {
			err = errors.New("document is not an array")
		}
		s.logger.Warn("conversation log unreadable, resetting", "path", s.path, "error", err)
		if saveErr := s.Save(nil); saveErr != nil {
			s.logger.Error("failed to heal conversation log", "path", s.path, "error", saveErr)
		}
		return []Turn{}, nil
	}
	return turns, nil
}

// Save replaces the log with turns. The document is written to a
// temporary file in the same directory and renamed into place.
func (s *Store) Save(turns []Turn) error {
	if turns == nil {
		turns = []Turn{}
	}
	data, err := json.MarshalIndent(turns, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal log: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp log: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp log: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace log: %w", err)
	}

	s.logger.Debug("conversation log saved", "turns", len(turns))
	return nil
}

// Append loads the log, adds turn, and saves it back.
func (s *Store) Append(turn Turn) error {
	turns, err := s.Load()
	if err != nil {
		return err
	}
	return s.Save(append(turns, turn))
}

// Reset replaces the log with an empty one.
func (s *Store) Reset() error {
	s.logger.Info("conversation log reset", "path", s.path)
	return s.Save(nil)
}
