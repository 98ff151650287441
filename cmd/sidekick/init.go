package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/sidekick/examples"
	"github.com/nugget/sidekick/internal/conversation"
)

// runInit initializes a Sidekick working directory: an example
// config.yaml, the data directory, and an empty conversation log.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Sidekick workspace in %s\n", dir)

	dataDir := filepath.Join(dir, "Data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}

	// The config holds API keys once edited, so keep it private.
	configPath := filepath.Join(dir, "config.yaml")
	created, err := writeIfMissing(configPath, examples.ConfigYAML, 0o600)
	if err != nil {
		return err
	}
	report(w, configPath, created)

	log := conversation.NewStore(filepath.Join(dataDir, "ChatLog.json"), nil)
	_, statErr := os.Stat(log.Path())
	if err := log.Init(); err != nil {
		return fmt.Errorf("create conversation log: %w", err)
	}
	report(w, log.Path(), os.IsNotExist(statErr))

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml to add your API keys, then try: sidekick chat")
	return nil
}

func report(w io.Writer, path string, created bool) {
	if created {
		fmt.Fprintf(w, "  ✓ %s\n", path)
	} else {
		fmt.Fprintf(w, "  · %s (exists, skipping)\n", path)
	}
}

// writeIfMissing writes content to path only if the file does not
// already exist, so init never overwrites user customizations. It
// reports whether the file was created.
func writeIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, f.Close()
}
