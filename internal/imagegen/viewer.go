package imagegen

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// Viewer opens a saved image for the operator.
type Viewer interface {
	Open(ctx context.Context, path string) error
}

// SystemViewer opens files with an external command. The file path is
// appended as the last argument.
type SystemViewer struct {
	Command []string
}

// DefaultViewerCommand returns the platform's file opener.
func DefaultViewerCommand() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"open"}
	case "windows":
		return []string{"rundll32", "url.dll,FileProtocolHandler"}
	default:
		return []string{"xdg-open"}
	}
}

// NewSystemViewer returns a viewer running command, or the platform
// default when command is empty.
func NewSystemViewer(command []string) *SystemViewer {
	if len(command) == 0 {
		command = DefaultViewerCommand()
	}
	return &SystemViewer{Command: command}
}

// Open runs the viewer command for path and waits for it to exit.
func (v *SystemViewer) Open(ctx context.Context, path string) error {
	args := append(append([]string{}, v.Command[1:]...), path)
	cmd := exec.CommandContext(ctx, v.Command[0], args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", v.Command[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// MatchingFiles lists the files in dir whose names start with base,
// sorted by name.
func MatchingFiles(dir, base string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), base) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// ShowResults opens every file in dir matching base, pausing pace between
// opens. A file that fails to open is logged and skipped. It returns the
// number of files opened.
func ShowResults(ctx context.Context, dir, base string, viewer Viewer, pace time.Duration, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	paths, err := MatchingFiles(dir, base)
	if err != nil {
		return 0, fmt.Errorf("list images: %w", err)
	}
	if len(paths) == 0 {
		logger.Info("no files found for prompt", "base", base, "dir", dir)
		return 0, nil
	}

	opened := 0
	for i, path := range paths {
		if i > 0 && pace > 0 {
			select {
			case <-ctx.Done():
				return opened, ctx.Err()
			case <-time.After(pace):
			}
		}
		logger.Info("opening image", "path", path)
		if err := viewer.Open(ctx, path); err != nil {
			logger.Warn("unable to open image", "path", path, "error", err)
			continue
		}
		opened++
	}
	return opened, nil
}
