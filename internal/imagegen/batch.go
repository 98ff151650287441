package imagegen

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/sidekick/internal/events"
	"github.com/nugget/sidekick/internal/prompts"
)

// DefaultCount is the number of images requested per prompt.
const DefaultCount = 4

// maxSeed is the largest seed drawn by the default seed source.
const maxSeed = 1_000_000

// Generator produces one image per call. *Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string, seed int) (*Image, error)
}

// BatchConfig configures a Batch. Generator and Dir are required.
type BatchConfig struct {
	Generator Generator
	// Dir receives the saved images.
	Dir string
	// Count is the number of parallel requests. Defaults to DefaultCount.
	Count int
	// Seed returns a seed for one request. Defaults to a uniform draw
	// from [0, 1000000].
	Seed func() int

	Events *events.Bus
	Logger *slog.Logger
}

// Batch fans one prompt out to several independent generation requests.
type Batch struct {
	gen    Generator
	dir    string
	count  int
	seed   func() int
	events *events.Bus
	logger *slog.Logger
}

// NewBatch creates a batch runner.
func NewBatch(cfg BatchConfig) *Batch {
	b := &Batch{
		gen:    cfg.Generator,
		dir:    cfg.Dir,
		count:  cfg.Count,
		seed:   cfg.Seed,
		events: cfg.Events,
		logger: cfg.Logger,
	}
	if b.count <= 0 {
		b.count = DefaultCount
	}
	if b.seed == nil {
		b.seed = func() int { return rand.IntN(maxSeed + 1) }
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "imagegen")
	return b
}

// Count returns the number of requests per batch.
func (b *Batch) Count() int {
	return b.count
}

// Dir returns the directory images are saved to.
func (b *Batch) Dir() string {
	return b.dir
}

// outcome is the result of one request, kept by request index.
type outcome struct {
	img *Image
	err error
}

// Run generates images for prompt and saves every successful one as
// <base><ordinal>.<ext>, where ordinal is the 1-based request index.
// Individual failures are logged and skipped; they never cancel the
// other requests. Run returns the saved paths in ordinal order once all
// requests have finished. The error is non-nil only when the output
// directory cannot be created.
func (b *Batch) Run(ctx context.Context, batchID, prompt string) ([]string, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image directory: %w", err)
	}

	enhanced := prompts.EnhanceImagePrompt(prompt)
	results := make([]outcome, b.count)
	start := time.Now()

	var g errgroup.Group
	for i := range results {
		seed := b.seed()
		g.Go(func() error {
			img, err := b.gen.Generate(ctx, enhanced, seed)
			results[i] = outcome{img: img, err: err}
			return nil
		})
	}
	g.Wait()

	base := BaseName(prompt)
	var saved []string
	for i, r := range results {
		ordinal := i + 1
		logger := b.logger.With("batch_id", batchID, "ordinal", ordinal)

		if r.err != nil {
			logger.Warn("image generation failed", "error", r.err)
			b.events.Emit(events.SourceImages, events.KindImageFailed, map[string]any{
				"batch_id": batchID,
				"ordinal":  ordinal,
				"error":    r.err.Error(),
			})
			continue
		}

		path := filepath.Join(b.dir, fmt.Sprintf("%s%d.%s", base, ordinal, Extension(r.img.ContentType)))
		if err := os.WriteFile(path, r.img.Data, 0o644); err != nil {
			logger.Error("failed to save image", "path", path, "error", err)
			b.events.Emit(events.SourceImages, events.KindImageFailed, map[string]any{
				"batch_id": batchID,
				"ordinal":  ordinal,
				"error":    err.Error(),
			})
			continue
		}

		logger.Info("image saved", "path", path, "bytes", len(r.img.Data))
		b.events.Emit(events.SourceImages, events.KindImageSaved, map[string]any{
			"batch_id": batchID,
			"ordinal":  ordinal,
			"path":     path,
			"bytes":    len(r.img.Data),
		})
		saved = append(saved, path)
	}

	b.logger.Info("batch finished",
		"batch_id", batchID,
		"requested", b.count,
		"saved", len(saved),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return saved, nil
}

// BaseName returns the file name stem used for images of prompt.
func BaseName(prompt string) string {
	return Sanitize(prompt)
}
