package imagegen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/sidekick/internal/events"
	"github.com/nugget/sidekick/internal/jobqueue"
	"github.com/nugget/sidekick/internal/usage"
)

// Queue is the job source the worker serves. *jobqueue.Queue satisfies it.
type Queue interface {
	Read() (jobqueue.Record, bool)
	Complete(prompt string) error
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// BatchRecorder persists processed batches. *usage.Store satisfies it.
type BatchRecorder interface {
	RecordBatch(ctx context.Context, b usage.Batch) error
}

// WorkerConfig configures a Worker. Queue and Batch are required.
type WorkerConfig struct {
	Queue Queue
	Batch *Batch

	// Viewer opens finished images. Nil skips showing results.
	Viewer Viewer
	// Pace is the delay between opening consecutive images. Defaults to 1s.
	Pace time.Duration
	// PollInterval is the idle delay between queue reads. Defaults to 1s.
	PollInterval time.Duration
	// Continuous keeps the worker running after a job. When false the
	// worker returns after one job and expects to be started again.
	Continuous bool
	// Watch wakes the worker as soon as the control file changes instead
	// of waiting out the poll interval.
	Watch bool

	Usage  BatchRecorder
	Events *events.Bus
	Logger *slog.Logger
}

// Worker serves the image job queue.
type Worker struct {
	cfg    WorkerConfig
	logger *slog.Logger
}

// NewWorker creates a worker.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Pace <= 0 {
		cfg.Pace = time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:    cfg,
		logger: logger.With("component", "image_worker"),
	}
}

// Run polls the queue until a pending job appears, processes it, and
// marks it done. In one-shot mode (the default) it then returns nil;
// otherwise it keeps polling until ctx is cancelled, returning ctx.Err().
// A job that cannot be marked done stops the worker in either mode,
// since the next read would return the same pending job.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wake <-chan struct{}
	if w.cfg.Watch {
		ch, err := w.cfg.Queue.Watch(ctx)
		if err != nil {
			w.logger.Warn("control file watch unavailable, polling only", "error", err)
		} else {
			wake = ch
		}
	}

	w.logger.Info("image worker started",
		"poll_interval", w.cfg.PollInterval,
		"continuous", w.cfg.Continuous,
		"watch", wake != nil,
	)

	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()

	for {
		if rec, ok := w.cfg.Queue.Read(); ok && rec.Pending {
			if _, err := w.Process(ctx, rec.Prompt); err != nil {
				return err
			}
			if !w.cfg.Continuous {
				return nil
			}
		}

		timer.Reset(w.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
		}
	}
}

// Process runs one job: generate the batch, show the results, and write
// the job back as not pending. The write-back happens even when every
// request failed so the same prompt is not retried forever. The error is
// non-nil only when the write-back fails; the batch is still recorded.
func (w *Worker) Process(ctx context.Context, prompt string) ([]string, error) {
	batchID := uuid.NewString()
	logger := w.logger.With("batch_id", batchID)
	start := time.Now()

	logger.Info("generating images", "prompt", prompt, "count", w.cfg.Batch.Count())
	w.cfg.Events.Emit(events.SourceImages, events.KindJobStarted, map[string]any{
		"batch_id": batchID,
		"prompt":   prompt,
		"count":    w.cfg.Batch.Count(),
	})

	saved, err := w.cfg.Batch.Run(ctx, batchID, prompt)
	if err != nil {
		logger.Error("image batch failed", "error", err)
	}

	switch {
	case len(saved) == 0:
		logger.Warn("no images saved")
	case w.cfg.Viewer != nil:
		if _, err := ShowResults(ctx, w.cfg.Batch.Dir(), BaseName(prompt), w.cfg.Viewer, w.cfg.Pace, logger); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("failed to show images", "error", err)
		}
	}

	completeErr := w.cfg.Queue.Complete(prompt)
	if completeErr != nil {
		logger.Error("failed to mark job complete", "error", completeErr)
		completeErr = fmt.Errorf("mark job complete: %w", completeErr)
	}

	elapsed := time.Since(start)
	if w.cfg.Usage != nil {
		err := w.cfg.Usage.RecordBatch(context.WithoutCancel(ctx), usage.Batch{
			ID:        batchID,
			Prompt:    prompt,
			Requested: w.cfg.Batch.Count(),
			Saved:     len(saved),
			Duration:  elapsed,
		})
		if err != nil {
			logger.Warn("failed to record image batch", "error", err)
		}
	}

	w.cfg.Events.Emit(events.SourceImages, events.KindBatchComplete, map[string]any{
		"batch_id":   batchID,
		"prompt":     prompt,
		"requested":  w.cfg.Batch.Count(),
		"saved":      len(saved),
		"elapsed_ms": elapsed.Milliseconds(),
	})
	return saved, completeErr
}
