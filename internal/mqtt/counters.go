package mqtt

import (
	"sync"
	"time"

	"github.com/nugget/sidekick/internal/events"
)

// Counts is a snapshot of the daily activity counters.
type Counts struct {
	Requests     int64 `json:"requests"`
	Failures     int64 `json:"failures"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	ImagesSaved  int64 `json:"images_saved"`
	Batches      int64 `json:"batches"`
}

// DailyCounters accumulates activity from bus events and resets at
// local midnight. It is safe for concurrent use.
type DailyCounters struct {
	mu       sync.Mutex
	counts   Counts
	resetDay int // day-of-year of last reset
	loc      *time.Location
	now      func() time.Time
}

// NewDailyCounters creates counters using loc for midnight detection.
// If loc is nil, [time.Local] is used.
func NewDailyCounters(loc *time.Location) *DailyCounters {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyCounters{loc: loc, now: time.Now}
	d.resetDay = d.now().In(loc).YearDay()
	return d
}

// Observe folds one bus event into the counters. Events that carry no
// countable activity are ignored.
func (d *DailyCounters) Observe(e events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	switch e.Kind {
	case events.KindRequestComplete:
		d.counts.Requests++
		d.counts.InputTokens += toInt64(e.Data["tokens_in"])
		d.counts.OutputTokens += toInt64(e.Data["tokens_out"])
	case events.KindRequestFailed:
		d.counts.Requests++
		d.counts.Failures++
	case events.KindImageSaved:
		d.counts.ImagesSaved++
	case events.KindBatchComplete:
		d.counts.Batches++
	}
}

// Snapshot returns the current totals after checking for midnight
// rollover.
func (d *DailyCounters) Snapshot() Counts {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	return d.counts
}

// maybeReset zeroes the counters if the local day-of-year has changed.
// Must be called with d.mu held.
func (d *DailyCounters) maybeReset() {
	today := d.now().In(d.loc).YearDay()
	if today != d.resetDay {
		d.counts = Counts{}
		d.resetDay = today
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
