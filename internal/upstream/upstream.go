// Package upstream tracks whether the remote services Sidekick depends
// on are reachable: the completion API, the image inference endpoint,
// and a self-hosted search backend.
//
// This is separate from the per-request retry in httpkit. A [Monitor]
// probes each service on a schedule: first with exponential backoff
// until it answers (or the startup attempts run out), then at a fixed
// interval. Every up/down transition is logged and emitted on the event
// bus, so the API and MQTT bridge see outages without polling.
package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/nugget/sidekick/internal/events"
	"github.com/nugget/sidekick/internal/httpkit"
)

// Probe checks one service. It returns nil when the service is usable.
type Probe func(ctx context.Context) error

// Schedule controls probe timing. Zero fields take the values from
// [DefaultSchedule].
type Schedule struct {
	// Initial is the delay after the first failed startup probe.
	Initial time.Duration
	// Max caps the startup backoff delay.
	Max time.Duration
	// Factor grows the delay after each failed startup probe.
	Factor float64
	// Attempts is the number of startup probes before falling back to
	// the regular interval.
	Attempts int
	// Interval is the delay between probes after startup.
	Interval time.Duration
	// Timeout bounds a single probe.
	Timeout time.Duration
}

// DefaultSchedule backs off 2s, 4s, 8s ... up to 60s for 8 attempts,
// then probes every minute.
func DefaultSchedule() Schedule {
	return Schedule{
		Initial:  2 * time.Second,
		Max:      60 * time.Second,
		Factor:   2,
		Attempts: 8,
		Interval: time.Minute,
		Timeout:  10 * time.Second,
	}
}

func (s Schedule) withDefaults() Schedule {
	d := DefaultSchedule()
	if s.Initial <= 0 {
		s.Initial = d.Initial
	}
	if s.Max <= 0 {
		s.Max = d.Max
	}
	if s.Factor < 1 {
		s.Factor = d.Factor
	}
	if s.Attempts <= 0 {
		s.Attempts = d.Attempts
	}
	if s.Interval <= 0 {
		s.Interval = d.Interval
	}
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	return s
}

// State is the last known reachability of one service.
type State struct {
	Name    string    `json:"name"`
	Up      bool      `json:"up"`
	Checked time.Time `json:"checked,omitzero"`
	Since   time.Time `json:"since,omitzero"`
	Error   string    `json:"error,omitempty"`
}

type service struct {
	probe  Probe
	sched  Schedule
	bus    *events.Bus
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state State
}

func (s *service) snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *service) run(ctx context.Context) {
	defer close(s.done)

	delay := s.sched.Initial
	for attempt := 1; ; attempt++ {
		err := s.check(ctx)
		if err == nil {
			break
		}
		if attempt >= s.sched.Attempts {
			s.logger.Warn("service unreachable after startup probes, polling", "attempts", attempt, "error", err)
			s.bus.Emit(events.SourceUpstream, events.KindServiceDown, map[string]any{
				"service": s.state.Name,
				"error":   err.Error(),
			})
			break
		}
		s.logger.Debug("startup probe failed", "attempt", attempt, "next", delay, "error", err)
		if !sleep(ctx, delay) {
			return
		}
		delay = min(time.Duration(float64(delay)*s.sched.Factor), s.sched.Max)
	}

	ticker := time.NewTicker(s.sched.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

// check runs one probe, records the result, and reports a transition
// when reachability changed.
func (s *service) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, s.sched.Timeout)
	err := s.probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	now := time.Now()
	s.mu.Lock()
	wasUp := s.state.Up
	s.state.Up = err == nil
	s.state.Checked = now
	s.state.Error = ""
	if err != nil {
		s.state.Error = err.Error()
	}
	changed := wasUp != s.state.Up
	if changed {
		s.state.Since = now
	}
	name := s.state.Name
	s.mu.Unlock()

	switch {
	case changed && err == nil:
		s.logger.Info("service reachable")
		s.bus.Emit(events.SourceUpstream, events.KindServiceUp, map[string]any{"service": name})
	case changed:
		s.logger.Warn("service became unreachable", "error", err)
		s.bus.Emit(events.SourceUpstream, events.KindServiceDown, map[string]any{
			"service": name,
			"error":   err.Error(),
		})
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Monitor probes a set of named services in the background.
type Monitor struct {
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.RWMutex
	services map[string]*service
}

// NewMonitor creates a monitor that reports transitions on bus. A nil
// bus disables the events; transitions are still logged.
func NewMonitor(bus *events.Bus, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		bus:      bus,
		logger:   logger.With("component", "upstream"),
		services: make(map[string]*service),
	}
}

// Add starts probing a service until ctx is cancelled or Stop is
// called. Adding a name that is already watched replaces the old probe.
func (m *Monitor) Add(ctx context.Context, name string, probe Probe, sched Schedule) {
	ctx, cancel := context.WithCancel(ctx)
	svc := &service{
		probe:  probe,
		sched:  sched.withDefaults(),
		bus:    m.bus,
		logger: m.logger.With("service", name),
		cancel: cancel,
		done:   make(chan struct{}),
		state:  State{Name: name},
	}

	m.mu.Lock()
	old := m.services[name]
	m.services[name] = svc
	m.mu.Unlock()

	if old != nil {
		old.cancel()
		<-old.done
	}
	go svc.run(ctx)
}

// Snapshot returns the current state of every service.
func (m *Monitor) Snapshot() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]State, len(m.services))
	for name, svc := range m.services {
		out[name] = svc.snapshot()
	}
	return out
}

// Down returns the sorted names of services that are not reachable.
func (m *Monitor) Down() []string {
	var down []string
	for name, st := range m.Snapshot() {
		if !st.Up {
			down = append(down, name)
		}
	}
	sort.Strings(down)
	return down
}

// Stop halts every probe and waits for them to exit.
func (m *Monitor) Stop() {
	m.mu.RLock()
	svcs := make([]*service, 0, len(m.services))
	for _, svc := range m.services {
		svcs = append(svcs, svc)
	}
	m.mu.RUnlock()

	for _, svc := range svcs {
		svc.cancel()
		<-svc.done
	}
}

// HTTPProbe returns a probe that sends GET url with header. Transport
// errors, 401/403 (bad credentials), and 5xx responses are failures;
// any other status counts as reachable.
func HTTPProbe(client *http.Client, url string, header http.Header) Probe {
	if client == nil {
		client = httpkit.NewClient()
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		for k, v := range header {
			req.Header[k] = v
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		httpkit.DrainAndClose(resp.Body, 64<<10)

		switch {
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("credentials rejected: HTTP %d", resp.StatusCode)
		case resp.StatusCode >= 500:
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return nil
	}
}

// BearerHeader returns an Authorization header carrying token.
func BearerHeader(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}
