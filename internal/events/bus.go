// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (chat and search
// orchestrators, image worker, API server) to subscribers (WebSocket
// handler, MQTT bridge). The bus is nil-safe: calling Publish on a nil
// *Bus is a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceChat identifies events from the chat orchestrator.
	SourceChat = "chat"
	// SourceSearch identifies events from the search orchestrator.
	SourceSearch = "search"
	// SourceImages identifies events from the image queue and worker.
	SourceImages = "images"
	// SourceUpstream identifies reachability changes of remote services.
	SourceUpstream = "upstream"
)

// Kind constants describe the type of event within a source.
const (
	// KindRequestStart signals the beginning of a chat or search request.
	// Data: request_id, model, history.
	KindRequestStart = "request_start"
	// KindRequestComplete signals a successful answer.
	// Data: request_id, model, tokens_in, tokens_out, chunks, skipped,
	// elapsed_ms.
	KindRequestComplete = "request_complete"
	// KindRequestFailed signals a failed model call. The conversation
	// log has been reset.
	// Data: request_id, model, error, model_error.
	KindRequestFailed = "request_failed"

	// KindJobSubmitted signals a producer wrote a pending image job.
	// Data: prompt.
	KindJobSubmitted = "job_submitted"
	// KindJobStarted signals the worker picked up a pending job.
	// Data: batch_id, prompt, count.
	KindJobStarted = "job_started"
	// KindImageSaved signals one image of a batch was written to disk.
	// Data: batch_id, ordinal, path, bytes.
	KindImageSaved = "image_saved"
	// KindImageFailed signals one request of a batch failed.
	// Data: batch_id, ordinal, error.
	KindImageFailed = "image_failed"
	// KindBatchComplete signals the job was written back as not pending.
	// Data: batch_id, prompt, requested, saved, elapsed_ms.
	KindBatchComplete = "image_batch_complete"

	// KindServiceUp signals a remote service answered a probe after
	// being unknown or down.
	// Data: service.
	KindServiceUp = "service_up"
	// KindServiceDown signals a remote service stopped answering, or
	// never answered during startup.
	// Data: service, error.
	KindServiceDown = "service_down"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full; drop the event.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// Emit publishes an event stamped with the current time. Safe to call
// on a nil receiver (no-op).
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{
		Timestamp: time.Now(),
		Source:    source,
		Kind:      kind,
		Data:      data,
	})
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
