package llm

import "context"

// Client is the interface the orchestrators use to reach the model.
type Client interface {
	// Stream sends a completion request and reads the streamed answer
	// to the end. If callback is non-nil, content fragments are
	// forwarded to it in arrival order.
	Stream(ctx context.Context, req Request, callback StreamCallback) (*Response, error)
}
