package llm

import "context"

// Provider defines the interface for LLM providers.
type Provider interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// Name returns the name of this provider.
	Name() string
}

// StreamFunc receives incremental response text. Returning an error aborts
// the stream.
type StreamFunc func(delta string) error

// Streamer is implemented by providers that can stream tokens as they are
// generated. Callers should fall back to Complete for providers that don't.
type Streamer interface {
	// StreamComplete runs a completion, invoking fn for each content delta,
	// and returns the assembled final response.
	StreamComplete(ctx context.Context, req CompletionRequest, fn StreamFunc) (*CompletionResponse, error)
}

// StreamOrComplete streams when the provider supports it; otherwise it runs
// a plain completion and delivers the whole response as a single delta.
func StreamOrComplete(ctx context.Context, p Provider, req CompletionRequest, fn StreamFunc) (*CompletionResponse, error) {
	if s, ok := p.(Streamer); ok {
		return s.StreamComplete(ctx, req, fn)
	}
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Content != "" {
		if err := fn(resp.Content); err != nil {
			return nil, err
		}
	}
	return resp, nil
}
