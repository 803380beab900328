package providers

import (
	"context"

	"github.com/chatbattles/chatbattles/internal/types"
)

// CompletionOptions are the sampling parameters a caller may request. Either
// field may be nil; adapters omit nil parameters from the wire request, which
// also covers models that reject them outright.
type CompletionOptions struct {
	Temperature *float64
	MaxTokens   *int
}

// StreamChunk is one element of a provider token stream. A chunk carries
// either text or a terminal error; the channel closes after the final chunk.
type StreamChunk struct {
	Text string
	Err  error
}

// Adapter converts the canonical message format into one provider family's
// wire format and back. Implementations surface failures as *ProviderError
// and never swallow them.
type Adapter interface {
	Name() string
	Family() types.ProviderFamily
	Complete(ctx context.Context, modelID string, msgs []types.Message, opts CompletionOptions) (string, error)
}

// StreamingAdapter is implemented by adapters whose backend can produce an
// incremental token stream. Cancelling ctx must stop the upstream read
// promptly; both full consumption and early cancellation are valid terminal
// states.
type StreamingAdapter interface {
	Adapter
	Stream(ctx context.Context, modelID string, msgs []types.Message, opts CompletionOptions) (<-chan StreamChunk, error)
}
