package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/chatbattles/chatbattles/internal/httputil"
	"github.com/chatbattles/chatbattles/internal/providers"
	"github.com/chatbattles/chatbattles/internal/sanitize"
)

type contentEvent struct {
	Content string `json:"content"`
}

type errorEvent struct {
	Error string `json:"error"`
}

// relayStream forwards provider chunks to the client as SSE events. Each text
// chunk is sanitized in chunk mode (control tokens removed, whitespace left
// alone so concatenation stays correct) and forwarded even when sanitization
// leaves it empty, so the client sees every chunk boundary. Returns the
// terminal status: completed, error, or disconnected.
func relayStream(ctx context.Context, w http.ResponseWriter, reqID string, chunks <-chan providers.StreamChunk) string {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w, reqID, "Streaming not supported")
		return "error"
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			// Client went away; the adapter stops on the same ctx.
			slog.Info("stream client disconnected", "request_id", reqID)
			return "disconnected"
		case chunk, open := <-chunks:
			if !open {
				fmt.Fprintf(w, "data: [DONE]\n\n")
				flusher.Flush()
				return "completed"
			}
			if chunk.Err != nil {
				slog.Error("stream chunk error", "request_id", reqID, "error", chunk.Err)
				writeEvent(w, flusher, errorEvent{Error: "The model stream was interrupted. Please try again."})
				fmt.Fprintf(w, "data: [DONE]\n\n")
				flusher.Flush()
				return "error"
			}

			writeEvent(w, flusher, contentEvent{Content: sanitize.Clean(chunk.Text, true)})
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev any) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
