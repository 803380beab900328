package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chatbattles/chatbattles/internal/config"
	"github.com/chatbattles/chatbattles/internal/types"
)

func newChatTestAdapter(baseURL string) *ChatAdapter {
	cfg := config.ProviderConfig{BaseURL: baseURL, APIKey: "test-key"}
	return NewChatAdapter("openrouter", types.FamilyChatCompletion, cfg, http.DefaultClient)
}

func TestChatComplete(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"hi there"}}]}`)
	}))
	defer server.Close()

	a := newChatTestAdapter(server.URL)
	msgs := []types.Message{types.TextMessage(types.RoleUser, "hello")}
	temp := 0.7
	got, err := a.Complete(context.Background(), "test-model", msgs, CompletionOptions{Temperature: &temp})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "hi there" {
		t.Errorf("expected 'hi there', got %q", got)
	}

	// Single-text messages marshal as plain string content.
	messages := gotBody["messages"].([]any)
	first := messages[0].(map[string]any)
	if _, ok := first["content"].(string); !ok {
		t.Errorf("expected string content, got %T", first["content"])
	}
	if gotBody["temperature"] != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", gotBody["temperature"])
	}
	if _, present := gotBody["max_tokens"]; present {
		t.Error("nil max_tokens must be omitted")
	}
}

func TestChatComplete_MultimodalParts(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"a bike"}}]}`)
	}))
	defer server.Close()

	a := newChatTestAdapter(server.URL)
	msgs := []types.Message{{
		Role: types.RoleUser,
		Parts: []types.ContentPart{
			{Kind: types.PartText, Text: "what is this"},
			{Kind: types.PartImage, URL: "data:image/png;base64,AAAA"},
		},
	}}
	if _, err := a.Complete(context.Background(), "vision-model", msgs, CompletionOptions{}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	messages := gotBody["messages"].([]any)
	content := messages[0].(map[string]any)["content"].([]any)
	if len(content) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(content))
	}
	if content[0].(map[string]any)["type"] != "text" {
		t.Error("first part must be text")
	}
	img := content[1].(map[string]any)
	if img["type"] != "image_url" {
		t.Error("second part must be image_url")
	}
	if img["image_url"].(map[string]any)["url"] != "data:image/png;base64,AAAA" {
		t.Error("image url not preserved")
	}
}

func TestChatComplete_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"upstream exploded","code":"server_error"}}`)
	}))
	defer server.Close()

	a := newChatTestAdapter(server.URL)
	_, err := a.Complete(context.Background(), "m", []types.Message{types.TextMessage(types.RoleUser, "x")}, CompletionOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if pe.StatusCode != 500 {
		t.Errorf("expected status 500, got %d", pe.StatusCode)
	}
	if !strings.Contains(pe.Message, "upstream exploded") {
		t.Errorf("provider message lost: %q", pe.Message)
	}
	if !IsServerError(err) {
		t.Error("IsServerError must classify a 500")
	}
}

func TestChatComplete_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
	}))
	defer server.Close()

	a := newChatTestAdapter(server.URL)
	_, err := a.Complete(context.Background(), "m", []types.Message{types.TextMessage(types.RoleUser, "x")}, CompletionOptions{})
	if !IsRateLimited(err) {
		t.Errorf("expected rate-limited classification, got %v", err)
	}
}

func TestChatComplete_MissingAPIKey(t *testing.T) {
	a := NewChatAdapter("openrouter", types.FamilyChatCompletion, config.ProviderConfig{BaseURL: "http://unused"}, http.DefaultClient)
	_, err := a.Complete(context.Background(), "m", []types.Message{types.TextMessage(types.RoleUser, "x")}, CompletionOptions{})
	if !IsMissingCredentials(err) {
		t.Errorf("expected missing-credentials error, got %v", err)
	}
}

func TestChatComplete_DeadlineExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer server.Close()

	a := newChatTestAdapter(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.Complete(ctx, "m", []types.Message{types.TextMessage(types.RoleUser, "x")}, CompletionOptions{})
	if !IsTimeout(err) {
		t.Errorf("expected timeout classification, got %v", err)
	}
}

func TestChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &body)
		if body["stream"] != true {
			t.Error("expected stream:true in request")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		chunks := []string{
			`{"choices":[{"index":0,"delta":{"content":"Hello"},"finish_reason":null}]}`,
			`{"choices":[{"index":0,"delta":{"content":" world"},"finish_reason":null}]}`,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	a := newChatTestAdapter(server.URL)
	ch, err := a.Stream(context.Background(), "m", []types.Message{types.TextMessage(types.RoleUser, "hi")}, CompletionOptions{})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	var got []string
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("unexpected stream error: %v", chunk.Err)
		}
		got = append(got, chunk.Text)
	}
	if strings.Join(got, "") != "Hello world" {
		t.Errorf("expected 'Hello world', got %q", strings.Join(got, ""))
	}
}

func TestChatStream_EarlyCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, `data: {"choices":[{"index":0,"delta":{"content":"first"},"finish_reason":null}]}`+"\n\n")
		flusher.Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	a := newChatTestAdapter(server.URL)
	ch, err := a.Stream(ctx, "m", []types.Message{types.TextMessage(types.RoleUser, "hi")}, CompletionOptions{})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	first := <-ch
	if first.Text != "first" {
		t.Fatalf("expected first chunk, got %+v", first)
	}
	cancel()

	// The channel must close promptly once the consumer cancels.
	select {
	case _, open := <-ch:
		if open {
			// One in-flight chunk may race the cancel; the next receive must close.
			select {
			case _, open = <-ch:
				if open {
					t.Error("stream channel still open after cancel")
				}
			case <-time.After(2 * time.Second):
				t.Error("stream channel not closed after cancel")
			}
		}
	case <-time.After(2 * time.Second):
		t.Error("stream channel not closed after cancel")
	}
}
