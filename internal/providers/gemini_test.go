package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chatbattles/chatbattles/internal/config"
	"github.com/chatbattles/chatbattles/internal/types"
)

func newGeminiTestAdapter(baseURL string) *GeminiAdapter {
	return NewGeminiAdapter(config.ProviderConfig{BaseURL: baseURL, APIKey: "g-key"}, http.DefaultClient)
}

func TestToGeminiContents_RoleTranslation(t *testing.T) {
	msgs := []types.Message{
		types.TextMessage(types.RoleUser, "question"),
		types.TextMessage(types.RoleAssistant, "answer"),
	}
	contents := toGeminiContents(msgs)
	if len(contents) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(contents))
	}
	if contents[0].Role != "user" {
		t.Errorf("expected user role, got %q", contents[0].Role)
	}
	if contents[1].Role != "model" {
		t.Errorf("assistant must translate to model, got %q", contents[1].Role)
	}
}

func TestToGeminiContents_InlineData(t *testing.T) {
	msgs := []types.Message{{
		Role: types.RoleUser,
		Parts: []types.ContentPart{
			{Kind: types.PartText, Text: "describe"},
			{Kind: types.PartImage, URL: "data:image/jpeg;base64,Zm9v"},
			{Kind: types.PartImage, URL: "https://example.com/remote.png"},
		},
	}}
	contents := toGeminiContents(msgs)
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	// Remote URLs are dropped; only the text and inline image survive.
	if len(contents[0].Parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(contents[0].Parts))
	}
	img := contents[0].Parts[1].InlineData
	if img == nil {
		t.Fatal("expected inline data part")
	}
	if img.MimeType != "image/jpeg" || img.Data != "Zm9v" {
		t.Errorf("bad inline data: %+v", img)
	}
}

func TestParseDataURL(t *testing.T) {
	tests := []struct {
		url      string
		wantMime string
		wantData string
		wantOK   bool
	}{
		{"data:image/png;base64,AAAA", "image/png", "AAAA", true},
		{"data:image/webp;base64,", "image/webp", "", true},
		{"https://example.com/a.png", "", "", false},
		{"data:text/plain,hello", "", "", false},
		{"data:nonsense", "", "", false},
	}
	for _, tt := range tests {
		mime, data, ok := parseDataURL(tt.url)
		if ok != tt.wantOK || mime != tt.wantMime || data != tt.wantData {
			t.Errorf("parseDataURL(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.url, mime, data, ok, tt.wantMime, tt.wantData, tt.wantOK)
		}
	}
}

func TestGeminiComplete(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if key := r.Header.Get("x-goog-api-key"); key != "g-key" {
			t.Errorf("unexpected api key header %q", key)
		}
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"a red "},{"text":"bicycle"}]},"finishReason":"STOP"}]}`)
	}))
	defer server.Close()

	a := newGeminiTestAdapter(server.URL)
	got, err := a.Complete(context.Background(), "gemini-2.0-flash", []types.Message{types.TextMessage(types.RoleUser, "what is it")}, CompletionOptions{})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "a red bicycle" {
		t.Errorf("expected joined candidate text, got %q", got)
	}
	if gotPath != "/v1beta/models/gemini-2.0-flash:generateContent" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if _, present := gotBody["generationConfig"]; present {
		t.Error("empty options must omit generationConfig")
	}
}

func TestGeminiComplete_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"internal"}}`)
	}))
	defer server.Close()

	a := newGeminiTestAdapter(server.URL)
	_, err := a.Complete(context.Background(), "m", []types.Message{types.TextMessage(types.RoleUser, "x")}, CompletionOptions{})
	if !IsServerError(err) {
		t.Errorf("expected server error classification, got %v", err)
	}
}

func TestGeminiComplete_MissingAPIKey(t *testing.T) {
	a := NewGeminiAdapter(config.ProviderConfig{BaseURL: "http://unused"}, http.DefaultClient)
	_, err := a.Complete(context.Background(), "m", []types.Message{types.TextMessage(types.RoleUser, "x")}, CompletionOptions{})
	if !IsMissingCredentials(err) {
		t.Errorf("expected missing-credentials error, got %v", err)
	}
}

func TestGeminiStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Error("expected alt=sse")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		events := []string{
			`{"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}`,
			`{"candidates":[{"content":{"parts":[{"text":"lo "}]}}]}`,
			`{"candidates":[{"content":{"parts":[{"text":"there"}]},"finishReason":"STOP"}]}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
			flusher.Flush()
		}
	}))
	defer server.Close()

	a := newGeminiTestAdapter(server.URL)
	ch, err := a.Stream(context.Background(), "gemini-2.0-flash", []types.Message{types.TextMessage(types.RoleUser, "hi")}, CompletionOptions{})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	var b strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("unexpected stream error: %v", chunk.Err)
		}
		b.WriteString(chunk.Text)
	}
	if b.String() != "Hello there" {
		t.Errorf("expected 'Hello there', got %q", b.String())
	}
}
