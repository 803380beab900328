package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chatbattles/chatbattles/internal/config"
	"github.com/chatbattles/chatbattles/internal/types"
)

// ChatAdapter talks to an OpenAI-compatible chat-completions API. It serves
// both the primary (OpenRouter) and secondary (Groq) families; the two differ
// only in endpoint, credentials, and the family tag. The secondary endpoint
// does not accept image parts, so callers flatten multimodal content before
// routing here with the secondary family.
type ChatAdapter struct {
	name   string
	family types.ProviderFamily
	cfg    config.ProviderConfig
	client *http.Client
}

func NewChatAdapter(name string, family types.ProviderFamily, cfg config.ProviderConfig, client *http.Client) *ChatAdapter {
	return &ChatAdapter{name: name, family: family, cfg: cfg, client: client}
}

func (a *ChatAdapter) Name() string                 { return a.name }
func (a *ChatAdapter) Family() types.ProviderFamily { return a.family }

func (a *ChatAdapter) Complete(ctx context.Context, modelID string, msgs []types.Message, opts CompletionOptions) (string, error) {
	body, err := a.send(ctx, modelID, msgs, opts, false)
	if err != nil {
		return "", err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read %s response: %w", a.name, err)
	}

	var resp chatResponseBody
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &ProviderError{Provider: a.name, Code: CodeBadResponse, Message: "unparseable response body"}
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: a.name, Code: CodeBadResponse, Message: "response contained no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream requests a streaming completion and relays each delta's content on
// the returned channel. The channel closes at [DONE] or upstream EOF;
// cancelling ctx aborts the read.
func (a *ChatAdapter) Stream(ctx context.Context, modelID string, msgs []types.Message, opts CompletionOptions) (<-chan StreamChunk, error) {
	body, err := a.send(ctx, modelID, msgs, opts, true)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" && chunk.Choices[0].FinishReason != nil {
				continue
			}

			select {
			case out <- StreamChunk{Text: delta}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			out <- StreamChunk{Err: fmt.Errorf("read %s stream: %w", a.name, err)}
		}
	}()
	return out, nil
}

func (a *ChatAdapter) send(ctx context.Context, modelID string, msgs []types.Message, opts CompletionOptions, stream bool) (io.ReadCloser, error) {
	if a.cfg.APIKey == "" {
		return nil, &ProviderError{Provider: a.name, Code: CodeMissingAPIKey, Message: a.name + " API key is not configured"}
	}

	body := chatRequestBody{
		Model:       modelID,
		Messages:    toChatMessages(msgs),
		Stream:      stream,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", a.name, err)
	}

	url := a.cfg.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	for k, v := range a.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, context.DeadlineExceeded
		}
		return nil, fmt.Errorf("%s request: %w", a.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &ProviderError{
			Provider:   a.name,
			StatusCode: resp.StatusCode,
			Code:       errorCodeFromBody(raw),
			Message:    errorMessageFromBody(raw, resp.StatusCode),
		}
	}
	return resp.Body, nil
}

// toChatMessages converts canonical messages to the OpenAI wire shape:
// content is a plain string for single-text messages and a typed part list
// otherwise.
func toChatMessages(msgs []types.Message) []chatWireMessage {
	out := make([]chatWireMessage, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Parts) == 1 && m.Parts[0].Kind == types.PartText {
			out = append(out, chatWireMessage{Role: m.Role, Content: m.Parts[0].Text})
			continue
		}
		parts := make([]chatWirePart, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch p.Kind {
			case types.PartText:
				parts = append(parts, chatWirePart{Type: "text", Text: p.Text})
			case types.PartImage:
				parts = append(parts, chatWirePart{Type: "image_url", ImageURL: &chatWireImageURL{URL: p.URL}})
			}
		}
		out = append(out, chatWireMessage{Role: m.Role, Content: parts})
	}
	return out
}

type chatWireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatWirePart struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL *chatWireImageURL `json:"image_url,omitempty"`
}

type chatWireImageURL struct {
	URL string `json:"url"`
}

type chatRequestBody struct {
	Model       string            `json:"model"`
	Messages    []chatWireMessage `json:"messages"`
	Stream      bool              `json:"stream,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
}

type chatResponseBody struct {
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

type chatErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func errorCodeFromBody(raw []byte) string {
	var eb chatErrorBody
	if err := json.Unmarshal(raw, &eb); err != nil {
		return ""
	}
	if s, ok := eb.Error.Code.(string); ok {
		return s
	}
	return ""
}

func errorMessageFromBody(raw []byte, status int) string {
	var eb chatErrorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Error.Message != "" {
		return eb.Error.Message
	}
	return fmt.Sprintf("provider returned status %d", status)
}
