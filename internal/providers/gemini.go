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

// GeminiAdapter talks to the Gemini generateContent API. It is the only
// vision-capable backend used for image pre-analysis, and also serves as a
// primary provider. The assistant role is translated to "model"; image parts
// arrive as data: URLs and are sent as base64 inline data with a MIME type.
type GeminiAdapter struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func NewGeminiAdapter(cfg config.ProviderConfig, client *http.Client) *GeminiAdapter {
	return &GeminiAdapter{cfg: cfg, client: client}
}

func (a *GeminiAdapter) Name() string                 { return "gemini" }
func (a *GeminiAdapter) Family() types.ProviderFamily { return types.FamilyMultimodal }

func (a *GeminiAdapter) Complete(ctx context.Context, modelID string, msgs []types.Message, opts CompletionOptions) (string, error) {
	body, err := a.send(ctx, modelID, msgs, opts, false)
	if err != nil {
		return "", err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read gemini response: %w", err)
	}

	var resp geminiResponseBody
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &ProviderError{Provider: "gemini", Code: CodeBadResponse, Message: "unparseable response body"}
	}
	text := resp.text()
	if text == "" && len(resp.Candidates) == 0 {
		return "", &ProviderError{Provider: "gemini", Code: CodeBadResponse, Message: "response contained no candidates"}
	}
	return text, nil
}

// Stream uses streamGenerateContent with SSE framing. Each event is a full
// response object whose candidate parts carry the next text delta.
func (a *GeminiAdapter) Stream(ctx context.Context, modelID string, msgs []types.Message, opts CompletionOptions) (<-chan StreamChunk, error) {
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
			var resp geminiResponseBody
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &resp); err != nil {
				continue
			}
			text := resp.text()
			if text == "" {
				continue
			}
			select {
			case out <- StreamChunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			out <- StreamChunk{Err: fmt.Errorf("read gemini stream: %w", err)}
		}
	}()
	return out, nil
}

func (a *GeminiAdapter) send(ctx context.Context, modelID string, msgs []types.Message, opts CompletionOptions, stream bool) (io.ReadCloser, error) {
	if a.cfg.APIKey == "" {
		return nil, &ProviderError{Provider: "gemini", Code: CodeMissingAPIKey, Message: "gemini API key is not configured"}
	}

	body := geminiRequestBody{Contents: toGeminiContents(msgs)}
	if opts.Temperature != nil || opts.MaxTokens != nil {
		body.GenerationConfig = &geminiGenerationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxTokens,
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}

	verb := "generateContent"
	if stream {
		verb = "streamGenerateContent?alt=sse"
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:%s", a.cfg.BaseURL, modelID, verb)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.cfg.APIKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, context.DeadlineExceeded
		}
		return nil, fmt.Errorf("gemini request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &ProviderError{
			Provider:   "gemini",
			StatusCode: resp.StatusCode,
			Message:    geminiErrorMessage(raw, resp.StatusCode),
		}
	}
	return resp.Body, nil
}

// toGeminiContents converts canonical messages: assistant → model, text parts
// as-is, image data: URLs decoded into inline_data. Image parts with
// non-data URLs are dropped (the API cannot fetch remote URLs).
func toGeminiContents(msgs []types.Message) []geminiContent {
	out := make([]geminiContent, 0, len(msgs))
	for _, m := range msgs {
		role := m.Role
		if role == types.RoleAssistant {
			role = "model"
		}
		var parts []geminiPart
		for _, p := range m.Parts {
			switch p.Kind {
			case types.PartText:
				parts = append(parts, geminiPart{Text: p.Text})
			case types.PartImage:
				if mime, data, ok := parseDataURL(p.URL); ok {
					parts = append(parts, geminiPart{InlineData: &geminiInlineData{MimeType: mime, Data: data}})
				}
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, geminiContent{Role: role, Parts: parts})
	}
	return out
}

// parseDataURL splits "data:<mime>;base64,<payload>" into its MIME type and
// base64 payload.
func parseDataURL(url string) (mime, data string, ok bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(url, "data:")
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mime = strings.TrimSuffix(meta, ";base64")
	if mime == "" || mime == meta {
		// Not base64-encoded; the API requires base64 inline data.
		return "", "", false
	}
	return mime, payload, true
}

type geminiRequestBody struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiResponseBody struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

func (r *geminiResponseBody) text() string {
	var b strings.Builder
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			b.WriteString(p.Text)
		}
		break
	}
	return b.String()
}

func geminiErrorMessage(raw []byte, status int) string {
	var eb struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Error.Message != "" {
		return eb.Error.Message
	}
	return fmt.Sprintf("provider returned status %d", status)
}
