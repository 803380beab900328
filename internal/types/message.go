package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles in the canonical conversation format. Providers that use
// different role names (e.g. Gemini's "model") translate at the adapter.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PartKind discriminates content parts within a multimodal message.
type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
)

// ContentPart is one element of a multimodal message body.
// Image parts carry a URL, in practice a data: URL produced by the client.
type ContentPart struct {
	Kind PartKind `json:"kind"`
	Text string   `json:"text,omitempty"`
	URL  string   `json:"url,omitempty"`
}

// Message is the canonical internal representation of one conversation turn.
// All provider wire formats are built from this type. Caller-supplied history
// is trusted as-is; the request builder truncates it before use.
type Message struct {
	Role  string
	Parts []ContentPart
}

// TextMessage builds a single-part text message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Parts: []ContentPart{{Kind: PartText, Text: text}}}
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Kind == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// HasImage reports whether any part is an image.
func (m Message) HasImage() bool {
	for _, p := range m.Parts {
		if p.Kind == PartImage {
			return true
		}
	}
	return false
}

// messageWire matches the client's JSON: content is either a plain string or
// an ordered list of parts.
type messageWire struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Role = w.Role
	m.Parts = nil

	if len(w.Content) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(w.Content, &s); err == nil {
		m.Parts = []ContentPart{{Kind: PartText, Text: s}}
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(w.Content, &parts); err != nil {
		return fmt.Errorf("message content must be a string or a part list: %w", err)
	}
	m.Parts = parts
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) == 1 && m.Parts[0].Kind == PartText {
		return json.Marshal(messageWireOut{Role: m.Role, Content: m.Parts[0].Text})
	}
	return json.Marshal(struct {
		Role    string        `json:"role"`
		Content []ContentPart `json:"content"`
	}{Role: m.Role, Content: m.Parts})
}

type messageWireOut struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AttachmentKind discriminates uploaded attachments.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment is a client upload consumed once per request. Image payloads are
// data: URLs; document payloads are extracted text.
type Attachment struct {
	Kind     AttachmentKind `json:"kind"`
	Payload  string         `json:"payload"`
	Filename string         `json:"filename,omitempty"`
}
