package battle

import (
	"strings"

	"github.com/chatbattles/chatbattles/internal/config"
	"github.com/chatbattles/chatbattles/internal/types"
)

// Fixed notes injected when image content cannot be carried through.
const (
	imageAnalyzedNote    = "previous message contained an image that was analyzed"
	imageUnavailableNote = "[image processing temporarily unavailable]"
)

// TruncateHistory keeps the most recent window-sized suffix, preserving
// order. Caller-supplied history is trusted as-is otherwise.
func TruncateHistory(history []types.Message, window int) []types.Message {
	if window <= 0 || len(history) <= window {
		return history
	}
	return history[len(history)-window:]
}

// BuildMessages constructs the exact message list one model expects for this
// request. It performs no network calls; the vision analysis, when present,
// was computed once before the fan-out started.
func BuildMessages(model config.ModelDescriptor, history []types.Message, prompt string, attachments []types.Attachment, visionAnalysis string, window int) []types.Message {
	msgs := make([]types.Message, 0, window+1)

	for _, turn := range TruncateHistory(history, window) {
		if model.Vision {
			msgs = append(msgs, turn)
			continue
		}
		msgs = append(msgs, flattenTurn(turn))
	}

	msgs = append(msgs, buildCurrentTurn(model, prompt, attachments, visionAnalysis))
	return msgs
}

// flattenTurn reduces a multimodal turn to text-only for non-vision models,
// noting when an image was dropped.
func flattenTurn(m types.Message) types.Message {
	if !m.HasImage() {
		if len(m.Parts) == 1 && m.Parts[0].Kind == types.PartText {
			return m
		}
		return types.TextMessage(m.Role, m.Text())
	}
	text := m.Text()
	if text != "" {
		text += "\n"
	}
	return types.TextMessage(m.Role, text+"("+imageAnalyzedNote+")")
}

func buildCurrentTurn(model config.ModelDescriptor, prompt string, attachments []types.Attachment, visionAnalysis string) types.Message {
	images := ImageAttachments(attachments)
	docText := documentText(attachments)

	if model.Vision && len(images) > 0 {
		parts := []types.ContentPart{{Kind: types.PartText, Text: prompt + docText}}
		for _, img := range images {
			parts = append(parts, types.ContentPart{Kind: types.PartImage, URL: img.Payload})
		}
		return types.Message{Role: types.RoleUser, Parts: parts}
	}

	text := prompt
	if !model.Vision && len(images) > 0 && visionAnalysis != "" {
		text += "\n\n[Context: the image shows: " + visionAnalysis + "]"
	}
	return types.TextMessage(types.RoleUser, text+docText)
}

// documentText renders document attachments under per-file headings.
func documentText(attachments []types.Attachment) string {
	var b strings.Builder
	for _, a := range attachments {
		if a.Kind != types.AttachmentDocument {
			continue
		}
		b.WriteString("\n\n[File: ")
		b.WriteString(a.Filename)
		b.WriteString("]\n")
		b.WriteString(a.Payload)
	}
	return b.String()
}

// ImageAttachments filters the image uploads out of an attachment list.
func ImageAttachments(attachments []types.Attachment) []types.Attachment {
	var out []types.Attachment
	for _, a := range attachments {
		if a.Kind == types.AttachmentImage {
			out = append(out, a)
		}
	}
	return out
}

// FlattenMessages strips every message down to its text parts, for routing to
// the text-only secondary provider during fallback.
func FlattenMessages(msgs []types.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Parts) == 1 && m.Parts[0].Kind == types.PartText {
			out = append(out, m)
			continue
		}
		out = append(out, types.TextMessage(m.Role, m.Text()))
	}
	return out
}

// ReplaceImagesWithNote swaps every image part for the fixed unavailable
// note, used for the one retry after a vision model's server error.
func ReplaceImagesWithNote(msgs []types.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.HasImage() {
			out = append(out, m)
			continue
		}
		parts := make([]types.ContentPart, 0, len(m.Parts))
		for _, p := range m.Parts {
			if p.Kind == types.PartImage {
				parts = append(parts, types.ContentPart{Kind: types.PartText, Text: imageUnavailableNote})
				continue
			}
			parts = append(parts, p)
		}
		out = append(out, types.Message{Role: m.Role, Parts: parts})
	}
	return out
}
