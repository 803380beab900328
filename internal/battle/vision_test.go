package battle

import (
	"context"
	"testing"

	"github.com/chatbattles/chatbattles/internal/providers"
	"github.com/chatbattles/chatbattles/internal/types"
)

func TestAnalyzeImages(t *testing.T) {
	var gotMsgs []types.Message
	adapter := &fakeAdapter{
		family: types.FamilyMultimodal,
		complete: func(ctx context.Context, modelID string, msgs []types.Message, opts providers.CompletionOptions) (string, error) {
			gotMsgs = msgs
			return "  a red bicycle <|endoftext|>", nil
		},
	}

	v := NewVisionAnalyzer(adapter, "gemini-2.0-flash")
	images := []types.Attachment{
		{Kind: types.AttachmentImage, Payload: "data:image/png;base64,AAAA"},
		{Kind: types.AttachmentImage, Payload: "data:image/jpeg;base64,BBBB"},
	}

	got := v.AnalyzeImages(context.Background(), images)
	if got != "a red bicycle" {
		t.Errorf("expected sanitized analysis, got %q", got)
	}

	if len(gotMsgs) != 1 {
		t.Fatalf("expected a single request message, got %d", len(gotMsgs))
	}
	// Instruction first, then one part per image.
	if gotMsgs[0].Parts[0].Kind != types.PartText {
		t.Error("first part must be the instruction text")
	}
	imageParts := 0
	for _, p := range gotMsgs[0].Parts {
		if p.Kind == types.PartImage {
			imageParts++
		}
	}
	if imageParts != 2 {
		t.Errorf("expected 2 image parts, got %d", imageParts)
	}
}

func TestAnalyzeImages_FailureReturnsMarker(t *testing.T) {
	adapter := &fakeAdapter{
		family: types.FamilyMultimodal,
		complete: func(ctx context.Context, modelID string, msgs []types.Message, opts providers.CompletionOptions) (string, error) {
			return "", &providers.ProviderError{Provider: "gemini", StatusCode: 500, Message: "boom"}
		},
	}

	v := NewVisionAnalyzer(adapter, "gemini-2.0-flash")
	got := v.AnalyzeImages(context.Background(), []types.Attachment{{Kind: types.AttachmentImage, Payload: "data:image/png;base64,AAAA"}})
	if got != AnalysisUnavailable {
		t.Errorf("expected failure marker, got %q", got)
	}
}

func TestAnalyzeImages_NilAnalyzer(t *testing.T) {
	var v *VisionAnalyzer
	got := v.AnalyzeImages(context.Background(), []types.Attachment{{Kind: types.AttachmentImage, Payload: "x"}})
	if got != AnalysisUnavailable {
		t.Errorf("nil analyzer must degrade to the marker, got %q", got)
	}
}
