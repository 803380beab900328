package battle

import (
	"context"
	"log/slog"

	"github.com/chatbattles/chatbattles/internal/providers"
	"github.com/chatbattles/chatbattles/internal/sanitize"
	"github.com/chatbattles/chatbattles/internal/types"
)

// AnalysisUnavailable is substituted for the analysis text when the vision
// engine fails. Non-vision models proceed with this degraded context instead
// of failing the whole request.
const AnalysisUnavailable = "image present but analysis unavailable"

const analysisInstruction = "Describe the attached image(s) in detail so that an assistant who cannot see them can answer questions about them. Cover subjects, text, colors, and layout."

// VisionAnalyzer produces one textual description of a request's image
// attachments through the multimodal adapter.
type VisionAnalyzer struct {
	adapter providers.Adapter
	modelID string
}

func NewVisionAnalyzer(adapter providers.Adapter, modelID string) *VisionAnalyzer {
	return &VisionAnalyzer{adapter: adapter, modelID: modelID}
}

// AnalyzeImages sends a single multimodal request covering every image and
// returns the description, or AnalysisUnavailable on any failure.
func (v *VisionAnalyzer) AnalyzeImages(ctx context.Context, images []types.Attachment) string {
	if v == nil || v.adapter == nil || v.modelID == "" || len(images) == 0 {
		return AnalysisUnavailable
	}

	parts := []types.ContentPart{{Kind: types.PartText, Text: analysisInstruction}}
	for _, img := range images {
		parts = append(parts, types.ContentPart{Kind: types.PartImage, URL: img.Payload})
	}

	text, err := v.adapter.Complete(ctx, v.modelID, []types.Message{{Role: types.RoleUser, Parts: parts}}, providers.CompletionOptions{})
	if err != nil {
		slog.Warn("image analysis failed", "model", v.modelID, "error", err)
		return AnalysisUnavailable
	}

	cleaned := sanitize.Clean(text, false)
	if cleaned == "" {
		return AnalysisUnavailable
	}
	return cleaned
}
