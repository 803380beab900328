package config

import (
	"fmt"

	"github.com/chatbattles/chatbattles/internal/types"
)

// ModelsConfig is the static model catalog, loaded once at startup from
// models.yaml and never mutated at runtime.
type ModelsConfig struct {
	Battle []ModelDescriptor      `yaml:"battle"`
	Stream map[string]StreamRoute `yaml:"stream"`
}

// ModelDescriptor is the per-model dispatch configuration for the fan-out.
type ModelDescriptor struct {
	ID          string               `yaml:"id"`
	DisplayName string               `yaml:"display_name"`
	Provider    types.ProviderFamily `yaml:"provider"`
	Vision      bool                 `yaml:"vision"`
	// NoSamplingParams marks models that reject temperature/max_tokens;
	// adapters omit those parameters entirely for such models.
	NoSamplingParams bool      `yaml:"no_sampling_params"`
	Fallback         *Fallback `yaml:"fallback,omitempty"`
}

// Fallback names the secondary backend substituted after a qualifying
// failure. The result keeps the original model's display name; only usage
// attribution switches to the fallback family.
type Fallback struct {
	Model    string               `yaml:"model"`
	Provider types.ProviderFamily `yaml:"provider"`
}

// StreamRoute maps a chat-mode model ID to its provider. The streaming path
// uses this fixed table, not the battle descriptor list.
type StreamRoute struct {
	Model    string               `yaml:"model"`
	Provider types.ProviderFamily `yaml:"provider"`
}

// Validate checks family tags and fallback references.
func (m *ModelsConfig) Validate() error {
	if len(m.Battle) == 0 {
		return fmt.Errorf("models config: no battle models defined")
	}
	seen := make(map[string]bool, len(m.Battle))
	for _, d := range m.Battle {
		if d.ID == "" {
			return fmt.Errorf("models config: model with empty id")
		}
		if seen[d.ID] {
			return fmt.Errorf("models config: duplicate model id %q", d.ID)
		}
		seen[d.ID] = true
		if !d.Provider.Valid() {
			return fmt.Errorf("models config: model %q has unknown provider %q", d.ID, d.Provider)
		}
		if d.Fallback != nil && !d.Fallback.Provider.Valid() {
			return fmt.Errorf("models config: model %q fallback has unknown provider %q", d.ID, d.Fallback.Provider)
		}
	}
	for id, route := range m.Stream {
		if !route.Provider.Valid() {
			return fmt.Errorf("models config: stream model %q has unknown provider %q", id, route.Provider)
		}
	}
	return nil
}

// VisionAnalysisModel returns the model used for image pre-analysis: the
// first multimodal battle model, falling back to any multimodal stream route.
func (m *ModelsConfig) VisionAnalysisModel() string {
	for _, d := range m.Battle {
		if d.Provider == types.FamilyMultimodal {
			return d.ID
		}
	}
	for _, route := range m.Stream {
		if route.Provider == types.FamilyMultimodal {
			return route.Model
		}
	}
	return ""
}
