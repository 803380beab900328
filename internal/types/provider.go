package types

// ProviderFamily identifies which adapter a model dispatches through. Carried
// explicitly on each model descriptor rather than inferred from ID substrings.
type ProviderFamily string

const (
	// FamilyChatCompletion is the primary OpenAI-compatible endpoint.
	FamilyChatCompletion ProviderFamily = "chat_completion"
	// FamilyMultimodal is the Gemini-style generative API. Also serves as the
	// vision-analysis engine for non-vision models.
	FamilyMultimodal ProviderFamily = "multimodal"
	// FamilySecondaryChat is the secondary OpenAI-compatible endpoint used as
	// a fallback target. Text-only.
	FamilySecondaryChat ProviderFamily = "secondary_chat"
)

func (f ProviderFamily) Valid() bool {
	switch f {
	case FamilyChatCompletion, FamilyMultimodal, FamilySecondaryChat:
		return true
	}
	return false
}

func (f ProviderFamily) String() string { return string(f) }
