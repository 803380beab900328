package types

import "time"

// BattleResult is the uniform per-model outcome of a fan-out. Exactly one is
// produced per dispatched descriptor regardless of success, timeout, or
// fallback exhaustion: the fan-out never drops a model, it only marks it
// errored.
type BattleResult struct {
	ModelID      string `json:"modelId"`
	DisplayName  string `json:"displayName"`
	Text         string `json:"text"`
	UsedFallback bool   `json:"usedFallback"`
	IsError      bool   `json:"isError"`
}

// UsageRecord is the per-result usage log reported to the storage layer.
// Provider carries the family that actually served the response: fallback
// responses are attributed to the fallback family, not the primary's.
type UsageRecord struct {
	UserID       string
	ModelID      string
	DisplayName  string
	Provider     ProviderFamily
	UsedFallback bool
	IsError      bool
	ResponseMs   int64
	CostUSD      float64
	CreatedAt    time.Time
}
