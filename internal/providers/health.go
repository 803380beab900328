package providers

import (
	"sync"
	"time"

	"github.com/chatbattles/chatbattles/internal/types"
)

// HealthTracker keeps per-family success/failure accounting for the health
// endpoint. It never gates dispatch: every battle model is always attempted
// regardless of provider health.
type HealthTracker struct {
	mu    sync.RWMutex
	stats map[types.ProviderFamily]*providerStats
}

type providerStats struct {
	requests     int64
	failures     int64
	consecutive  int64
	lastFailure  time.Time
	lastFailText string
}

// ProviderStatus is a read-only snapshot for one provider family.
type ProviderStatus struct {
	Provider            string    `json:"provider"`
	Requests            int64     `json:"requests"`
	Failures            int64     `json:"failures"`
	ConsecutiveFailures int64     `json:"consecutiveFailures"`
	LastFailureAt       time.Time `json:"lastFailureAt,omitzero"`
	LastFailure         string    `json:"lastFailure,omitempty"`
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		stats: make(map[types.ProviderFamily]*providerStats),
	}
}

func (ht *HealthTracker) get(family types.ProviderFamily) *providerStats {
	if s, ok := ht.stats[family]; ok {
		return s
	}
	s := &providerStats{}
	ht.stats[family] = s
	return s
}

// RecordSuccess records a successful provider call.
func (ht *HealthTracker) RecordSuccess(family types.ProviderFamily) {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	s := ht.get(family)
	s.requests++
	s.consecutive = 0
}

// RecordFailure records a failed provider call.
func (ht *HealthTracker) RecordFailure(family types.ProviderFamily, err error) {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	s := ht.get(family)
	s.requests++
	s.failures++
	s.consecutive++
	s.lastFailure = time.Now()
	if err != nil {
		s.lastFailText = err.Error()
	}
}

// Snapshot returns the current status of every tracked family.
func (ht *HealthTracker) Snapshot() []ProviderStatus {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	out := make([]ProviderStatus, 0, len(ht.stats))
	for family, s := range ht.stats {
		out = append(out, ProviderStatus{
			Provider:            family.String(),
			Requests:            s.requests,
			Failures:            s.failures,
			ConsecutiveFailures: s.consecutive,
			LastFailureAt:       s.lastFailure,
			LastFailure:         s.lastFailText,
		})
	}
	return out
}
