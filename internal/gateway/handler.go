package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chatbattles/chatbattles/internal/auth"
	"github.com/chatbattles/chatbattles/internal/battle"
	"github.com/chatbattles/chatbattles/internal/config"
	"github.com/chatbattles/chatbattles/internal/httputil"
	"github.com/chatbattles/chatbattles/internal/providers"
	"github.com/chatbattles/chatbattles/internal/ratelimit"
	"github.com/chatbattles/chatbattles/internal/storage"
	"github.com/chatbattles/chatbattles/internal/telemetry"
	"github.com/chatbattles/chatbattles/internal/types"
)

// Battler runs one fan-out and returns a result per model.
type Battler interface {
	Battle(ctx context.Context, userID, prompt string, history []types.Message, attachments []types.Attachment, models []config.ModelDescriptor) []types.BattleResult
}

// Store is the persistence surface the handlers need. *storage.Store
// implements it; tests substitute fakes.
type Store interface {
	SaveBattle(ctx context.Context, userID, prompt string, results []types.BattleResult) (string, error)
	ListHistory(ctx context.Context, userID string, limit int) ([]storage.BattleSummary, error)
	SaveVote(ctx context.Context, v storage.Vote) error
	SaveContactMessage(ctx context.Context, msg storage.ContactMessage) error
	UsageSummary(ctx context.Context, since time.Time) ([]storage.UsageSummaryRow, error)
	VoteTallies(ctx context.Context) ([]storage.VoteCount, error)
}

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	battler   Battler
	registry  *providers.Registry
	store     Store
	quota     *ratelimit.QuotaTracker
	health    *providers.HealthTracker
	metrics   *telemetry.Metrics
	modelsCfg func() *config.ModelsConfig
	cfg       func() *config.Config
}

func NewHandler(battler Battler, registry *providers.Registry, store Store, quota *ratelimit.QuotaTracker, health *providers.HealthTracker, metrics *telemetry.Metrics, modelsCfg func() *config.ModelsConfig, cfg func() *config.Config) *Handler {
	return &Handler{
		battler:   battler,
		registry:  registry,
		store:     store,
		quota:     quota,
		health:    health,
		metrics:   metrics,
		modelsCfg: modelsCfg,
		cfg:       cfg,
	}
}

type battleRequest struct {
	Prompt      string             `json:"prompt"`
	History     []types.Message    `json:"history"`
	Attachments []types.Attachment `json:"attachments"`
	// Models optionally narrows the dispatch set to a subset of the catalog.
	Models []string `json:"models"`
}

type battleResponse struct {
	BattleID string               `json:"battleId,omitempty"`
	Results  []types.BattleResult `json:"results"`
}

// Battle handles POST /api/battle
func (h *Handler) Battle(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	receivedAt := time.Now()

	var req battleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" && len(req.Attachments) == 0 {
		httputil.WriteBadRequestError(w, reqID, "prompt is required")
		return
	}

	descriptors, err := h.resolveModels(req.Models)
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, err.Error())
		return
	}

	identity := ratelimit.Identity(r)
	if h.quota != nil {
		quota, _ := h.quota.CheckDailyBattles(r.Context(), identity, int64(h.cfg().RateLimit.DailyBattleQuota))
		if !quota.Allowed {
			slog.Warn("daily battle quota exceeded", "identity", identity, "used", quota.Used, "limit", quota.Limit)
			if h.metrics != nil {
				h.metrics.RecordRateLimitHit("daily_quota")
			}
			ratelimit.WriteRejection(w, ratelimit.Rejection{
				Allowed:   false,
				Message:   fmt.Sprintf("Daily battle quota exceeded: %d battles per day.", quota.Limit),
				Remaining: 0,
				Limit:     quota.Limit,
				ResetAt:   nextMidnightUTC().Format(time.RFC3339),
			})
			return
		}
	}

	userID := auth.UserID(r.Context())
	results := h.battler.Battle(r.Context(), userID, req.Prompt, req.History, req.Attachments, descriptors)

	if h.quota != nil {
		if err := h.quota.RecordBattle(r.Context(), identity); err != nil {
			slog.Warn("quota record failed", "identity", identity, "error", err)
		}
	}

	var battleID string
	if h.store != nil {
		battleID, err = h.store.SaveBattle(r.Context(), userID, req.Prompt, results)
		if err != nil {
			// Persistence is best effort: the user still gets their results.
			slog.Error("battle persistence failed", "request_id", reqID, "error", err)
			battleID = ""
		}
	}

	duration := time.Since(receivedAt)
	slog.Info("battle completed",
		"request_id", reqID,
		"user_id", userID,
		"models", len(descriptors),
		"duration_ms", duration.Milliseconds(),
	)
	if h.metrics != nil {
		h.metrics.RecordBattle("200", float64(duration.Milliseconds()))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(battleResponse{BattleID: battleID, Results: results})
}

// resolveModels maps requested model ids onto catalog descriptors, defaulting
// to the full catalog.
func (h *Handler) resolveModels(requested []string) ([]config.ModelDescriptor, error) {
	catalog := h.modelsCfg().Battle
	if len(requested) == 0 {
		return catalog, nil
	}

	byID := make(map[string]config.ModelDescriptor, len(catalog))
	for _, d := range catalog {
		byID[d.ID] = d
	}

	out := make([]config.ModelDescriptor, 0, len(requested))
	for _, id := range requested {
		d, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown model %q", id)
		}
		out = append(out, d)
	}
	return out, nil
}

func nextMidnightUTC() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}

type streamRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	History []types.Message `json:"history"`
}

// ChatStream handles POST /api/chat/stream
func (h *Handler) ChatStream(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		httputil.WriteBadRequestError(w, reqID, "prompt is required")
		return
	}

	route, ok := h.modelsCfg().Stream[req.Model]
	if !ok {
		httputil.WriteNotFoundError(w, reqID, "Unknown chat model: "+req.Model)
		return
	}

	adapter, ok := h.registry.GetStreaming(route.Provider)
	if !ok {
		httputil.WriteServiceUnavailableError(w, reqID, "This model's provider is not configured")
		return
	}

	window := h.cfg().Battle.StreamHistoryWindow
	msgs := append(battle.TruncateHistory(req.History, window), types.TextMessage(types.RoleUser, req.Prompt))

	temp := 0.7
	maxTokens := 2048
	opts := providers.CompletionOptions{Temperature: &temp, MaxTokens: &maxTokens}

	chunks, err := adapter.Stream(r.Context(), route.Model, msgs, opts)
	if err != nil {
		h.health.RecordFailure(route.Provider, err)
		slog.Error("stream start failed", "request_id", reqID, "model", req.Model, "error", err)
		httputil.WriteServiceUnavailableError(w, reqID, "Provider request failed")
		return
	}

	slog.Info("streaming started", "request_id", reqID, "model", req.Model, "provider", route.Provider.String())

	status := relayStream(r.Context(), w, reqID, chunks)
	if status == "error" {
		h.health.RecordFailure(route.Provider, nil)
	} else {
		h.health.RecordSuccess(route.Provider)
	}
	if h.metrics != nil {
		h.metrics.RecordStream(req.Model, status)
	}
}

type voteRequest struct {
	BattleID string `json:"battleId"`
	ModelID  string `json:"modelId"`
}

// Vote handles POST /api/vote
func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	if req.BattleID == "" || req.ModelID == "" {
		httputil.WriteBadRequestError(w, reqID, "battleId and modelId are required")
		return
	}
	if h.store == nil {
		httputil.WriteServiceUnavailableError(w, reqID, "Voting is unavailable")
		return
	}

	// Anonymous voters are keyed by client IP so re-votes on the same battle
	// replace the earlier choice instead of stacking.
	err := h.store.SaveVote(r.Context(), storage.Vote{
		BattleID: req.BattleID,
		VoterID:  ratelimit.Identity(r),
		ModelID:  req.ModelID,
	})
	if err != nil {
		slog.Error("vote persistence failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to record vote")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// Contact handles POST /api/contact
func (h *Handler) Contact(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	var msg storage.ContactMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	msg.Message = strings.TrimSpace(msg.Message)
	if msg.Message == "" {
		httputil.WriteBadRequestError(w, reqID, "message is required")
		return
	}
	if msg.Email != "" && !strings.Contains(msg.Email, "@") {
		httputil.WriteBadRequestError(w, reqID, "invalid email address")
		return
	}
	if h.store == nil {
		httputil.WriteServiceUnavailableError(w, reqID, "Contact form is unavailable")
		return
	}

	if err := h.store.SaveContactMessage(r.Context(), msg); err != nil {
		slog.Error("contact persistence failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to save message")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// History handles GET /api/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	userID := auth.UserID(r.Context())
	if userID == "" {
		httputil.WriteAuthError(w, reqID, "History requires an authenticated session")
		return
	}
	if h.store == nil {
		httputil.WriteServiceUnavailableError(w, reqID, "History is unavailable")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	battles, err := h.store.ListHistory(r.Context(), userID, limit)
	if err != nil {
		slog.Error("history query failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to load history")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"battles": battles})
}

type modelObject struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Provider    string `json:"provider"`
	Vision      bool   `json:"vision"`
}

type streamModelObject struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
}

// Models handles GET /api/models
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	modelsCfg := h.modelsCfg()

	battleModels := make([]modelObject, 0, len(modelsCfg.Battle))
	for _, d := range modelsCfg.Battle {
		battleModels = append(battleModels, modelObject{
			ID:          d.ID,
			DisplayName: d.DisplayName,
			Provider:    d.Provider.String(),
			Vision:      d.Vision,
		})
	}

	streamModels := make([]streamModelObject, 0, len(modelsCfg.Stream))
	for id, route := range modelsCfg.Stream {
		streamModels = append(streamModels, streamModelObject{
			ID:       id,
			Provider: route.Provider.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"battle": battleModels,
		"stream": streamModels,
	})
}

// Health handles GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"providers": h.health.Snapshot(),
	})
}

// AdminUsage handles GET /api/admin/usage
func (h *Handler) AdminUsage(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	if h.store == nil {
		httputil.WriteServiceUnavailableError(w, reqID, "Usage reporting is unavailable")
		return
	}

	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days <= 0 || days > 90 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	usage, err := h.store.UsageSummary(r.Context(), since)
	if err != nil {
		slog.Error("usage summary failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to load usage")
		return
	}
	votes, err := h.store.VoteTallies(r.Context())
	if err != nil {
		slog.Error("vote tally failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to load votes")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"sinceDays": days,
		"usage":     usage,
		"votes":     votes,
	})
}
