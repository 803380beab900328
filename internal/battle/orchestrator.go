package battle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chatbattles/chatbattles/internal/config"
	"github.com/chatbattles/chatbattles/internal/providers"
	"github.com/chatbattles/chatbattles/internal/sanitize"
	"github.com/chatbattles/chatbattles/internal/telemetry"
	"github.com/chatbattles/chatbattles/internal/types"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 2048

	errorPrefix        = "⚠️ Error: "
	visionRetryWarning = "⚠️ Note: the attached image could not be processed; this answer does not consider it.\n\n"
)

// UsageLogger receives one usage record per terminal result. Calls are
// fire-and-forget from the orchestrator's perspective: a logging failure
// never fails or delays the battle response.
type UsageLogger interface {
	LogUsage(ctx context.Context, rec types.UsageRecord) error
}

// Orchestrator fans one prompt out to every model in the dispatch set
// concurrently and collects a uniform result per model regardless of
// individual failures.
type Orchestrator struct {
	registry *providers.Registry
	analyzer *VisionAnalyzer
	health   *providers.HealthTracker
	usage    UsageLogger
	metrics  *telemetry.Metrics
	cfg      config.BattleConfig
}

func NewOrchestrator(registry *providers.Registry, analyzer *VisionAnalyzer, health *providers.HealthTracker, usage UsageLogger, metrics *telemetry.Metrics, cfg config.BattleConfig) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		analyzer: analyzer,
		health:   health,
		usage:    usage,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Battle dispatches prompt+history+attachments to every descriptor and
// returns exactly one BattleResult per descriptor, in input order. Branches
// are independent: no model's failure affects another's result. Once started,
// branches run to their own terminal state even if the caller goes away; the
// per-branch deadline is the only internal cancellation.
func (o *Orchestrator) Battle(ctx context.Context, userID, prompt string, history []types.Message, attachments []types.Attachment, models []config.ModelDescriptor) []types.BattleResult {
	ctx = context.WithoutCancel(ctx)

	// Vision pre-analysis is a deliberate serialization point: every
	// non-vision builder depends on its result or failure marker.
	var visionAnalysis string
	images := ImageAttachments(attachments)
	if len(images) > 0 && anyNonVision(models) {
		visionAnalysis = o.analyzer.AnalyzeImages(ctx, images)
	}

	results := make([]types.BattleResult, len(models))
	var wg sync.WaitGroup
	for i, model := range models {
		wg.Add(1)
		go func(i int, model config.ModelDescriptor) {
			defer wg.Done()
			results[i] = o.runModel(ctx, userID, model, history, prompt, attachments, visionAnalysis)
		}(i, model)
	}
	wg.Wait()
	return results
}

func anyNonVision(models []config.ModelDescriptor) bool {
	for _, m := range models {
		if !m.Vision {
			return true
		}
	}
	return false
}

// runModel drives one model's state machine: build, dispatch, classify, with
// fallback and vision-retry transitions on qualifying failures.
func (o *Orchestrator) runModel(ctx context.Context, userID string, model config.ModelDescriptor, history []types.Message, prompt string, attachments []types.Attachment, visionAnalysis string) types.BattleResult {
	start := time.Now()
	result := types.BattleResult{ModelID: model.ID, DisplayName: model.DisplayName}

	msgs := BuildMessages(model, history, prompt, attachments, visionAnalysis, o.cfg.HistoryWindow)
	opts := o.samplingOptions(model)

	adapter, ok := o.registry.Get(model.Provider)
	if !ok {
		result.IsError = true
		result.Text = errorPrefix + "This model's provider is not configured."
		o.finish(ctx, userID, model, model.Provider, result, start, "error")
		return result
	}

	text, err := o.dispatch(ctx, adapter, model, msgs, opts)
	if err == nil {
		o.health.RecordSuccess(model.Provider)
		result.Text = sanitize.Clean(text, false)
		o.finish(ctx, userID, model, model.Provider, result, start, "success")
		return result
	}
	o.health.RecordFailure(model.Provider, err)

	// Qualifying failures reroute to the configured fallback with
	// text-flattened messages. A fallback failure surfaces the original
	// error, not the fallback's.
	if model.Fallback != nil && fallbackEligible(err) {
		if fbAdapter, ok := o.registry.Get(model.Fallback.Provider); ok {
			fbText, fbErr := fbAdapter.Complete(ctx, model.Fallback.Model, FlattenMessages(msgs), opts)
			if fbErr == nil {
				o.health.RecordSuccess(model.Fallback.Provider)
				result.Text = sanitize.Clean(fbText, false)
				result.UsedFallback = true
				if o.metrics != nil {
					o.metrics.RecordFallback(model.ID)
				}
				o.finish(ctx, userID, model, model.Fallback.Provider, result, start, "fallback")
				return result
			}
			o.health.RecordFailure(model.Fallback.Provider, fbErr)
			slog.Warn("fallback failed, surfacing original error",
				"model", model.ID, "fallback_model", model.Fallback.Model, "error", fbErr)
		}
	} else if model.Vision && len(ImageAttachments(attachments)) > 0 && providers.IsServerError(err) {
		// One retry without images after a vision model's server error.
		retryText, retryErr := o.dispatch(ctx, adapter, model, ReplaceImagesWithNote(msgs), opts)
		if retryErr == nil {
			o.health.RecordSuccess(model.Provider)
			result.Text = visionRetryWarning + sanitize.Clean(retryText, false)
			o.finish(ctx, userID, model, model.Provider, result, start, "retry")
			return result
		}
		o.health.RecordFailure(model.Provider, retryErr)
	}

	result.IsError = true
	result.Text = errorPrefix + classifyError(err)
	slog.Warn("model errored", "model", model.ID, "provider", model.Provider.String(), "error", err)
	o.finish(ctx, userID, model, model.Provider, result, start, "error")
	return result
}

// dispatch calls the adapter, racing chat-completion models against their
// deadline: 30s when a fallback is configured, 60s otherwise. Other provider
// families run with no artificial deadline. Adapters that cannot cancel an
// expired call leave it running in the background; that leak is accepted.
func (o *Orchestrator) dispatch(ctx context.Context, adapter providers.Adapter, model config.ModelDescriptor, msgs []types.Message, opts providers.CompletionOptions) (string, error) {
	if model.Provider == types.FamilyChatCompletion {
		deadline := o.cfg.NoFallbackDeadline
		if model.Fallback != nil {
			deadline = o.cfg.FallbackDeadline
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}
	return adapter.Complete(ctx, model.ID, msgs, opts)
}

func (o *Orchestrator) samplingOptions(model config.ModelDescriptor) providers.CompletionOptions {
	if model.NoSamplingParams {
		return providers.CompletionOptions{}
	}
	temp := defaultTemperature
	maxTokens := defaultMaxTokens
	return providers.CompletionOptions{Temperature: &temp, MaxTokens: &maxTokens}
}

// fallbackEligible covers timeouts, 5xx responses, and connection aborts.
func fallbackEligible(err error) bool {
	return providers.IsTimeout(err) || providers.IsServerError(err)
}

func classifyError(err error) string {
	switch {
	case providers.IsTimeout(err):
		return "The model took too long to respond. Please try again."
	case providers.IsServerError(err):
		return "The AI service is temporarily unavailable. Please try again later."
	case providers.IsRateLimited(err):
		return "This model is receiving too many requests right now. Please try again shortly."
	case providers.IsMissingCredentials(err):
		return "This model's provider is not configured."
	default:
		return "Something went wrong with this model."
	}
}

// finish records metrics and reports the usage record. Usage logging is
// fire-and-forget; provider attribution follows the family that actually
// served the response.
func (o *Orchestrator) finish(ctx context.Context, userID string, model config.ModelDescriptor, served types.ProviderFamily, result types.BattleResult, start time.Time, outcome string) {
	elapsed := time.Since(start)

	if o.metrics != nil {
		o.metrics.RecordModelResult(model.ID, served.String(), outcome, float64(elapsed.Milliseconds()))
	}

	if o.usage == nil {
		return
	}
	rec := types.UsageRecord{
		UserID:       userID,
		ModelID:      model.ID,
		DisplayName:  model.DisplayName,
		Provider:     served,
		UsedFallback: result.UsedFallback,
		IsError:      result.IsError,
		ResponseMs:   elapsed.Milliseconds(),
		CostUSD:      0, // all configured providers are free tier
		CreatedAt:    time.Now().UTC(),
	}
	go func() {
		logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		if err := o.usage.LogUsage(logCtx, rec); err != nil {
			slog.Warn("usage logging failed", "model", rec.ModelID, "error", err)
		}
	}()
}
