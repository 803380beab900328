package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/chatbattles/chatbattles/internal/types"
)

// LogUsage inserts one usage record. The orchestrator calls this from a
// fire-and-forget goroutine; failures are logged by the caller, never
// propagated to the user.
func (s *Store) LogUsage(ctx context.Context, rec types.UsageRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO usage_logs (user_id, model_id, display_name, provider, used_fallback, is_error, response_ms, cost_usd, created_at)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		rec.UserID,
		rec.ModelID,
		rec.DisplayName,
		rec.Provider.String(),
		rec.UsedFallback,
		rec.IsError,
		rec.ResponseMs,
		rec.CostUSD,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage_logs: %w", err)
	}
	return nil
}

// UsageSummaryRow is one aggregated line of the admin usage report.
type UsageSummaryRow struct {
	Day          time.Time `json:"day"`
	ModelID      string    `json:"modelId"`
	Provider     string    `json:"provider"`
	Requests     int64     `json:"requests"`
	Errors       int64     `json:"errors"`
	Fallbacks    int64     `json:"fallbacks"`
	AvgLatencyMs float64   `json:"avgLatencyMs"`
}

// UsageSummary aggregates usage per model per day over the trailing window.
func (s *Store) UsageSummary(ctx context.Context, since time.Time) ([]UsageSummaryRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT date_trunc('day', created_at) AS day,
		       model_id,
		       provider,
		       COUNT(*) AS requests,
		       COUNT(*) FILTER (WHERE is_error) AS errors,
		       COUNT(*) FILTER (WHERE used_fallback) AS fallbacks,
		       COALESCE(AVG(response_ms), 0) AS avg_latency_ms
		FROM usage_logs
		WHERE created_at >= $1
		GROUP BY day, model_id, provider
		ORDER BY day DESC, requests DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	defer rows.Close()

	var out []UsageSummaryRow
	for rows.Next() {
		var r UsageSummaryRow
		if err := rows.Scan(&r.Day, &r.ModelID, &r.Provider, &r.Requests, &r.Errors, &r.Fallbacks, &r.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
