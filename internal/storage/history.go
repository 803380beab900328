package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chatbattles/chatbattles/internal/types"
)

// BattleSummary is one persisted battle with its per-model responses.
type BattleSummary struct {
	ID        string           `json:"id"`
	Prompt    string           `json:"prompt"`
	CreatedAt time.Time        `json:"createdAt"`
	Responses []BattleResponse `json:"responses"`
}

type BattleResponse struct {
	ModelID      string `json:"modelId"`
	DisplayName  string `json:"displayName"`
	Text         string `json:"text"`
	UsedFallback bool   `json:"usedFallback"`
	IsError      bool   `json:"isError"`
}

// SaveBattle persists a completed battle and its responses in one
// transaction. Anonymous battles (empty userID) are stored without an owner
// and never surface in history.
func (s *Store) SaveBattle(ctx context.Context, userID, prompt string, results []types.BattleResult) (string, error) {
	battleID := uuid.NewString()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin battle tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO battles (id, user_id, prompt, created_at)
		VALUES ($1, NULLIF($2, ''), $3, NOW())
	`, battleID, userID, prompt)
	if err != nil {
		return "", fmt.Errorf("insert battle: %w", err)
	}

	for i, res := range results {
		_, err = tx.Exec(ctx, `
			INSERT INTO battle_responses (id, battle_id, position, model_id, display_name, response_text, used_fallback, is_error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, uuid.NewString(), battleID, i, res.ModelID, res.DisplayName, res.Text, res.UsedFallback, res.IsError)
		if err != nil {
			return "", fmt.Errorf("insert battle response: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit battle tx: %w", err)
	}
	return battleID, nil
}

// ListHistory returns the user's most recent battles, newest first.
func (s *Store) ListHistory(ctx context.Context, userID string, limit int) ([]BattleSummary, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, prompt, created_at
		FROM battles
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query battles: %w", err)
	}

	battles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (BattleSummary, error) {
		var b BattleSummary
		err := row.Scan(&b.ID, &b.Prompt, &b.CreatedAt)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect battles: %w", err)
	}
	if len(battles) == 0 {
		return []BattleSummary{}, nil
	}

	ids := make([]string, len(battles))
	index := make(map[string]int, len(battles))
	for i, b := range battles {
		ids[i] = b.ID
		index[b.ID] = i
	}

	respRows, err := s.db.Query(ctx, `
		SELECT battle_id, model_id, display_name, response_text, used_fallback, is_error
		FROM battle_responses
		WHERE battle_id = ANY($1)
		ORDER BY battle_id, position
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query battle responses: %w", err)
	}
	defer respRows.Close()

	for respRows.Next() {
		var battleID string
		var r BattleResponse
		if err := respRows.Scan(&battleID, &r.ModelID, &r.DisplayName, &r.Text, &r.UsedFallback, &r.IsError); err != nil {
			return nil, fmt.Errorf("scan battle response: %w", err)
		}
		if i, ok := index[battleID]; ok {
			battles[i].Responses = append(battles[i].Responses, r)
		}
	}
	return battles, respRows.Err()
}
