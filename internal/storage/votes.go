package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Vote records which model a voter preferred in a battle. VoterID is never
// empty: authenticated voters are keyed by user, anonymous ones by client IP,
// so the conflict target always dedupes re-votes.
type Vote struct {
	BattleID string `json:"battleId"`
	VoterID  string `json:"-"`
	ModelID  string `json:"modelId"`
}

// SaveVote records one vote. Re-voting on the same battle replaces the
// previous choice.
func (s *Store) SaveVote(ctx context.Context, v Vote) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO votes (id, battle_id, voter_id, model_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (battle_id, voter_id)
		DO UPDATE SET model_id = EXCLUDED.model_id, created_at = NOW()
	`, uuid.NewString(), v.BattleID, v.VoterID, v.ModelID)
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

// VoteCount is the aggregate vote tally for one model.
type VoteCount struct {
	ModelID string `json:"modelId"`
	Votes   int64  `json:"votes"`
}

// VoteTallies returns total votes per model across all battles.
func (s *Store) VoteTallies(ctx context.Context) ([]VoteCount, error) {
	rows, err := s.db.Query(ctx, `
		SELECT model_id, COUNT(*) AS votes
		FROM votes
		GROUP BY model_id
		ORDER BY votes DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query vote tallies: %w", err)
	}
	defer rows.Close()

	var out []VoteCount
	for rows.Next() {
		var v VoteCount
		if err := rows.Scan(&v.ModelID, &v.Votes); err != nil {
			return nil, fmt.Errorf("scan vote tally: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
