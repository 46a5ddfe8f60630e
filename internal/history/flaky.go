package history

import (
	"context"
	"fmt"

	"github.com/roach88/pocharness/internal/sandbox"
)

// CaseHistory is the outcome sequence of one case across recent runs,
// oldest first.
type CaseHistory struct {
	CaseID   string                `json:"case_id"`
	Outcomes []sandbox.OutcomeKind `json:"outcomes"`
	Flaky    bool                  `json:"flaky"`
}

// lastRuns selects the seq of the newest n runs.
const lastRuns = `SELECT seq FROM runs ORDER BY seq DESC LIMIT ?`

// FlakyCases returns the ids of cases whose outcome kind differed between
// any two attempts in the last n runs. n <= 0 considers every run.
func (s *Store) FlakyCases(ctx context.Context, n int) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT case_id
		FROM attempts
		WHERE run_seq IN (`+lastRuns+`)
		GROUP BY case_id
		HAVING COUNT(DISTINCT outcome) > 1
		ORDER BY case_id
	`, limit(n))
	if err != nil {
		return nil, fmt.Errorf("query flaky cases: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan flaky case: %w", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flaky cases: %w", err)
	}
	return out, nil
}

// Cases returns the outcome history of every case seen in the last n runs,
// ordered by case id.
func (s *Store) Cases(ctx context.Context, n int) ([]CaseHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT case_id, outcome
		FROM attempts
		WHERE run_seq IN (`+lastRuns+`)
		ORDER BY case_id ASC, run_seq ASC, attempt ASC
	`, limit(n))
	if err != nil {
		return nil, fmt.Errorf("query case history: %w", err)
	}
	defer rows.Close()

	var out []CaseHistory
	for rows.Next() {
		var id, outcome string
		if err := rows.Scan(&id, &outcome); err != nil {
			return nil, fmt.Errorf("scan case history: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].CaseID != id {
			out = append(out, CaseHistory{CaseID: id})
		}
		h := &out[len(out)-1]
		h.Outcomes = append(h.Outcomes, sandbox.OutcomeKind(outcome))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate case history: %w", err)
	}

	for i := range out {
		out[i].Flaky = distinct(out[i].Outcomes) > 1
	}
	return out, nil
}

func distinct(outcomes []sandbox.OutcomeKind) int {
	seen := make(map[sandbox.OutcomeKind]bool, len(outcomes))
	for _, o := range outcomes {
		seen[o] = true
	}
	return len(seen)
}
