package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/pocharness/internal/classify"
	"github.com/roach88/pocharness/internal/report"
	"github.com/roach88/pocharness/internal/sandbox"
)

// Run is one recorded harness run.
type Run struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Repeat    int
	Cases     int
	Pass      bool
	Attempts  []Attempt
}

// Attempt is one execution of one case.
type Attempt struct {
	CaseID     string
	Attempt    int
	Outcome    sandbox.OutcomeKind
	Status     classify.Status
	ExitStatus string
	WallTime   time.Duration
	Skipped    bool
}

// NewRun flattens a summary and its per-case attempts into a Run.
func NewRun(s *report.Summary, runs []report.CaseRun) Run {
	r := Run{
		ID:        s.RunID,
		StartedAt: s.StartedAt,
		Duration:  s.Duration,
		Repeat:    s.Repeat,
		Cases:     len(s.Cases),
		Pass:      s.Pass,
	}
	for _, cr := range runs {
		for i, res := range cr.Attempts {
			a := Attempt{
				CaseID:     cr.Case.ID,
				Attempt:    i + 1,
				Outcome:    res.Outcome,
				ExitStatus: res.ExitStatus(),
				WallTime:   res.WallTime,
				Skipped:    res.Skipped,
			}
			if i < len(cr.Verdicts) {
				a.Status = cr.Verdicts[i].Status
			}
			r.Attempts = append(r.Attempts, a)
		}
	}
	return r
}

// RecordRun stores a run and its attempts in one transaction.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	if r.ID == "" {
		return errors.New("record run: run id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, duration_ns, repeat, cases, pass)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		int64(r.Duration),
		r.Repeat,
		r.Cases,
		boolInt(r.Pass),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.ID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attempts (run_seq, case_id, attempt, outcome, status, exit_status, wall_time_ns, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.ID, err)
	}
	defer stmt.Close()

	for _, a := range r.Attempts {
		if _, err := stmt.ExecContext(ctx,
			seq, a.CaseID, a.Attempt, string(a.Outcome), string(a.Status),
			a.ExitStatus, int64(a.WallTime), boolInt(a.Skipped),
		); err != nil {
			return fmt.Errorf("record attempt %s/%d: %w", a.CaseID, a.Attempt, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record run %s: %w", r.ID, err)
	}
	return nil
}

// RunInfo is a stored run without its attempts.
type RunInfo struct {
	Seq       int64         `json:"seq"`
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Repeat    int           `json:"repeat"`
	Cases     int           `json:"cases"`
	Pass      bool          `json:"pass"`
}

// Runs returns the last n runs, newest first. n <= 0 returns all runs.
func (s *Store) Runs(ctx context.Context, n int) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, started_at, duration_ns, repeat, cases, pass
		FROM runs
		ORDER BY seq DESC
		LIMIT ?
	`, limit(n))
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var (
			ri      RunInfo
			started string
			dur     int64
			pass    int
		)
		if err := rows.Scan(&ri.Seq, &ri.ID, &started, &dur, &ri.Repeat, &ri.Cases, &pass); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		ri.StartedAt, err = time.Parse(time.RFC3339Nano, started)
		if err != nil {
			return nil, fmt.Errorf("run %s: bad started_at %q: %w", ri.ID, started, err)
		}
		ri.Duration = time.Duration(dur)
		ri.Pass = pass == 1
		out = append(out, ri)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// Prune deletes all but the newest keep runs and returns how many were
// removed. Attempts go with their run.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("prune: keep must be >= 0, got %d", keep)
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE seq NOT IN (SELECT seq FROM runs ORDER BY seq DESC LIMIT ?)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// limit maps n <= 0 to SQLite's "no limit".
func limit(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}
