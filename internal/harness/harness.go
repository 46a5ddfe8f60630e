package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/pocharness/internal/classify"
	"github.com/roach88/pocharness/internal/history"
	"github.com/roach88/pocharness/internal/meta"
	"github.com/roach88/pocharness/internal/report"
	"github.com/roach88/pocharness/internal/sandbox"
)

// ErrRunCancelled is returned when the run context is cancelled. Partial
// results are discarded.
var ErrRunCancelled = errors.New("run cancelled")

// Executor runs one case. *sandbox.Runner is the production Executor.
//
// Run must return an error only when ctx is done; every per-case failure is
// reported in the result.
type Executor interface {
	Run(ctx context.Context, c *meta.CaseDescriptor) (*sandbox.ExecutionResult, error)
}

var _ Executor = (*sandbox.Runner)(nil)

// HistoryStore is the subset of *history.Store the harness uses.
type HistoryStore interface {
	FlakyCases(ctx context.Context, n int) (map[string]bool, error)
	RecordRun(ctx context.Context, r history.Run) error
}

var _ HistoryStore = (*history.Store)(nil)

// Harness drives the pipeline: every selected case goes through the
// Executor, its results through the Classifier, and the per-case runs are
// aggregated in registry order.
type Harness struct {
	Executor   Executor
	Classifier *classify.Classifier

	// Concurrency bounds the number of cases in flight.
	Concurrency int

	// Repeat is how many times each executable case is run. Attempts of one
	// case run one after another in the same worker slot.
	Repeat int

	Allowlist *report.Allowlist

	// History, when set, supplies cross-run flakiness and records this run.
	History HistoryStore

	// HistoryWindow is how many previous runs are consulted. 0 means all.
	HistoryWindow int

	Clock  Clock
	IDs    IDGenerator
	Logger *slog.Logger
}

// New returns a Harness with default classifier, clock and id generator.
func New(exec Executor, concurrency, repeat int, logger *slog.Logger) *Harness {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Harness{
		Executor:    exec,
		Classifier:  classify.New(),
		Concurrency: concurrency,
		Repeat:      repeat,
		Clock:       SystemClock{},
		IDs:         UUIDv7Generator{},
		Logger:      logger,
	}
}

// Result is a finished run.
type Result struct {
	Summary *report.Summary
	Runs    []report.CaseRun
}

// Run executes cases, which must be in registry order, and returns the
// aggregated result. malformed is carried into the summary.
//
// Per-case failures never abort the run. The only errors are cancellation
// (wrapping ErrRunCancelled) and misconfiguration.
func (h *Harness) Run(ctx context.Context, cases []*meta.CaseDescriptor, malformed []*meta.MetadataError) (*Result, error) {
	if h.Executor == nil {
		return nil, errors.New("harness: no executor")
	}
	if h.Concurrency < 1 {
		return nil, fmt.Errorf("harness: concurrency must be >= 1, got %d", h.Concurrency)
	}
	if h.Repeat < 1 {
		return nil, fmt.Errorf("harness: repeat must be >= 1, got %d", h.Repeat)
	}

	clock := h.clock()
	started := clock.Now()
	runID := h.ids().Generate()
	logger := h.logger().With("run_id", runID)
	logger.Info("run started", "cases", len(cases), "concurrency", h.Concurrency, "repeat", h.Repeat)

	// Each worker writes only its own slot, so results stay in registry
	// order whatever order cases finish in.
	runs := make([]report.CaseRun, len(cases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.Concurrency)
	for i, c := range cases {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			run, err := h.runCase(gctx, c, logger)
			if err != nil {
				return err
			}
			runs[i] = run
			return nil
		})
	}
	err := g.Wait()

	if ctx.Err() != nil {
		logger.Warn("run cancelled", "cause", context.Cause(ctx))
		return nil, fmt.Errorf("%w: %w", ErrRunCancelled, context.Cause(ctx))
	}
	if err != nil {
		return nil, fmt.Errorf("run cases: %w", err)
	}

	opts := report.Options{Allowlist: h.Allowlist, Malformed: malformed}
	if h.History != nil {
		flaky, err := h.History.FlakyCases(ctx, h.HistoryWindow)
		if err != nil {
			logger.Warn("read run history", "error", err)
		}
		opts.HistoryFlaky = flaky
	}

	s := report.Aggregate(runs, opts)
	s.RunID = runID
	s.StartedAt = started
	s.Duration = clock.Now().Sub(started)
	s.Repeat = h.Repeat

	if h.History != nil {
		if err := h.History.RecordRun(ctx, history.NewRun(s, runs)); err != nil {
			logger.Warn("record run history", "error", err)
		}
	}

	logger.Info("run finished",
		"pass", s.Pass,
		"matched", s.Totals.Matched,
		"attested", s.Totals.Attested,
		"failed", len(s.Failed),
		"duration", s.Duration,
	)
	return &Result{Summary: s, Runs: runs}, nil
}

// runCase executes every attempt of one case.
func (h *Harness) runCase(ctx context.Context, c *meta.CaseDescriptor, logger *slog.Logger) (report.CaseRun, error) {
	run := report.CaseRun{Case: c}
	for attempt := 1; attempt <= h.Repeat; attempt++ {
		res, err := h.Executor.Run(ctx, c)
		if err != nil {
			return run, fmt.Errorf("case %s: %w", c.ID, err)
		}
		res.Attempt = attempt
		v := h.classifier().Classify(c, res)
		run.Attempts = append(run.Attempts, res)
		run.Verdicts = append(run.Verdicts, v)

		logger.Info("case finished",
			"case_id", c.ID,
			"attempt", attempt,
			"outcome", res.Outcome,
			"status", v.Status,
			"wall_time", res.WallTime,
		)

		// Repeating an attested case would observe nothing new.
		if res.Skipped {
			break
		}
	}
	return run, nil
}

func (h *Harness) classifier() *classify.Classifier {
	if h.Classifier == nil {
		return classify.New()
	}
	return h.Classifier
}

func (h *Harness) clock() Clock {
	if h.Clock == nil {
		return SystemClock{}
	}
	return h.Clock
}

func (h *Harness) ids() IDGenerator {
	if h.IDs == nil {
		return UUIDv7Generator{}
	}
	return h.IDs
}

func (h *Harness) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return h.Logger
}
