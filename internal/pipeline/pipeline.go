package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/school-connectivity-etl/internal/domain"
	"github.com/couchcryptid/school-connectivity-etl/internal/observability"
)

var (
	// ErrBusy is returned when a run is requested while another is active.
	ErrBusy = errors.New("another pipeline run is in progress")
	// ErrUnknownStage is returned for a stage name the runner does not own.
	ErrUnknownStage = errors.New("unknown stage")
)

// Stage is one batch step that reads the previous stage's output and writes
// its own.
type Stage interface {
	Name() string
	Run(ctx context.Context) (StageResult, error)
}

// StageResult summarizes a finished stage.
type StageResult struct {
	Stage      string `json:"stage"`
	RunID      string `json:"runId"`
	RowsIn     int    `json:"rowsIn"`
	RowsOut    int    `json:"rowsOut"`
	RowsFailed int    `json:"rowsFailed"`
	Output     string `json:"output"`
	DurationMs int64  `json:"durationMs"`

	Recommendations []domain.Recommendation `json:"-"`
}

// RunStore records the run ledger.
type RunStore interface {
	StartRun(ctx context.Context, stage string) (domain.Run, error)
	FinishRun(ctx context.Context, run domain.Run) (domain.Run, error)
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)
	Ping(ctx context.Context) error
}

// Publisher announces finished runs.
type Publisher interface {
	PublishRun(ctx context.Context, run domain.Run) error
	PublishRecommendations(ctx context.Context, runID string, recs []domain.Recommendation) error
}

// NopPublisher drops every event. Used when Kafka is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishRun(context.Context, domain.Run) error { return nil }

func (NopPublisher) PublishRecommendations(context.Context, string, []domain.Recommendation) error {
	return nil
}

// Runner executes stages one at a time and records each run.
type Runner struct {
	stages    []Stage
	byName    map[string]Stage
	store     RunStore
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	mu        sync.Mutex
}

// NewRunner creates a Runner over stages, which RunAll executes in the
// order given.
func NewRunner(stages []Stage, store RunStore, publisher Publisher, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	byName := make(map[string]Stage, len(stages))
	for _, s := range stages {
		byName[s.Name()] = s
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Runner{
		stages:    stages,
		byName:    byName,
		store:     store,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run executes a single stage by name.
func (r *Runner) Run(ctx context.Context, name string) (StageResult, error) {
	stage, ok := r.byName[name]
	if !ok {
		return StageResult{}, fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	if !r.mu.TryLock() {
		return StageResult{}, ErrBusy
	}
	defer r.mu.Unlock()
	return r.runStage(ctx, stage)
}

// RunAll executes every stage in order and stops at the first failure.
// The results of the stages that ran are returned either way.
func (r *Runner) RunAll(ctx context.Context) ([]StageResult, error) {
	if !r.mu.TryLock() {
		return nil, ErrBusy
	}
	defer r.mu.Unlock()

	results := make([]StageResult, 0, len(r.stages))
	for _, stage := range r.stages {
		res, err := r.runStage(ctx, stage)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Runs returns the most recent entries of the run ledger.
func (r *Runner) Runs(ctx context.Context, limit int) ([]domain.Run, error) {
	return r.store.ListRuns(ctx, limit)
}

// CheckReadiness reports whether the run ledger is reachable.
func (r *Runner) CheckReadiness(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		return fmt.Errorf("run store unavailable: %w", err)
	}
	return nil
}

func (r *Runner) runStage(ctx context.Context, stage Stage) (StageResult, error) {
	name := stage.Name()
	logger := r.logger.With("stage", name)

	run, err := r.store.StartRun(ctx, name)
	if err != nil {
		return StageResult{}, fmt.Errorf("%s stage: %w", name, err)
	}
	logger = logger.With("run_id", run.ID)
	logger.Info("stage started")

	r.metrics.PipelineRunning.Set(1)
	defer r.metrics.PipelineRunning.Set(0)

	start := time.Now()
	res, runErr := stage.Run(ctx)
	elapsed := time.Since(start)

	res.Stage = name
	res.RunID = run.ID
	res.DurationMs = elapsed.Milliseconds()

	run.RowsIn, run.RowsOut, run.RowsFailed = res.RowsIn, res.RowsOut, res.RowsFailed
	run.Output = res.Output
	run.Status = domain.RunSuccess
	if runErr != nil {
		run.Status = domain.RunFailed
		run.Error = runErr.Error()
	}

	// The ledger entry must close even when ctx was what stopped the stage.
	bg := context.WithoutCancel(ctx)
	run, err = r.store.FinishRun(bg, run)
	if err != nil {
		logger.Error("record run failed", "error", err)
	}

	r.metrics.StageRuns.WithLabelValues(name, run.Status).Inc()
	r.metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if runErr != nil {
		logger.Error("stage failed", "error", runErr, "duration", run.Duration())
		r.publish(bg, logger, run, nil)
		return res, fmt.Errorf("%s stage: %w", name, runErr)
	}

	r.metrics.RowsProcessed.WithLabelValues(name).Add(float64(res.RowsOut))
	r.metrics.RowErrors.WithLabelValues(name).Add(float64(res.RowsFailed))
	logger.Info("stage finished",
		"rows_in", res.RowsIn,
		"rows_out", res.RowsOut,
		"rows_failed", res.RowsFailed,
		"output", res.Output,
		"duration", run.Duration(),
	)
	r.publish(bg, logger, run, res.Recommendations)
	return res, nil
}

// publish logs failures instead of returning them.
func (r *Runner) publish(ctx context.Context, logger *slog.Logger, run domain.Run, recs []domain.Recommendation) {
	if err := r.publisher.PublishRun(ctx, run); err != nil {
		logger.Warn("publish run event failed", "error", err)
	}
	if len(recs) == 0 {
		return
	}
	if err := r.publisher.PublishRecommendations(ctx, run.ID, recs); err != nil {
		logger.Warn("publish recommendations failed", "error", err, "count", len(recs))
	}
}
