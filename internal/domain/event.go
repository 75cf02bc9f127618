package domain

import "time"

// Stage names, in pipeline order.
const (
	StageMerge          = "merge"
	StageElevation      = "elevation"
	StagePopulation     = "population"
	StageRecommendation = "recommendation"
)

// Stages lists every stage in the order RunAll executes them.
var Stages = []string{StageMerge, StageElevation, StagePopulation, StageRecommendation}

// Run statuses.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunFailed  = "failed"
)

// Run is one execution of a stage, as recorded in the run ledger and
// published when the stage finishes.
type Run struct {
	ID         string     `json:"id"`
	Stage      string     `json:"stage"`
	Status     string     `json:"status"`
	RowsIn     int        `json:"rows_in"`
	RowsOut    int        `json:"rows_out"`
	RowsFailed int        `json:"rows_failed"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration is the wall-clock time of a finished run, or zero while running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
