// Package engine orchestrates install, uninstall, repair and update as state
// machines built from the same primitives: stage a file, apply a platform
// action, record everything in the write-ahead transaction log, roll back on
// failure.
//
// The durability-first ordering is the correctness mechanism and is preserved
// exactly: intent is appended and flushed to the log before the corresponding
// OS effect is attempted, and a status entry follows the outcome. An undo
// stack held only in memory would be lost on crash; the log is not.
package engine

import (
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/thoreinstein/capstan/internal/platform"
	"github.com/thoreinstein/capstan/internal/txlog"
)

// State is the engine's position in a run.
type State string

const (
	StateNotStarted  State = "not_started"
	StateStaging     State = "staging"
	StateCommitting  State = "committing"
	StateCompleted   State = "completed"
	StateRollingBack State = "rolling_back"

	// StateRolledBack is a successful abort: the run failed but every
	// committed action was reversed.
	StateRolledBack State = "rolled_back"

	// StateFailed means rollback itself failed. The machine requires manual
	// intervention; the un-reversed actions are reported verbatim.
	StateFailed State = "failed"
)

// ActionOutcome is the final status of one logged action, reported to the
// operator for every terminal outcome, success or not.
type ActionOutcome struct {
	ID     string
	Kind   string
	Status txlog.Status
	Reason string
}

// Result describes a finished run: the terminal state plus the full list of
// attempted actions. On StateFailed, Unreversed lists the actions whose
// reverse operations did not complete.
type Result struct {
	State          State
	Product        string
	ProductVersion string
	InstallRoot    string
	Actions        []ActionOutcome
	Unreversed     []ActionOutcome
	Started        time.Time
	Finished       time.Time
}

// Duration returns the run's wall-clock duration.
func (r *Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Engine runs installation transactions against one install root at a time.
// It holds no cross-run state; the transaction log and InstallState at the
// install root are the only durable artifacts.
type Engine struct {
	logger   *slog.Logger
	provider platform.Provider

	// stageWorkers bounds parallel file staging within one component group.
	stageWorkers int
}

// New returns an Engine using the given platform provider.
func New(logger *slog.Logger, provider platform.Provider) *Engine {
	return &Engine{
		logger:       logger,
		provider:     provider,
		stageWorkers: runtime.GOMAXPROCS(0),
	}
}

// SetStageWorkers overrides the parallel staging width. Values below 1 are
// ignored.
func (e *Engine) SetStageWorkers(n int) {
	if n >= 1 {
		e.stageWorkers = n
	}
}

// outcomes snapshots the log's records as operator-facing outcomes.
func outcomes(log *txlog.Log) []ActionOutcome {
	recs := log.Records()
	out := make([]ActionOutcome, 0, len(recs))
	for _, rec := range recs {
		out = append(out, ActionOutcome{
			ID:     rec.ActionID,
			Kind:   rec.Kind,
			Status: rec.Status,
			Reason: rec.Reason,
		})
	}
	return out
}

// removeIfEmpty deletes dir when it contains no entries. Used to take the
// install root itself away after uninstall or a clean rollback; a root
// holding user files stays.
func removeIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	os.Remove(dir)
}
