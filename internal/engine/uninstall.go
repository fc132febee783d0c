package engine

import (
	"context"
	"os"
	"time"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/state"
	"github.com/thoreinstein/capstan/internal/txlog"
	"github.com/thoreinstein/capstan/internal/version"
)

// Uninstall reverses every committed action recorded for the installation at
// root, in strict reverse chronological order, then deletes the transaction
// log and InstallState as the final, irreversible step.
//
// Uninstall is idempotent against external tampering: a target the user
// already deleted is success, and a second uninstall finds no InstallState
// and returns ErrNothingInstalled.
func (e *Engine) Uninstall(ctx context.Context, root string) (*Result, error) {
	res := &Result{
		State:       StateNotStarted,
		InstallRoot: root,
		Started:     time.Now(),
	}
	defer func() { res.Finished = time.Now() }()

	st, err := state.Load(root)
	if err != nil {
		return res, err
	}
	res.Product = st.ProductName
	res.ProductVersion = st.ProductVersion

	lock, err := state.AcquireLock(root)
	if err != nil {
		return res, err
	}
	defer lock.Release()

	log, err := txlog.Open(st.LogPath)
	if err != nil {
		return res, err
	}
	defer log.Close()

	res.State = StateRollingBack
	var unreversed []ActionOutcome
	for _, rec := range log.IterReverse() {
		// Cancellation between actions; the log keeps what was already
		// reversed, so a re-run picks up where this one stopped.
		if err := ctx.Err(); err != nil {
			res.Actions = outcomes(log)
			return res, err
		}
		if err := e.reverseAction(ctx, rec, root); err != nil {
			e.logger.Error("reverse operation failed",
				"id", rec.ActionID, "kind", rec.Kind, "error", err)
			unreversed = append(unreversed, ActionOutcome{
				ID:     rec.ActionID,
				Kind:   rec.Kind,
				Status: rec.Status,
				Reason: err.Error(),
			})
			continue
		}
		if err := log.MarkRolledBack(rec.ActionID); err != nil {
			e.logger.Error("recording rollback failed", "id", rec.ActionID, "error", err)
		}
	}

	res.Actions = outcomes(log)
	if len(unreversed) > 0 {
		res.State = StateFailed
		res.Unreversed = unreversed
		return res, errors.Wrapf(errors.ErrRollbackFailed,
			"%d action(s) could not be reversed", len(unreversed))
	}

	log.Close()
	os.Remove(log.Path())
	if err := state.Remove(root); err != nil {
		e.logger.Warn("removing install state", "error", err)
	}
	if err := os.Remove(version.Path(root)); err != nil && !os.IsNotExist(err) {
		e.logger.Warn("removing version file", "error", err)
	}
	lock.Release()
	removeIfEmpty(root)

	res.State = StateCompleted
	e.logger.Info("uninstall completed", "product", st.ProductName, "root", root)
	return res, nil
}
