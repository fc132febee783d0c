package engine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/pkgfile"
	"github.com/thoreinstein/capstan/internal/reconcile"
	"github.com/thoreinstein/capstan/internal/state"
	"github.com/thoreinstein/capstan/internal/txlog"
)

// Repair brings the installation at root back in line with the package
// manifest. The reconciler computes the minimal plan; only damaged files are
// restaged (fetched individually via the package's offset table) and only
// absent actions re-applied. New records append to the existing log. Repair
// never deletes anything.
func (e *Engine) Repair(ctx context.Context, pkg *pkgfile.Reader, root string) (*Result, *reconcile.RepairPlan, error) {
	m := pkg.Manifest()
	res := &Result{
		State:          StateNotStarted,
		Product:        m.Product,
		ProductVersion: m.Version,
		InstallRoot:    root,
		Started:        time.Now(),
	}
	defer func() { res.Finished = time.Now() }()

	st, err := state.Load(root)
	if err != nil {
		return res, nil, err
	}

	lock, err := state.AcquireLock(root)
	if err != nil {
		return res, nil, err
	}
	defer lock.Release()

	log, err := txlog.Open(st.LogPath)
	if err != nil {
		return res, nil, err
	}
	defer log.Close()

	plan, err := reconcile.Diff(ctx, m, root, log, e.provider)
	if err != nil {
		return res, nil, err
	}
	if plan.Empty() {
		res.State = StateCompleted
		res.Actions = outcomes(log)
		e.logger.Info("repair found nothing to do", "product", m.Product, "root", root)
		return res, plan, nil
	}

	// Actions from the installation being repaired must survive a failed
	// repair; only this run's additions roll back.
	priorIDs := make(map[string]bool)
	for _, rec := range log.Records() {
		priorIDs[rec.ActionID] = true
	}

	res.State = StateStaging
	err = e.restage(ctx, pkg, log, root, plan)
	if err == nil {
		res.State = StateCommitting
		only := make(map[int]bool)
		for _, a := range plan.Reapply() {
			only[a.Index] = true
		}
		err = e.applyActions(ctx, log, root, m.Actions, only)
	}
	if err != nil {
		e.logger.Warn("repair failed, rolling back this run", "cause", err)
		res.State = StateRollingBack
		unreversed := e.rollbackRun(log, root, priorIDs)
		res.Actions = outcomes(log)
		if len(unreversed) > 0 {
			res.State = StateFailed
			res.Unreversed = unreversed
			return res, plan, errors.Wrapf(errors.ErrRollbackFailed,
				"%d action(s) could not be reversed after: %v", len(unreversed), err)
		}
		res.State = StateRolledBack
		return res, plan, err
	}

	st.UpdatedAt = time.Now().UTC()
	if err := state.Save(root, st); err != nil {
		return res, plan, err
	}

	res.State = StateCompleted
	res.Actions = outcomes(log)
	e.logger.Info("repair completed",
		"product", m.Product, "root", root,
		"files_restored", len(plan.Damaged()), "actions_reapplied", len(plan.Reapply()))
	return res, plan, nil
}

// restage re-fetches the plan's damaged files from the package and stages
// them into place, recreating missing parent directories first.
func (e *Engine) restage(ctx context.Context, pkg *pkgfile.Reader, log *txlog.Log, root string, plan *reconcile.RepairPlan) error {
	damaged := plan.Damaged()
	if len(damaged) == 0 {
		return nil
	}

	if err := e.stageDirs(ctx, log, root, damaged); err != nil {
		return err
	}

	stagingDir := filepath.Join(root, stagingDirName)
	if err := os.MkdirAll(stagingDir, 0o700); err != nil {
		return errors.Wrap(err, "creating staging directory")
	}
	defer os.RemoveAll(stagingDir)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.stageWorkers)
	for _, f := range damaged {
		f := f
		g.Go(func() error {
			return e.stageFile(gctx, pkg, log, root, stagingDir, f)
		})
	}
	return g.Wait()
}
