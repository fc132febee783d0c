package engine

import (
	"context"
	"time"

	"github.com/thoreinstein/capstan/internal/backup"
	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/pkgfile"
	"github.com/thoreinstein/capstan/internal/version"
)

// UpdateOptions configures an update run.
type UpdateOptions struct {
	// Force installs the package version even when it is not newer than the
	// installed one.
	Force bool

	// BackupDir overrides where the pre-update backup is stored.
	BackupDir string
}

// ErrAlreadyCurrent is returned by Update when the installed version is at
// least the package version and Force is not set. Nothing was mutated.
var ErrAlreadyCurrent = errors.New("installed version is current")

// Update replaces the installation at root with the package contents: the
// install root is backed up, the existing installation uninstalled, and the
// package installed fresh. On failure after the uninstall began, the backed
// up files are restored so the machine keeps a working copy.
//
// With nothing installed at root, Update degrades to a plain Install.
func (e *Engine) Update(ctx context.Context, pkg *pkgfile.Reader, root string, opts UpdateOptions) (*Result, error) {
	m := pkg.Manifest()

	current, err := version.Current(root)
	if errors.Is(err, errors.ErrNothingInstalled) {
		return e.Install(ctx, pkg, root)
	}
	if err != nil {
		return nil, err
	}

	if !opts.Force {
		newer, err := version.NeedsUpdate(current, m.Version)
		if err != nil {
			return nil, err
		}
		if !newer {
			return nil, errors.Wrapf(ErrAlreadyCurrent,
				"installed %s, package %s", current, m.Version)
		}
	}

	mgr := backup.NewManager(backup.WithBackupDir(opts.BackupDir))
	bak, err := mgr.Create(m.Product, root)
	if err != nil {
		return nil, errors.Wrap(err, "backing up before update")
	}
	e.logger.Info("backed up install root",
		"product", m.Product, "backup", bak.ID, "files", len(bak.Files))

	res, err := e.Uninstall(ctx, root)
	if err == nil {
		res, err = e.Install(ctx, pkg, root)
	}
	if err != nil {
		// A failed rollback means the machine needs manual attention;
		// restoring files over it could make matters worse.
		if errors.Is(err, errors.ErrRollbackFailed) {
			return res, err
		}
		e.logger.Warn("update failed, restoring backup", "backup", bak.ID, "cause", err)
		if rerr := mgr.Restore(m.Product, bak.ID, root); rerr != nil {
			return res, errors.Join(err, errors.Wrap(rerr, "restoring backup"))
		}
		if verr := version.Save(root, current); verr != nil {
			e.logger.Warn("restoring version file", "error", verr)
		}
		return res, err
	}

	res.Finished = time.Now()
	if err := mgr.Prune(m.Product); err != nil {
		e.logger.Warn("pruning old backups", "error", err)
	}
	e.logger.Info("update completed",
		"product", m.Product, "from", current, "to", m.Version)
	return res, nil
}
