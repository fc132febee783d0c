package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/manifest"
	"github.com/thoreinstein/capstan/internal/pkgfile"
	"github.com/thoreinstein/capstan/internal/state"
	"github.com/thoreinstein/capstan/internal/txlog"
	"github.com/thoreinstein/capstan/internal/version"
)

// stagingDirName holds in-flight file content under the install root so the
// final move into place is a same-filesystem rename.
const stagingDirName = ".capstan-staging"

// Install runs a full installation of the package into root. On failure
// everything committed in this run is rolled back; the returned Result
// carries the terminal state and every attempted action.
func (e *Engine) Install(ctx context.Context, pkg *pkgfile.Reader, root string) (*Result, error) {
	m := pkg.Manifest()
	res := &Result{
		State:          StateNotStarted,
		Product:        m.Product,
		ProductVersion: m.Version,
		InstallRoot:    root,
		Started:        time.Now(),
	}
	defer func() { res.Finished = time.Now() }()

	lock, err := state.AcquireLock(root)
	if err != nil {
		return res, err
	}
	defer lock.Release()

	// A completed installation must go through update or repair; installing
	// over it would mix two runs' records in one log.
	if _, err := state.Load(root); err == nil {
		return res, errors.Wrapf(errors.ErrAlreadyInstalled,
			"%s at %s", m.Product, root)
	} else if !errors.Is(err, errors.ErrNothingInstalled) {
		return res, err
	}

	log, err := txlog.Open(state.LogPath(root))
	if err != nil {
		return res, err
	}
	defer log.Close()

	// Committed records already in the log are leftovers of a crashed run
	// that never reached its commit point. The new run installs over them,
	// but a failure here reverses only this run's own actions.
	priorIDs := make(map[string]bool)
	for _, rec := range log.Records() {
		priorIDs[rec.ActionID] = true
	}

	res.State = StateStaging
	err = e.stageAll(ctx, pkg, log, root, m.Files)
	if err == nil {
		res.State = StateCommitting
		err = e.applyActions(ctx, log, root, m.Actions, nil)
	}
	if err != nil {
		return e.abort(res, log, lock, root, priorIDs, err)
	}

	// Commit point: InstallState is written only after every file and action
	// is Committed. A crash before this line is a non-install; after it, a
	// complete success.
	checksum, err := m.Checksum()
	if err != nil {
		return e.abort(res, log, lock, root, priorIDs, err)
	}
	if err := version.Save(root, m.Version); err != nil {
		return e.abort(res, log, lock, root, priorIDs, err)
	}
	if err := state.Save(root, &state.InstallState{
		ProductName:      m.Product,
		ProductVersion:   m.Version,
		InstallRoot:      root,
		ManifestChecksum: checksum,
		LogPath:          state.LogPath(root),
		InstalledAt:      time.Now().UTC(),
	}); err != nil {
		return e.abort(res, log, lock, root, priorIDs, err)
	}

	res.State = StateCompleted
	res.Actions = outcomes(log)
	e.logger.Info("install completed",
		"product", m.Product, "version", m.Version, "root", root,
		"files", len(m.Files), "actions", len(m.Actions))
	return res, nil
}

// abort rolls back everything committed so far in this run and finalizes the
// result as RolledBack or, when rollback itself fails, Failed. Records in
// priorIDs belong to an earlier run and are left untouched.
func (e *Engine) abort(res *Result, log *txlog.Log, lock *state.Lock, root string, priorIDs map[string]bool, cause error) (*Result, error) {
	e.logger.Warn("install failed, rolling back", "cause", cause)
	res.State = StateRollingBack

	unreversed := e.rollbackRun(log, root, priorIDs)
	res.Actions = outcomes(log)
	if len(unreversed) > 0 {
		res.State = StateFailed
		res.Unreversed = unreversed
		return res, errors.Wrapf(errors.ErrRollbackFailed,
			"%d action(s) could not be reversed after: %v", len(unreversed), cause)
	}

	res.State = StateRolledBack
	if len(priorIDs) > 0 {
		// An earlier run's records are still in the log; it stays.
		return res, cause
	}

	// Clean abort: the run left nothing behind, so its log goes too.
	log.Close()
	os.Remove(log.Path())
	lock.Release()
	removeIfEmpty(root)
	return res, cause
}

// stageAll stages every manifest file into place, component groups in
// dependency order, files within a group in parallel. Each staged file is a
// logged, reversible create_file action.
func (e *Engine) stageAll(ctx context.Context, pkg *pkgfile.Reader, log *txlog.Log, root string, files []manifest.FileEntry) error {
	if len(files) == 0 {
		return nil
	}

	if err := e.stageDirs(ctx, log, root, files); err != nil {
		return err
	}

	stagingDir := filepath.Join(root, stagingDirName)
	if err := os.MkdirAll(stagingDir, 0o700); err != nil {
		return errors.Wrap(err, "creating staging directory")
	}
	defer os.RemoveAll(stagingDir)

	for _, group := range groupByComponent(pkg.Manifest(), files) {
		if err := ctx.Err(); err != nil {
			return err
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.stageWorkers)
		for _, f := range group {
			f := f
			g.Go(func() error {
				return e.stageFile(gctx, pkg, log, root, stagingDir, f)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// stageFile decompresses one entry to the staging area, verifies its hash,
// then records intent and moves it into place.
func (e *Engine) stageFile(ctx context.Context, pkg *pkgfile.Reader, log *txlog.Log, root, stagingDir string, f manifest.FileEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(stagingDir, "stage-*")
	if err != nil {
		return errors.Wrap(err, "creating staging file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	stream, err := pkg.EntryReader(f)
	if err != nil {
		tmp.Close()
		return err
	}
	hasher := sha256.New()
	_, err = io.Copy(io.MultiWriter(tmp, hasher), stream)
	stream.Close()
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "staging %s", f.Path)
	}
	if got := hex.EncodeToString(hasher.Sum(nil)); got != f.SHA256 {
		return errors.Wrapf(errors.ErrCorruptPackage,
			"entry %s: payload hash %s does not match manifest", f.Path, got)
	}

	mode := fs.FileMode(0o644)
	if f.Executable {
		mode = 0o755
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return errors.Wrapf(err, "setting mode on %s", f.Path)
	}

	// Write-ahead: record intent, flush, then move into place.
	forward, reverse := fileParams(f)
	id, err := log.Begin(kindCreateFile, forward, reverse)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, f.Resolve(root)); err != nil {
		log.Fail(id, err.Error())
		return errors.NewActionError(kindCreateFile, err)
	}
	return log.Commit(id)
}

// stageDirs creates the parent directories the manifest files need, shortest
// first, logging only the ones that did not already exist. Directory creation
// is idempotent; an existing directory is success and is not logged, so
// uninstall will not remove directories this run did not create.
func (e *Engine) stageDirs(ctx context.Context, log *txlog.Log, root string, files []manifest.FileEntry) error {
	seen := map[string]bool{}
	var dirs []string
	for _, f := range files {
		for d := path.Dir(f.Path); d != "." && d != "/"; d = path.Dir(d) {
			if !seen[d] {
				seen[d] = true
				dirs = append(dirs, d)
			}
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) < len(dirs[j]) })

	for _, d := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		abs := filepath.Join(root, filepath.FromSlash(d))
		if _, err := os.Stat(abs); err == nil {
			continue
		}
		forward, reverse := dirParams(d)
		id, err := log.Begin(string(manifest.ActionCreateDirectory), forward, reverse)
		if err != nil {
			return err
		}
		if err := os.Mkdir(abs, 0o755); err != nil && !os.IsExist(err) {
			log.Fail(id, err.Error())
			return errors.NewActionError(string(manifest.ActionCreateDirectory), err)
		}
		if err := log.Commit(id); err != nil {
			return err
		}
	}
	return nil
}

// applyActions executes manifest platform actions strictly sequentially in
// declared order; later actions may depend on earlier ones. Cancellation is
// checked between actions, never mid-action. only, when non-nil, restricts
// execution to the listed manifest indexes (the repair path).
func (e *Engine) applyActions(ctx context.Context, log *txlog.Log, root string, actions []manifest.ActionSpec, only map[int]bool) error {
	for i, spec := range actions {
		if only != nil && !only[i] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var prevMode fs.FileMode
		if spec.Kind == manifest.ActionSetPermissions {
			info, err := os.Stat(filepath.Join(root, filepath.FromSlash(spec.Path)))
			if err != nil {
				return errors.NewActionError(string(spec.Kind), err)
			}
			prevMode = info.Mode()
		}

		forward, reverse, err := actionParams(spec, i, prevMode)
		if err != nil {
			return err
		}
		id, err := log.Begin(string(spec.Kind), forward, reverse)
		if err != nil {
			return err
		}
		if err := e.applyAction(ctx, spec, root); err != nil {
			log.Fail(id, err.Error())
			return errors.NewActionError(string(spec.Kind), err)
		}
		if err := log.Commit(id); err != nil {
			return err
		}
		e.logger.Debug("action committed", "id", id, "kind", string(spec.Kind), "index", i)
	}
	return nil
}

// applyAction performs one platform action's forward operation.
func (e *Engine) applyAction(ctx context.Context, spec manifest.ActionSpec, root string) error {
	switch spec.Kind {
	case manifest.ActionCreateDirectory:
		return os.MkdirAll(filepath.Join(root, filepath.FromSlash(spec.Path)), 0o755)
	case manifest.ActionCreateShortcut:
		target := filepath.Join(root, filepath.FromSlash(spec.Path))
		return e.provider.CreateShortcut(ctx, target, spec.LinkName, spec.Menu)
	case manifest.ActionRegisterService:
		return e.provider.RegisterService(ctx, *spec.Service, root)
	case manifest.ActionAddToPath:
		return e.provider.AddPathEntry(ctx, pathActionDir(spec, root))
	case manifest.ActionSetPermissions:
		abs := filepath.Join(root, filepath.FromSlash(spec.Path))
		return e.provider.SetPermissions(ctx, abs, fs.FileMode(spec.Mode))
	case manifest.ActionRunCommand:
		return e.provider.RunCommand(ctx, *spec.Command, root)
	default:
		return errors.Newf("unknown action kind %q", spec.Kind)
	}
}

// pathActionDir resolves an add_to_path action's directory; an empty path
// means the install root itself.
func pathActionDir(spec manifest.ActionSpec, root string) string {
	if spec.Path == "" {
		return root
	}
	return filepath.Join(root, filepath.FromSlash(spec.Path))
}

// groupByComponent splits files into staging groups: componentless files
// first, then one group per component in dependency order. Files within a
// group have no ordering dependency on each other and may stage in parallel.
func groupByComponent(m *manifest.Manifest, files []manifest.FileEntry) [][]manifest.FileEntry {
	if len(m.Components) == 0 {
		return [][]manifest.FileEntry{files}
	}

	byComponent := map[string][]manifest.FileEntry{}
	for _, f := range files {
		byComponent[f.Component] = append(byComponent[f.Component], f)
	}

	var groups [][]manifest.FileEntry
	if g := byComponent[""]; len(g) > 0 {
		groups = append(groups, g)
	}
	// Validate() guarantees an acyclic component graph for package-sourced
	// manifests; SortComponents errors only on cycles.
	sorted, err := m.SortComponents()
	if err != nil {
		return [][]manifest.FileEntry{files}
	}
	for _, c := range sorted {
		if g := byComponent[c.Name]; len(g) > 0 {
			groups = append(groups, g)
		}
	}
	return groups
}
