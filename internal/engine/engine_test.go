package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/logging"
	"github.com/thoreinstein/capstan/internal/manifest"
	"github.com/thoreinstein/capstan/internal/pkgfile"
	"github.com/thoreinstein/capstan/internal/state"
	"github.com/thoreinstein/capstan/internal/txlog"
	"github.com/thoreinstein/capstan/pkg/fileutil"
)

// buildPackage assembles a .cpk from the given file contents and actions.
func buildPackage(t *testing.T, files map[string]string, actions []manifest.ActionSpec) *pkgfile.Reader {
	t.Helper()

	src := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(src, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	skeleton := &manifest.Manifest{
		Product: "seatide",
		Version: "1.2.0",
		Actions: actions,
	}
	out := filepath.Join(t.TempDir(), "seatide.cpk")
	require.NoError(t, pkgfile.Build(out, src, skeleton, nil))

	r, err := pkgfile.Open(out)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func newTestEngine(t *testing.T) (*Engine, *fakeProvider) {
	t.Helper()
	provider := newFakeProvider()
	e := New(logging.ForTest(t), provider)
	e.SetStageWorkers(2)
	return e, provider
}

func TestInstall_Success(t *testing.T) {
	files := map[string]string{
		"bin/seatide":    "the binary",
		"share/data.txt": "data",
	}
	pkg := buildPackage(t, files, []manifest.ActionSpec{
		{Kind: manifest.ActionCreateShortcut, Path: "bin/seatide", LinkName: "SeaTide"},
		{Kind: manifest.ActionAddToPath, Path: "bin"},
	})
	e, provider := newTestEngine(t)
	root := filepath.Join(t.TempDir(), "seatide")

	res, err := e.Install(context.Background(), pkg, root)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, res.State)

	// Every manifest file exists with matching content hash.
	for rel := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		sum, err := fileutil.HashFile(path)
		require.NoError(t, err)
		entry, ok := pkg.Manifest().Entry(rel)
		require.True(t, ok)
		require.Equal(t, entry.SHA256, sum, "hash mismatch for %s", rel)
	}

	require.Contains(t, provider.callLog(), "create_shortcut:SeaTide")
	require.Contains(t, provider.callLog(), "add_to_path:bin")

	st, err := state.Load(root)
	require.NoError(t, err)
	require.Equal(t, "seatide", st.ProductName)
	require.Equal(t, "1.2.0", st.ProductVersion)

	v, err := os.ReadFile(filepath.Join(root, state.VersionFileName))
	require.NoError(t, err)
	require.Contains(t, string(v), "1.2.0")
}

func TestInstall_FailureRollsBackInReverseOrder(t *testing.T) {
	pkg := buildPackage(t, map[string]string{"bin/seatide": "b"}, []manifest.ActionSpec{
		{Kind: manifest.ActionCreateShortcut, Path: "bin/seatide", LinkName: "SeaTide"},
		{Kind: manifest.ActionAddToPath, Path: "bin"},
		{Kind: manifest.ActionRegisterService, Service: &manifest.ServiceSpec{Name: "seatide-agent", Exec: "bin/seatide"}},
		{Kind: manifest.ActionCreateDirectory, Path: "logs"},
	})
	e, provider := newTestEngine(t)
	provider.failOn["register_service:seatide-agent"] = errBoom

	root := filepath.Join(t.TempDir(), "seatide")
	res, err := e.Install(context.Background(), pkg, root)
	require.Error(t, err)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, StateRolledBack, res.State)

	var actionErr *errors.ActionError
	require.ErrorAs(t, err, &actionErr)
	require.Equal(t, "register_service", actionErr.Kind)

	// The two committed actions were reversed, most recent first, and the
	// fourth was never attempted.
	calls := provider.callLog()
	require.Equal(t, []string{
		"create_shortcut:SeaTide",
		"add_to_path:bin",
		"register_service:seatide-agent",
		"remove_path:bin",
		"remove_shortcut:SeaTide",
	}, calls)

	// The run left nothing behind: no files, no state, no log.
	_, err = state.Load(root)
	require.ErrorIs(t, err, errors.ErrNothingInstalled)
	_, err = os.Stat(root)
	require.True(t, os.IsNotExist(err), "install root should be gone after clean rollback")
}

func TestInstall_LockContention(t *testing.T) {
	pkg := buildPackage(t, map[string]string{"a.txt": "x"}, nil)
	e, _ := newTestEngine(t)
	root := t.TempDir()

	// A live process (this one) holds the lock.
	lock, err := state.AcquireLock(root)
	require.NoError(t, err)
	defer lock.Release()

	res, err := e.Install(context.Background(), pkg, root)
	require.ErrorIs(t, err, errors.ErrInstallInProgress)
	require.Equal(t, StateNotStarted, res.State)

	// No mutation happened.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1) // just the lock file
}

func TestInstall_CancellationRollsBack(t *testing.T) {
	pkg := buildPackage(t, map[string]string{"bin/seatide": "b"}, []manifest.ActionSpec{
		{Kind: manifest.ActionCreateShortcut, Path: "bin/seatide", LinkName: "SeaTide"},
		{Kind: manifest.ActionAddToPath, Path: "bin"},
	})
	e, provider := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	provider.onCall = func(op string) {
		if op == "create_shortcut:SeaTide" {
			cancel()
		}
	}

	root := filepath.Join(t.TempDir(), "seatide")
	res, err := e.Install(ctx, pkg, root)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateRolledBack, res.State)

	// The first action ran to completion (cancellation is only observed
	// between actions), the second never started, and the first was undone.
	calls := provider.callLog()
	require.Contains(t, calls, "create_shortcut:SeaTide")
	require.NotContains(t, calls, "add_to_path:bin")
	require.Contains(t, calls, "remove_shortcut:SeaTide")
}

func TestInstall_RollbackFailureIsFatal(t *testing.T) {
	pkg := buildPackage(t, map[string]string{"bin/seatide": "b"}, []manifest.ActionSpec{
		{Kind: manifest.ActionCreateShortcut, Path: "bin/seatide", LinkName: "SeaTide"},
		{Kind: manifest.ActionRegisterService, Service: &manifest.ServiceSpec{Name: "seatide-agent", Exec: "bin/seatide"}},
	})
	e, provider := newTestEngine(t)
	provider.failOn["register_service:seatide-agent"] = errBoom
	provider.failOn["remove_shortcut:SeaTide"] = errBoom

	root := filepath.Join(t.TempDir(), "seatide")
	res, err := e.Install(context.Background(), pkg, root)
	require.ErrorIs(t, err, errors.ErrRollbackFailed)
	require.Equal(t, StateFailed, res.State)
	require.Len(t, res.Unreversed, 1)
	require.Equal(t, "create_shortcut", res.Unreversed[0].Kind)

	// The log survives a failed rollback for manual inspection.
	_, err = os.Stat(state.LogPath(root))
	require.NoError(t, err)
}

func TestUninstall_RemovesExactlyWhatInstallAdded(t *testing.T) {
	pkg := buildPackage(t, map[string]string{
		"bin/seatide": "b",
		"share/doc":   "d",
	}, []manifest.ActionSpec{
		{Kind: manifest.ActionCreateShortcut, Path: "bin/seatide", LinkName: "SeaTide"},
	})
	e, provider := newTestEngine(t)
	root := filepath.Join(t.TempDir(), "seatide")

	_, err := e.Install(context.Background(), pkg, root)
	require.NoError(t, err)

	// A file the user added later must survive in place.
	userFile := filepath.Join(root, "share", "notes.txt")
	require.NoError(t, os.WriteFile(userFile, []byte("mine"), 0o644))

	res, err := e.Uninstall(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, res.State)

	require.Contains(t, provider.callLog(), "remove_shortcut:SeaTide")
	_, err = os.Stat(filepath.Join(root, "bin"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(userFile)
	require.NoError(t, err, "user file must survive uninstall")

	// Second uninstall is a clean no-op failure: nothing installed.
	_, err = e.Uninstall(context.Background(), root)
	require.ErrorIs(t, err, errors.ErrNothingInstalled)
}

func TestUninstall_MissingTargetIsSuccess(t *testing.T) {
	pkg := buildPackage(t, map[string]string{"bin/seatide": "b"}, nil)
	e, _ := newTestEngine(t)
	root := filepath.Join(t.TempDir(), "seatide")

	_, err := e.Install(context.Background(), pkg, root)
	require.NoError(t, err)

	// The user already deleted the staged file.
	require.NoError(t, os.Remove(filepath.Join(root, "bin", "seatide")))

	res, err := e.Uninstall(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, res.State)
	_, err = os.Stat(root)
	require.True(t, os.IsNotExist(err))
}

func TestRepair_RestoresDamagedFiles(t *testing.T) {
	files := map[string]string{
		"a.txt": "alpha content",
		"b.txt": "bravo content",
		"c.txt": "charlie content",
	}
	pkg := buildPackage(t, files, nil)
	e, _ := newTestEngine(t)
	root := filepath.Join(t.TempDir(), "seatide")

	_, err := e.Install(context.Background(), pkg, root)
	require.NoError(t, err)

	// Operator deletes A and edits B.
	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("edited"), 0o644))

	// Record C's mtime to prove repair leaves untouched files alone.
	cInfo, err := os.Stat(filepath.Join(root, "c.txt"))
	require.NoError(t, err)

	res, plan, err := e.Repair(context.Background(), pkg, root)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, res.State)
	require.Len(t, plan.Damaged(), 2)

	for rel, content := range files {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		require.NoError(t, err)
		require.Equal(t, content, string(data))
	}
	cAfter, err := os.Stat(filepath.Join(root, "c.txt"))
	require.NoError(t, err)
	require.Equal(t, cInfo.ModTime(), cAfter.ModTime(), "unchanged file was rewritten")

	// Repair is idempotent: a second run finds nothing to do.
	_, plan, err = e.Repair(context.Background(), pkg, root)
	require.NoError(t, err)
	require.True(t, plan.Empty(), "second repair should be a no-op")
}

func TestRepair_ReappliesAbsentActions(t *testing.T) {
	pkg := buildPackage(t, map[string]string{"bin/seatide": "b"}, []manifest.ActionSpec{
		{Kind: manifest.ActionCreateShortcut, Path: "bin/seatide", LinkName: "SeaTide"},
	})
	e, provider := newTestEngine(t)
	root := filepath.Join(t.TempDir(), "seatide")

	_, err := e.Install(context.Background(), pkg, root)
	require.NoError(t, err)

	// The user removed the shortcut behind the installer's back.
	provider.mu.Lock()
	delete(provider.shortcuts, "SeaTide")
	provider.mu.Unlock()

	_, plan, err := e.Repair(context.Background(), pkg, root)
	require.NoError(t, err)
	require.Len(t, plan.Reapply(), 1)

	provider.mu.Lock()
	present := provider.shortcuts["SeaTide"]
	provider.mu.Unlock()
	require.True(t, present, "shortcut should be re-created")
}

func TestRepair_FailurePreservesInstallation(t *testing.T) {
	pkg := buildPackage(t, map[string]string{"bin/seatide": "b"}, []manifest.ActionSpec{
		{Kind: manifest.ActionCreateShortcut, Path: "bin/seatide", LinkName: "SeaTide"},
	})
	e, provider := newTestEngine(t)
	root := filepath.Join(t.TempDir(), "seatide")

	_, err := e.Install(context.Background(), pkg, root)
	require.NoError(t, err)

	provider.mu.Lock()
	delete(provider.shortcuts, "SeaTide")
	provider.mu.Unlock()
	provider.failOn["create_shortcut:SeaTide"] = errBoom

	_, _, err = e.Repair(context.Background(), pkg, root)
	require.Error(t, err)

	// The failed repair must not tear down the installation it was fixing.
	_, err = state.Load(root)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "bin", "seatide"))
	require.NoError(t, err)
}

func TestInstall_WriteAheadOrdering(t *testing.T) {
	pkg := buildPackage(t, map[string]string{"a.txt": "x"}, nil)
	e, _ := newTestEngine(t)
	root := filepath.Join(t.TempDir(), "seatide")

	_, err := e.Install(context.Background(), pkg, root)
	require.NoError(t, err)

	// Every record in the log reached a terminal status, and the staged
	// file's record exists with kind create_file.
	log, err := txlog.Open(state.LogPath(root))
	require.NoError(t, err)
	defer log.Close()

	recs := log.Records()
	require.NotEmpty(t, recs)
	var sawFile bool
	for _, rec := range recs {
		require.Equal(t, txlog.StatusCommitted, rec.Status)
		if rec.Kind == "create_file" {
			sawFile = true
			require.Equal(t, "a.txt", rec.Forward["path"])
		}
	}
	require.True(t, sawFile)
}

func TestInstall_RefusesCompletedInstallation(t *testing.T) {
	pkg := buildPackage(t, map[string]string{"bin/seatide": "the binary"}, []manifest.ActionSpec{
		{Kind: manifest.ActionCreateShortcut, Path: "bin/seatide", LinkName: "SeaTide"},
	})
	e, provider := newTestEngine(t)
	root := filepath.Join(t.TempDir(), "seatide")

	_, err := e.Install(context.Background(), pkg, root)
	require.NoError(t, err)
	callsAfterFirst := provider.callLog()

	// A second plain install must refuse without touching anything; update
	// and repair own that root now.
	res, err := e.Install(context.Background(), pkg, root)
	require.ErrorIs(t, err, errors.ErrAlreadyInstalled)
	require.Equal(t, StateNotStarted, res.State)
	require.Equal(t, callsAfterFirst, provider.callLog())

	st, err := state.Load(root)
	require.NoError(t, err)
	require.Equal(t, "seatide", st.ProductName)
	_, err = os.Stat(state.LogPath(root))
	require.NoError(t, err, "transaction log must survive the refused install")

	entry, ok := pkg.Manifest().Entry("bin/seatide")
	require.True(t, ok)
	sum, err := fileutil.HashFile(filepath.Join(root, "bin", "seatide"))
	require.NoError(t, err)
	require.Equal(t, entry.SHA256, sum)
}

func TestInstall_FailureKeepsCrashedRunRecords(t *testing.T) {
	e, provider := newTestEngine(t)
	root := filepath.Join(t.TempDir(), "seatide")

	// A crashed earlier run: a committed file record in the log but no
	// InstallState. Its file is still on disk.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "old.cfg"), []byte("survivor"), 0o644))
	log, err := txlog.Open(state.LogPath(root))
	require.NoError(t, err)
	id, err := log.Begin(kindCreateFile,
		txlog.Params{paramPath: "data/old.cfg"},
		txlog.Params{paramPath: "data/old.cfg"})
	require.NoError(t, err)
	require.NoError(t, log.Commit(id))
	require.NoError(t, log.Close())

	pkg := buildPackage(t, map[string]string{"bin/seatide": "b"}, []manifest.ActionSpec{
		{Kind: manifest.ActionCreateShortcut, Path: "bin/seatide", LinkName: "SeaTide"},
	})
	provider.failOn["create_shortcut:SeaTide"] = errBoom

	res, err := e.Install(context.Background(), pkg, root)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, StateRolledBack, res.State)

	// Only this run's actions were reversed; the crashed run's file and its
	// log record are untouched.
	data, err := os.ReadFile(filepath.Join(root, "data", "old.cfg"))
	require.NoError(t, err)
	require.Equal(t, "survivor", string(data))
	_, err = os.Stat(filepath.Join(root, "bin", "seatide"))
	require.True(t, os.IsNotExist(err), "this run's file should be rolled back")

	log, err = txlog.Open(state.LogPath(root))
	require.NoError(t, err, "log must survive when it still holds another run's records")
	defer log.Close()
	committed := log.Committed()
	require.Len(t, committed, 1)
	require.Equal(t, id, committed[0].ActionID)
}
