package state

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/thoreinstein/capstan/internal/errors"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	root := t.TempDir()

	st := &InstallState{
		ProductName:      "seatide",
		ProductVersion:   "1.2.0",
		InstallRoot:      root,
		ManifestChecksum: "abc123",
		LogPath:          LogPath(root),
		InstalledAt:      time.Now().UTC().Truncate(time.Second),
	}

	if err := Save(root, st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ProductName != st.ProductName ||
		loaded.ProductVersion != st.ProductVersion ||
		loaded.ManifestChecksum != st.ManifestChecksum {
		t.Errorf("loaded state differs: %+v", loaded)
	}
}

func TestLoad_NothingInstalled(t *testing.T) {
	_, err := Load(t.TempDir())
	if !errors.Is(err, errors.ErrNothingInstalled) {
		t.Errorf("expected ErrNothingInstalled, got %v", err)
	}
}

func TestRemove_Idempotent(t *testing.T) {
	root := t.TempDir()
	if err := Save(root, &InstallState{ProductName: "p"}); err != nil {
		t.Fatal(err)
	}
	if err := Remove(root); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := Remove(root); err != nil {
		t.Fatalf("second Remove should be a no-op: %v", err)
	}
}

func TestAcquireLock_Contention(t *testing.T) {
	root := t.TempDir()

	lock, err := AcquireLock(root)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()

	// The lock file records our live pid, so a second acquisition in the
	// same process observes a held lock.
	if _, err := AcquireLock(root); !errors.Is(err, errors.ErrInstallInProgress) {
		t.Errorf("expected ErrInstallInProgress, got %v", err)
	}
}

func TestAcquireLock_ReleaseThenReacquire(t *testing.T) {
	root := t.TempDir()

	lock, err := AcquireLock(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	lock2, err := AcquireLock(root)
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	lock2.Release()
}

func TestAcquireLock_StalePid(t *testing.T) {
	root := t.TempDir()

	// Write a lock file with a pid that almost certainly does not exist.
	if err := os.WriteFile(LockPath(root), []byte(strconv.Itoa(1<<22-7)+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	lock, err := AcquireLock(root)
	if err != nil {
		t.Fatalf("expected stale lock to be replaced, got %v", err)
	}
	lock.Release()
}

func TestAcquireLock_GarbledLockNotStolen(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(LockPath(root), []byte("not-a-pid"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := AcquireLock(root); !errors.Is(err, errors.ErrInstallInProgress) {
		t.Errorf("garbled lock must be treated as held, got %v", err)
	}
}

func TestAcquireLock_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "fresh", "install")
	lock, err := AcquireLock(root)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(root); err != nil {
		t.Errorf("expected install root to exist: %v", err)
	}
}
