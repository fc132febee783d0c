package backup

import (
	"os"
	"path/filepath"
	"testing"
)

func writeInstallRoot(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestCreateRestore_RoundTrip(t *testing.T) {
	root := writeInstallRoot(t, map[string]string{
		"bin/seatide": "binary",
		"etc/conf":    "settings",
	})
	m := NewManager(WithBackupDir(t.TempDir()))

	manifest, err := m.Create("seatide", root)
	if err != nil {
		t.Fatal(err)
	}
	if len(manifest.Files) != 2 {
		t.Fatalf("backed up %d files, want 2", len(manifest.Files))
	}

	// Damage the install root, then restore.
	if err := os.Remove(filepath.Join(root, "bin", "seatide")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "etc", "conf"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := m.Restore("seatide", manifest.ID, root); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(root, "bin", "seatide"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "binary" {
		t.Errorf("restored content %q", data)
	}
	data, _ = os.ReadFile(filepath.Join(root, "etc", "conf"))
	if string(data) != "settings" {
		t.Errorf("restored content %q", data)
	}
}

func TestCreate_SkipsLockFile(t *testing.T) {
	root := writeInstallRoot(t, map[string]string{
		"bin/seatide":   "binary",
		".capstan-lock": "1234",
	})
	m := NewManager(WithBackupDir(t.TempDir()))

	manifest, err := m.Create("seatide", root)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range manifest.Files {
		if f.RelPath == ".capstan-lock" {
			t.Error("lock file was backed up")
		}
	}
}

func TestCreate_IDCollision(t *testing.T) {
	root := writeInstallRoot(t, map[string]string{"a": "x"})
	m := NewManager(WithBackupDir(t.TempDir()))

	// Two backups within the same second must get distinct ids.
	m1, err := m.Create("seatide", root)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := m.Create("seatide", root)
	if err != nil {
		t.Fatal(err)
	}
	if m1.ID == m2.ID {
		t.Errorf("backup ids collided: %s", m1.ID)
	}
}

func TestRestore_CorruptedBackup(t *testing.T) {
	root := writeInstallRoot(t, map[string]string{"a": "x"})
	dir := t.TempDir()
	m := NewManager(WithBackupDir(dir))

	manifest, err := m.Create("seatide", root)
	if err != nil {
		t.Fatal(err)
	}

	// Tamper with the backed-up copy.
	tampered := filepath.Join(dir, "seatide", manifest.ID, "a")
	if err := os.WriteFile(tampered, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}

	err = m.Restore("seatide", manifest.ID, root)
	if err == nil {
		t.Fatal("expected error")
	}
	// The install root must be untouched after a refused restore.
	data, _ := os.ReadFile(filepath.Join(root, "a"))
	if string(data) != "x" {
		t.Errorf("install root mutated: %q", data)
	}
}

func TestPrune(t *testing.T) {
	root := writeInstallRoot(t, map[string]string{"a": "x"})
	m := NewManager(WithBackupDir(t.TempDir()), WithRetentionCount(2))

	for i := 0; i < 4; i++ {
		if _, err := m.Create("seatide", root); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Prune("seatide"); err != nil {
		t.Fatal(err)
	}
	manifests, err := m.List("seatide")
	if err != nil {
		t.Fatal(err)
	}
	if len(manifests) != 2 {
		t.Errorf("kept %d backups, want 2", len(manifests))
	}
}
