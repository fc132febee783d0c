package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/thoreinstein/capstan/internal/manifest"
	"github.com/thoreinstein/capstan/internal/platform"
	"github.com/thoreinstein/capstan/internal/txlog"
	"github.com/thoreinstein/capstan/pkg/fileutil"
)

// stubProvider answers Verify from a fixed table; everything else is unused
// by the reconciler.
type stubProvider struct {
	platform.Provider
	verify map[string]platform.Verification
}

func (s *stubProvider) Verify(_ context.Context, spec manifest.ActionSpec, _ string) platform.Verification {
	if v, ok := s.verify[spec.LinkName]; ok {
		return v
	}
	return platform.VerifyUnknown
}

func writeFile(t *testing.T, root, rel, content string) manifest.FileEntry {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return manifest.FileEntry{
		Path:   rel,
		Size:   int64(len(content)),
		SHA256: fileutil.HashBytes([]byte(content)),
	}
}

func TestDiff_FileDispositions(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "a.txt", "alpha")
	b := writeFile(t, root, "b.txt", "bravo")
	c := writeFile(t, root, "sub/c.txt", "charlie")

	// Delete a, edit b, leave c alone. Touching mtime without changing
	// content must not count as modified.
	if err := os.Remove(filepath.Join(root, "a.txt")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("edited"), 0o644); err != nil {
		t.Fatal(err)
	}
	touched := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(filepath.Join(root, "sub", "c.txt"), touched, touched); err != nil {
		t.Fatal(err)
	}

	m := &manifest.Manifest{Product: "p", Version: "1", Files: []manifest.FileEntry{a, b, c}}
	log := openLog(t)

	plan, err := Diff(context.Background(), m, root, log, &stubProvider{})
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]Disposition{
		"a.txt":     Missing,
		"b.txt":     Modified,
		"sub/c.txt": Unchanged,
	}
	for _, d := range plan.Files {
		if d.Disposition != want[d.Entry.Path] {
			t.Errorf("%s: got %s, want %s", d.Entry.Path, d.Disposition, want[d.Entry.Path])
		}
	}

	damaged := plan.Damaged()
	if len(damaged) != 2 {
		t.Fatalf("damaged = %d entries, want 2", len(damaged))
	}
	// Plan order follows manifest order.
	if damaged[0].Path != "a.txt" || damaged[1].Path != "b.txt" {
		t.Errorf("unexpected damaged order: %s, %s", damaged[0].Path, damaged[1].Path)
	}
}

func TestDiff_ActionChecks(t *testing.T) {
	root := t.TempDir()
	m := &manifest.Manifest{
		Product: "p", Version: "1",
		Actions: []manifest.ActionSpec{
			{Kind: manifest.ActionCreateShortcut, LinkName: "present"},
			{Kind: manifest.ActionCreateShortcut, LinkName: "gone"},
			{Kind: manifest.ActionCreateShortcut, LinkName: "unverifiable"},
			{Kind: manifest.ActionCreateShortcut, LinkName: "never-committed"},
		},
	}

	// Actions 0..2 were committed in an earlier run; action 3 never was.
	log := openLog(t)
	for i := 0; i < 3; i++ {
		id, err := log.Begin("create_shortcut", txlog.Params{ActionIndexKey: strconv.Itoa(i)}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := log.Commit(id); err != nil {
			t.Fatal(err)
		}
	}

	provider := &stubProvider{verify: map[string]platform.Verification{
		"present": platform.VerifySatisfied,
		"gone":    platform.VerifyUnsatisfied,
		// "unverifiable" falls through to VerifyUnknown.
	}}

	plan, err := Diff(context.Background(), m, root, log, provider)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]bool{
		"present":         false,
		"gone":            true,
		"unverifiable":    true, // no feasible check means always re-apply
		"never-committed": true,
	}
	for _, a := range plan.Actions {
		if a.Reapply != want[a.Spec.LinkName] {
			t.Errorf("%s: reapply = %v, want %v", a.Spec.LinkName, a.Reapply, want[a.Spec.LinkName])
		}
	}
	if plan.Empty() {
		t.Error("plan with reapplies reported empty")
	}
}

func TestDiff_EmptyPlan(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "a.txt", "alpha")
	m := &manifest.Manifest{Product: "p", Version: "1", Files: []manifest.FileEntry{a}}

	plan, err := Diff(context.Background(), m, root, openLog(t), &stubProvider{})
	if err != nil {
		t.Fatal(err)
	}
	if !plan.Empty() {
		t.Error("intact install should produce an empty plan")
	}
}

func openLog(t *testing.T) *txlog.Log {
	t.Helper()
	log, err := txlog.Open(filepath.Join(t.TempDir(), "log"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}
