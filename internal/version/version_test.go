package version

import (
	"testing"

	"github.com/thoreinstein/capstan/internal/errors"
)

func TestSaveCurrent_RoundTrip(t *testing.T) {
	root := t.TempDir()

	if err := Save(root, "1.4.0"); err != nil {
		t.Fatal(err)
	}
	got, err := Current(root)
	if err != nil {
		t.Fatal(err)
	}
	if got != "1.4.0" {
		t.Errorf("Current = %q, want 1.4.0", got)
	}
}

func TestCurrent_NothingInstalled(t *testing.T) {
	_, err := Current(t.TempDir())
	if !errors.Is(err, errors.ErrNothingInstalled) {
		t.Errorf("err = %v, want ErrNothingInstalled", err)
	}
}

func TestNeedsUpdate(t *testing.T) {
	tests := []struct {
		current string
		next    string
		want    bool
	}{
		{"1.0.0", "1.0.1", true},
		{"1.0.0", "1.1.0", true},
		{"1.0.0", "2.0.0", true},
		{"1.0.0", "1.0.0", false},
		{"1.2.0", "1.1.9", false},
		{"2.0.0", "1.9.9", false},
		{"1.0.0", "1.0.0-rc1", false},
		{"1.0.0-rc1", "1.0.0", true},
		{"0.9", "0.10", true},
	}
	for _, tt := range tests {
		got, err := NeedsUpdate(tt.current, tt.next)
		if err != nil {
			t.Errorf("NeedsUpdate(%q, %q): %v", tt.current, tt.next, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NeedsUpdate(%q, %q) = %v, want %v", tt.current, tt.next, got, tt.want)
		}
	}
}

func TestNeedsUpdate_Unparseable(t *testing.T) {
	if _, err := NeedsUpdate("not-a-version", "1.0.0"); err == nil {
		t.Error("expected error for garbage current version")
	}
	if _, err := NeedsUpdate("1.0.0", "also garbage"); err == nil {
		t.Error("expected error for garbage next version")
	}
}
