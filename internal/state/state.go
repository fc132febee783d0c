// Package state persists the installation's durable identity: the
// InstallState file that uninstall and repair use to locate everything else,
// and the exclusive lock that enforces the single-writer model per install
// root.
package state

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/pkg/fileutil"
)

// File names colocated at the install root. They are owned exclusively by
// the engine; consumers must never hand-edit them.
const (
	StateFileName   = ".capstan-state.json"
	LogFileName     = ".capstan-log"
	LockFileName    = ".capstan-lock"
	VersionFileName = "version.txt"
)

// InstallState is written only after every file and action from the manifest
// is committed. Its presence is what makes an installation "real": a crash
// before it is written leaves nothing for uninstall or repair to find.
type InstallState struct {
	// ProductName is the installed product's name.
	ProductName string `json:"product_name"`

	// ProductVersion is the installed product's version.
	ProductVersion string `json:"product_version"`

	// InstallRoot is the absolute directory all manifest paths resolve
	// against.
	InstallRoot string `json:"install_root"`

	// ManifestChecksum identifies the manifest this state was written for.
	ManifestChecksum string `json:"manifest_checksum"`

	// LogPath locates the transaction log.
	LogPath string `json:"log_path"`

	// InstalledAt is when the first successful install completed.
	InstalledAt time.Time `json:"installed_at"`

	// UpdatedAt is bumped by repair and update runs.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Path returns the InstallState file location for an install root.
func Path(root string) string {
	return filepath.Join(root, StateFileName)
}

// LogPath returns the transaction log location for an install root.
func LogPath(root string) string {
	return filepath.Join(root, LogFileName)
}

// Save writes the state atomically to the install root. On repair the
// existing file is updated, not recreated.
func Save(root string, st *InstallState) error {
	return errors.Wrap(fileutil.AtomicWriteJSON(Path(root), st), "writing install state")
}

// Load reads the InstallState at the install root. Returns
// ErrNothingInstalled when no state file exists.
func Load(root string) (*InstallState, error) {
	data, err := fileutil.ReadFileWithLimit(Path(root))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(errors.ErrNothingInstalled, "no install state at %s", root)
		}
		return nil, errors.Wrap(err, "reading install state")
	}

	var st InstallState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.Wrap(err, "decoding install state")
	}
	return &st, nil
}

// Remove deletes the InstallState file. It is the final, irreversible step
// of a successful uninstall.
func Remove(root string) error {
	if err := os.Remove(Path(root)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing install state")
	}
	return nil
}
