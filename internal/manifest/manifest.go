// Package manifest defines the declarative description of what a package
// installs: the file entries carried in the payload and the ordered platform
// actions to perform after staging.
package manifest

import (
	"encoding/json"
	"path"
	"path/filepath"
	"strings"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/pkg/fileutil"
)

// FormatVersion is the manifest schema version embedded in packages.
const FormatVersion = 1

// Manifest describes the complete contents of a package. It is immutable
// once parsed; a fresh copy is decoded from every package artifact.
type Manifest struct {
	// Format is the manifest schema version.
	Format int `json:"format"`

	// Product is the product name, e.g. "seatide".
	Product string `json:"product"`

	// Version is the product version, e.g. "1.4.0".
	Version string `json:"version"`

	// Description is an optional human-readable product description.
	Description string `json:"description,omitempty"`

	// Components optionally groups files into named units with install-order
	// dependencies between them.
	Components []Component `json:"components,omitempty"`

	// Files is the ordered list of payload file entries.
	Files []FileEntry `json:"files"`

	// Actions is the ordered list of platform actions performed after all
	// files are staged. Order is significant; later actions may depend on
	// earlier ones.
	Actions []ActionSpec `json:"actions,omitempty"`
}

// Component is a named group of files with optional dependencies on other
// components. Dependencies constrain staging order.
type Component struct {
	Name      string   `json:"name"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// FileEntry describes one file in the package payload.
type FileEntry struct {
	// Path is the slash-separated path relative to the install root.
	Path string `json:"path"`

	// Size is the uncompressed size in bytes.
	Size int64 `json:"size"`

	// SHA256 is the hex-encoded hash of the uncompressed contents.
	SHA256 string `json:"sha256"`

	// Executable marks files that receive the executable bit on unix.
	Executable bool `json:"executable,omitempty"`

	// Component names the component this file belongs to, if any.
	Component string `json:"component,omitempty"`

	// Offset and CompressedSize locate this entry's zstd frame within the
	// package payload section. Filled in by the package writer; they enable
	// random access for repair.
	Offset         int64 `json:"offset"`
	CompressedSize int64 `json:"compressed_size"`
}

// Resolve returns the entry's absolute path under the given install root.
func (f FileEntry) Resolve(root string) string {
	return filepath.Join(root, filepath.FromSlash(f.Path))
}

// Entry returns the file entry for the given relative path, or false when
// the manifest does not contain it.
func (m *Manifest) Entry(relPath string) (FileEntry, bool) {
	for _, f := range m.Files {
		if f.Path == relPath {
			return f, true
		}
	}
	return FileEntry{}, false
}

// Checksum returns the hex-encoded SHA-256 of the manifest's canonical JSON
// encoding. It identifies the manifest in InstallState.
func (m *Manifest) Checksum() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", errors.Wrap(err, "encoding manifest")
	}
	return fileutil.HashBytes(data), nil
}

// TotalSize returns the sum of all uncompressed file sizes.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

// Validate checks the manifest's structural invariants: identity fields
// present, file paths unique, relative and non-escaping, component
// references resolvable, and actions well-formed.
func (m *Manifest) Validate() error {
	if m.Product == "" {
		return errors.Wrap(errors.ErrInvalidConfig, "product name is empty")
	}
	if m.Version == "" {
		return errors.Wrap(errors.ErrInvalidConfig, "product version is empty")
	}

	components := make(map[string]bool, len(m.Components))
	for _, c := range m.Components {
		if c.Name == "" {
			return errors.Wrap(errors.ErrInvalidConfig, "component with empty name")
		}
		if components[c.Name] {
			return errors.Wrapf(errors.ErrInvalidConfig, "duplicate component %q", c.Name)
		}
		components[c.Name] = true
	}
	for _, c := range m.Components {
		for _, dep := range c.DependsOn {
			if !components[dep] {
				return errors.Wrapf(errors.ErrInvalidConfig,
					"component %q depends on unknown component %q", c.Name, dep)
			}
		}
	}

	seen := make(map[string]bool, len(m.Files))
	for _, f := range m.Files {
		if err := validateRelPath(f.Path); err != nil {
			return err
		}
		if seen[f.Path] {
			return errors.Wrapf(errors.ErrInvalidConfig, "duplicate file path %q", f.Path)
		}
		seen[f.Path] = true
		if f.Component != "" && !components[f.Component] {
			return errors.Wrapf(errors.ErrInvalidConfig,
				"file %q references unknown component %q", f.Path, f.Component)
		}
	}

	for i, a := range m.Actions {
		if err := a.validate(); err != nil {
			return errors.Wrapf(err, "action %d", i)
		}
	}

	return nil
}

// validateRelPath rejects absolute, backslashed and root-escaping paths.
// All manifest paths are slash-separated and resolved against a single
// install root chosen at install time.
func validateRelPath(p string) error {
	if p == "" {
		return errors.Wrap(errors.ErrInvalidConfig, "empty file path")
	}
	if strings.Contains(p, `\`) {
		return errors.Wrapf(errors.ErrInvalidConfig, "path %q must be slash-separated", p)
	}
	if path.IsAbs(p) || filepath.IsAbs(filepath.FromSlash(p)) {
		return errors.Wrapf(errors.ErrInvalidConfig, "path %q must be relative", p)
	}
	clean := path.Clean(p)
	if clean != p || clean == ".." || strings.HasPrefix(clean, "../") {
		return errors.Wrapf(errors.ErrInvalidConfig, "path %q escapes the install root", p)
	}
	return nil
}
