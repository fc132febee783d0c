// Package version tracks the installed product version through the
// version.txt file at the install root and decides whether a package is an
// update over what is installed.
package version

import (
	"os"
	"path/filepath"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/state"
	"github.com/thoreinstein/capstan/pkg/fileutil"
)

// Path returns the version file location for an install root.
func Path(root string) string {
	return filepath.Join(root, state.VersionFileName)
}

// Save persists the installed version at the install root.
func Save(root, v string) error {
	return errors.Wrap(
		fileutil.AtomicWriteFile(Path(root), []byte(v+"\n"), 0o644),
		"writing version file")
}

// Current returns the installed version at root, preferring version.txt and
// falling back to InstallState. Returns ErrNothingInstalled when neither
// exists.
func Current(root string) (string, error) {
	data, err := os.ReadFile(Path(root))
	if err == nil {
		v := strings.TrimSpace(string(data))
		if v != "" {
			return v, nil
		}
	} else if !os.IsNotExist(err) {
		return "", errors.Wrap(err, "reading version file")
	}

	st, err := state.Load(root)
	if err != nil {
		return "", err
	}
	return st.ProductVersion, nil
}

// NeedsUpdate reports whether next is strictly newer than current. Both must
// be parseable semantic-style versions.
func NeedsUpdate(current, next string) (bool, error) {
	cur, err := goversion.NewVersion(current)
	if err != nil {
		return false, errors.Wrapf(err, "parsing installed version %q", current)
	}
	nxt, err := goversion.NewVersion(next)
	if err != nil {
		return false, errors.Wrapf(err, "parsing package version %q", next)
	}
	return nxt.GreaterThan(cur), nil
}
