package fileutil

import (
	"io"
	"os"

	"github.com/thoreinstein/capstan/internal/errors"
)

// MaxManifestSize bounds how much of a manifest or state file we will read
// (16MB). Prevents memory exhaustion from a corrupt length field.
const MaxManifestSize = 16 * 1024 * 1024

// ErrFileTooLarge indicates that a file exceeded MaxManifestSize.
var ErrFileTooLarge = errors.Newf("file exceeds maximum size of %d bytes", MaxManifestSize)

// ReadFileWithLimit reads a file up to MaxManifestSize.
// It returns an error if the file is larger than the limit.
func ReadFileWithLimit(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening file")
	}
	defer f.Close()

	// Fail fast when the size is already known to be too large.
	if info, err := f.Stat(); err == nil && info.Size() > MaxManifestSize {
		return nil, ErrFileTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(f, MaxManifestSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "reading file")
	}
	if len(data) > MaxManifestSize {
		return nil, ErrFileTooLarge
	}
	return data, nil
}
