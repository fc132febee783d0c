package fileutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/thoreinstein/capstan/internal/errors"
)

// CopyFile copies src to dst, preserving the source file's mode.
// The destination's parent directory must exist.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "opening source")
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return errors.Wrap(err, "stat source")
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return errors.Wrap(err, "creating destination")
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrap(err, "copying contents")
	}
	return errors.Wrap(out.Close(), "closing destination")
}

// CopyDir recursively copies the contents of srcDir into dstDir,
// creating dstDir if needed and preserving file modes.
func CopyDir(srcDir, dstDir string) error {
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return errors.Wrap(err, "computing relative path")
		}
		target := filepath.Join(dstDir, rel)

		if d.IsDir() {
			return errors.Wrapf(os.MkdirAll(target, 0o755), "creating %s", target)
		}
		return errors.Wrapf(CopyFile(path, target), "copying %s", rel)
	})
}
