// Package backup snapshots an install root before an update so a failed
// update can restore the previous installation byte for byte. Each backup is
// a directory of copied files plus a manifest.json; every file is verified
// against its recorded SHA-256 hash on restore.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/paths"
	"github.com/thoreinstein/capstan/internal/state"
	"github.com/thoreinstein/capstan/pkg/fileutil"
)

// Manager handles backup creation, restoration and pruning for one backup
// root directory. Backups are grouped per product.
type Manager struct {
	rootDir        string
	retentionCount int
}

// Option configures a Manager.
type Option func(*Manager)

// WithBackupDir overrides the root backup directory.
func WithBackupDir(dir string) Option {
	return func(m *Manager) {
		if dir != "" {
			m.rootDir = dir
		}
	}
}

// WithRetentionCount sets the number of backups to retain per product.
func WithRetentionCount(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.retentionCount = n
		}
	}
}

// NewManager creates a backup Manager with the given options.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		rootDir:        paths.BackupDir(),
		retentionCount: DefaultRetentionCount,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create backs up every file under installRoot for the named product,
// skipping capstan's own lock and staging files. Returns the manifest
// describing the backup.
func (m *Manager) Create(product, installRoot string) (*Manifest, error) {
	if product == "" {
		return nil, errors.New("product is required")
	}

	id, backupPath, err := m.newBackupPath(product)
	if err != nil {
		return nil, err
	}

	var files []File
	err = filepath.WalkDir(installRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if skipName(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(installRoot, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(backupPath, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return errors.Wrap(err, "creating backup subdirectory")
		}
		hash, mode, err := copyFile(path, dst)
		if err != nil {
			return err
		}
		files = append(files, File{
			RelPath: filepath.ToSlash(rel),
			SHA256:  hash,
			Mode:    mode,
		})
		return nil
	})
	if err != nil {
		os.RemoveAll(backupPath)
		return nil, errors.Wrapf(err, "backing up %s", installRoot)
	}
	if len(files) == 0 {
		os.RemoveAll(backupPath)
		return nil, errors.New("nothing to back up")
	}

	manifest := &Manifest{
		Version:     ManifestVersion,
		CreatedAt:   time.Now().UTC(),
		Product:     product,
		InstallRoot: installRoot,
		Files:       files,
		ID:          id,
	}
	if err := fileutil.AtomicWriteJSON(filepath.Join(backupPath, manifestName), manifest); err != nil {
		os.RemoveAll(backupPath)
		return nil, errors.Wrap(err, "writing backup manifest")
	}
	return manifest, nil
}

// Restore copies a backup's files back into installRoot, verifying each
// file's hash first. Returns ErrBackupCorrupted on any mismatch, before
// touching the install root.
func (m *Manager) Restore(product, backupID, installRoot string) error {
	manifest, err := m.Get(product, backupID)
	if err != nil {
		return err
	}
	backupPath := m.backupPath(product, backupID)

	// Verify the whole backup before restoring anything.
	for _, bf := range manifest.Files {
		src := filepath.Join(backupPath, filepath.FromSlash(bf.RelPath))
		hash, err := fileutil.HashFile(src)
		if err != nil {
			return errors.Wrapf(err, "reading backup file %s", bf.RelPath)
		}
		if hash != bf.SHA256 {
			return errors.Wrapf(ErrBackupCorrupted, "file %s hash mismatch", bf.RelPath)
		}
	}

	for _, bf := range manifest.Files {
		src := filepath.Join(backupPath, filepath.FromSlash(bf.RelPath))
		dst := filepath.Join(installRoot, filepath.FromSlash(bf.RelPath))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return errors.Wrapf(err, "creating directory for %s", bf.RelPath)
		}
		if _, _, err := copyFile(src, dst); err != nil {
			return errors.Wrapf(err, "restoring %s", bf.RelPath)
		}
		if err := os.Chmod(dst, bf.Mode); err != nil {
			return errors.Wrapf(err, "setting permissions for %s", bf.RelPath)
		}
	}
	return nil
}

// List returns all backups for a product, newest first.
func (m *Manager) List(product string) ([]Manifest, error) {
	if product == "" {
		return nil, errors.New("product is required")
	}

	entries, err := os.ReadDir(m.productDir(product))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoBackupsFound
		}
		return nil, errors.Wrap(err, "reading backup directory")
	}

	manifests := make([]Manifest, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifest, err := m.Get(product, entry.Name())
		if err != nil {
			continue
		}
		manifests = append(manifests, *manifest)
	}
	if len(manifests) == 0 {
		return nil, ErrNoBackupsFound
	}

	slices.SortFunc(manifests, func(a, b Manifest) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return manifests, nil
}

// Prune removes backups beyond the manager's retention count.
func (m *Manager) Prune(product string) error {
	manifests, err := m.List(product)
	if err != nil {
		if errors.Is(err, ErrNoBackupsFound) {
			return nil
		}
		return err
	}
	for i := m.retentionCount; i < len(manifests); i++ {
		if err := os.RemoveAll(m.backupPath(product, manifests[i].ID)); err != nil {
			return errors.Wrapf(err, "removing backup %s", manifests[i].ID)
		}
	}
	return nil
}

// Get loads the manifest for one backup.
func (m *Manager) Get(product, backupID string) (*Manifest, error) {
	if backupID == "" {
		return nil, errors.New("backup ID is required")
	}

	data, err := os.ReadFile(filepath.Join(m.backupPath(product, backupID), manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNoBackupsFound, "backup %s not found", backupID)
		}
		return nil, errors.Wrap(err, "reading backup manifest")
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, errors.Wrap(err, "parsing backup manifest")
	}
	manifest.ID = backupID
	return &manifest, nil
}

// newBackupPath reserves a fresh backup directory, suffixing the timestamp id
// when two backups land in the same second.
func (m *Manager) newBackupPath(product string) (string, string, error) {
	base := time.Now().Format("20060102T150405")
	for i := 0; i < 100; i++ {
		id := base
		if i > 0 {
			id = fmt.Sprintf("%s-%d", base, i)
		}
		path := m.backupPath(product, id)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", "", errors.Wrap(err, "creating backup directory")
		}
		if err := os.Mkdir(path, 0o755); err == nil {
			return id, path, nil
		} else if !os.IsExist(err) {
			return "", "", errors.Wrap(err, "creating backup directory")
		}
	}
	return "", "", errors.New("could not reserve a backup directory")
}

func (m *Manager) backupPath(product, backupID string) string {
	return filepath.Join(m.productDir(product), backupID)
}

func (m *Manager) productDir(product string) string {
	return filepath.Join(m.rootDir, product)
}

// skipName reports whether a file belongs to capstan's runtime machinery
// rather than the installation.
func skipName(name string) bool {
	return name == state.LockFileName || strings.HasPrefix(name, ".capstan-atomic-")
}

// copyFile copies src to dst, returning the content hash and source mode.
// The hash is computed during the copy, not in a second read.
func copyFile(src, dst string) (hash string, mode fs.FileMode, err error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return "", 0, errors.Wrap(err, "opening source file")
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return "", 0, errors.Wrap(err, "stat source file")
	}
	mode = srcInfo.Mode()

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", 0, errors.Wrap(err, "creating destination file")
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(dstFile, h), srcFile); err != nil {
		dstFile.Close()
		return "", 0, errors.Wrap(err, "copying file")
	}
	if err := dstFile.Close(); err != nil {
		return "", 0, errors.Wrap(err, "closing destination file")
	}
	if err := os.Chmod(dst, mode); err != nil {
		return "", 0, errors.Wrap(err, "setting permissions")
	}
	return hex.EncodeToString(h.Sum(nil)), mode, nil
}
