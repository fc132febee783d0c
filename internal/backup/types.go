package backup

import (
	"io/fs"
	"time"

	"github.com/thoreinstein/capstan/internal/errors"
)

// ManifestVersion is the backup manifest format version.
const ManifestVersion = 1

// DefaultRetentionCount is the default number of backups retained per product.
const DefaultRetentionCount = 5

// manifestName is the metadata file stored in each backup directory.
const manifestName = "manifest.json"

// Sentinel errors for backup operations.
var (
	// ErrNoBackupsFound indicates no backups exist for the product.
	ErrNoBackupsFound = errors.New("no backups found")

	// ErrBackupCorrupted indicates a backed-up file's hash no longer matches
	// its manifest. Restore refuses to proceed.
	ErrBackupCorrupted = errors.New("backup corrupted")
)

// Manifest describes one backup, stored as manifest.json in its directory.
type Manifest struct {
	// Version is the manifest format version.
	Version int `json:"version"`

	// CreatedAt is when the backup was taken.
	CreatedAt time.Time `json:"created_at"`

	// Product is the product whose install root was backed up.
	Product string `json:"product"`

	// InstallRoot is the directory the backup was taken from.
	InstallRoot string `json:"install_root"`

	// Files lists every backed-up file.
	Files []File `json:"files"`

	// ID is the backup identifier (timestamp based). Populated when loading
	// from disk, not stored in JSON.
	ID string `json:"-"`
}

// File is the metadata for a single backed-up file.
type File struct {
	// RelPath is the slash-separated path relative to the install root.
	RelPath string `json:"rel_path"`

	// SHA256 is the hex-encoded content hash.
	SHA256 string `json:"sha256"`

	// Mode is the file's permission bits.
	Mode fs.FileMode `json:"mode"`
}
