// Package paths resolves the default directories capstan works with: the
// per-OS install root for a product and the capstan-owned data locations
// (backups, run reports). XDG resolution is delegated to github.com/adrg/xdg.
package paths

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/adrg/xdg"
)

// appDir is the directory name capstan uses under XDG data and state homes.
const appDir = "capstan"

// DefaultInstallDir returns the conventional system-wide install location for
// a product on the running OS.
func DefaultInstallDir(product string) string {
	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("ProgramFiles")
		if base == "" {
			base = `C:\Program Files`
		}
		return filepath.Join(base, product)
	case "darwin":
		return filepath.Join("/Applications", product)
	default:
		return filepath.Join("/opt", product)
	}
}

// BackupDir returns the root directory for pre-update backups.
func BackupDir() string {
	return filepath.Join(xdg.DataHome, appDir, "backups")
}

// ReportDir returns the directory run reports are written to.
func ReportDir() string {
	return filepath.Join(xdg.StateHome, appDir, "reports")
}

// EnsureDir creates dir and any missing parents.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
