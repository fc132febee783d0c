package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thoreinstein/capstan/internal/engine"
	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/preflight"
	"github.com/thoreinstein/capstan/internal/version"
)

var (
	updateCheck     bool
	updateForce     bool
	updateBackupDir string
)

func init() {
	updateCmd.Flags().BoolVar(&updateCheck, "check", false,
		"report whether the package is an update without installing it")
	updateCmd.Flags().BoolVar(&updateForce, "force", false,
		"install the package version even if it is not newer")
	updateCmd.Flags().StringVar(&updateBackupDir, "backup-dir", "",
		"directory for the pre-update backup (default: per-OS data dir)")
	rootCmd.AddCommand(updateCmd)
}

var updateCmd = &cobra.Command{
	Use:   "update <package.cpk>",
	Short: "Update an installation to a newer package",
	Long: `Update the installation at the install root to the package version.

The current install root is backed up first, then the old version is
uninstalled and the new one installed. If anything fails, the backup is
restored so the machine keeps a working copy. With nothing installed,
update behaves like a plain install.`,
	Example: `  # Update if the package is newer
  capstan update seatide-1.5.0.cpk

  # Just report whether an update would happen
  capstan update seatide-1.5.0.cpk --check

  # Downgrade or reinstall the same version
  capstan update seatide-1.4.0.cpk --force`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

func runUpdate(cmd *cobra.Command, args []string) error {
	pkg, err := openPackage(args[0])
	if err != nil {
		return err
	}
	defer pkg.Close()

	cfg, err := loadConfigIfPresent()
	if err != nil {
		return err
	}

	m := pkg.Manifest()
	root := resolveInstallDir(cfg, m.Product)

	if updateCheck {
		return checkUpdate(cmd, root, m.Version)
	}

	req := preflight.Requirements{PayloadBytes: m.TotalSize()}
	if cfg != nil {
		req.MinMemoryBytes = cfg.Preflight.MinMemoryMB << 20
	}
	if err := preflight.Check(root, req); err != nil {
		return err
	}

	e, logger := newEngine(cmd)
	res, err := e.Update(cmd.Context(), pkg, root, engine.UpdateOptions{
		Force:     updateForce,
		BackupDir: updateBackupDir,
	})
	if errors.Is(err, engine.ErrAlreadyCurrent) {
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "%s✓ already up to date%s (%v)\n",
				colorGreen, colorReset, err)
		}
		return nil
	}
	return finishRun(cmd, logger, "update", res, err)
}

// checkUpdate compares the installed version with the package version and
// reports; it never mutates the installation.
func checkUpdate(cmd *cobra.Command, root, next string) error {
	w := cmd.OutOrStdout()

	current, err := version.Current(root)
	if errors.Is(err, errors.ErrNothingInstalled) {
		fmt.Fprintf(w, "nothing installed at %s; update would install %s\n", root, next)
		return nil
	}
	if err != nil {
		return err
	}

	newer, err := version.NeedsUpdate(current, next)
	if err != nil {
		return errors.NewUserError(err, "versions must be semantic, e.g. 1.4.0")
	}
	if newer {
		fmt.Fprintf(w, "update available: %s -> %s\n", current, next)
	} else {
		fmt.Fprintf(w, "installed %s is current (package has %s)\n", current, next)
	}
	return nil
}
