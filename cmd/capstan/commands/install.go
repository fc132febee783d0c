package commands

import (
	"github.com/spf13/cobra"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/preflight"
)

func init() {
	rootCmd.AddCommand(installCmd)
}

var installCmd = &cobra.Command{
	Use:   "install <package.cpk>",
	Short: "Install a package",
	Long: `Install a package into the install root.

Files are staged and platform actions applied under a write-ahead
transaction log; any failure rolls everything back, leaving the machine
as it was. The installation becomes real only once every file and
action has committed.`,
	Example: `  # Install into the default location
  capstan install seatide-1.4.0.cpk

  # Install somewhere specific
  capstan install seatide-1.4.0.cpk --install-dir /opt/seatide`,
	Args: cobra.ExactArgs(1),
	RunE: runInstall,
}

func runInstall(cmd *cobra.Command, args []string) error {
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

	req := preflight.Requirements{PayloadBytes: m.TotalSize()}
	if cfg != nil {
		req.MinMemoryBytes = cfg.Preflight.MinMemoryMB << 20
	}
	if err := preflight.Check(root, req); err != nil {
		return err
	}

	e, logger := newEngine(cmd)
	res, err := e.Install(cmd.Context(), pkg, root)
	if errors.Is(err, errors.ErrAlreadyInstalled) {
		return errors.NewUserError(err,
			"use capstan update to replace it, or capstan repair to fix it")
	}
	return finishRun(cmd, logger, "install", res, err)
}
