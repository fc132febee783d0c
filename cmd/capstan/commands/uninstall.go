package commands

import (
	"github.com/spf13/cobra"

	"github.com/thoreinstein/capstan/internal/errors"
)

func init() {
	rootCmd.AddCommand(uninstallCmd)
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall the product at the install root",
	Long: `Uninstall the product, undoing every recorded action in reverse
order: last installed, first removed. Files the user added after
install are left in place. Targets the user already deleted are
treated as already satisfied, so uninstall is safe to re-run.`,
	Example: `  capstan uninstall --install-dir /opt/seatide`,
	Args:    cobra.NoArgs,
	RunE:    runUninstall,
}

func runUninstall(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfigIfPresent()
	if err != nil {
		return err
	}
	if installDir == "" && cfg == nil {
		return errors.NewUserError(nil, "pass --install-dir or run next to install.toml")
	}

	root := installDir
	if root == "" {
		root = cfg.InstallDir()
	}

	e, logger := newEngine(cmd)
	res, err := e.Uninstall(cmd.Context(), root)
	if errors.Is(err, errors.ErrNothingInstalled) {
		return errors.NewUserError(err, "nothing is installed at "+root)
	}
	return finishRun(cmd, logger, "uninstall", res, err)
}
