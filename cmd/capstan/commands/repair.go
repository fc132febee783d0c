package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thoreinstein/capstan/internal/errors"
)

func init() {
	rootCmd.AddCommand(repairCmd)
}

var repairCmd = &cobra.Command{
	Use:   "repair <package.cpk>",
	Short: "Repair a damaged installation",
	Long: `Compare the installation against the package manifest and restore
whatever is missing or modified. Comparison is by content hash, never
by size or timestamp. Repair only adds or overwrites; it never deletes
files, and running it twice in a row does nothing the second time.`,
	Example: `  capstan repair seatide-1.4.0.cpk --install-dir /opt/seatide`,
	Args:    cobra.ExactArgs(1),
	RunE:    runRepair,
}

func runRepair(cmd *cobra.Command, args []string) error {
	pkg, err := openPackage(args[0])
	if err != nil {
		return err
	}
	defer pkg.Close()

	cfg, err := loadConfigIfPresent()
	if err != nil {
		return err
	}
	root := resolveInstallDir(cfg, pkg.Manifest().Product)

	e, logger := newEngine(cmd)
	res, plan, err := e.Repair(cmd.Context(), pkg, root)
	if errors.Is(err, errors.ErrNothingInstalled) {
		return errors.NewUserError(err, "nothing is installed at "+root)
	}
	if err == nil && !quiet && plan != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%d file(s) restored, %d action(s) re-applied\n",
			len(plan.Damaged()), len(plan.Reapply()))
	}
	return finishRun(cmd, logger, "repair", res, err)
}
