package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/logging"
	"github.com/thoreinstein/capstan/internal/platform"
	"github.com/thoreinstein/capstan/internal/reconcile"
	"github.com/thoreinstein/capstan/internal/state"
	"github.com/thoreinstein/capstan/internal/txlog"
)

var statusPackage string

func init() {
	statusCmd.Flags().StringVar(&statusPackage, "package", "",
		"verify installed files against this package without changing anything")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what is installed at the install root",
	Long: `Show the product, version and transaction history at the install
root. With --package, additionally verify every installed file and
platform action against the package manifest and report what a repair
would touch, without changing anything.`,
	Example: `  capstan status --install-dir /opt/seatide

  # Dry-run what repair would do
  capstan status --install-dir /opt/seatide --package seatide-1.4.0.cpk`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
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
	w := cmd.OutOrStdout()

	st, err := state.Load(root)
	if errors.Is(err, errors.ErrNothingInstalled) {
		fmt.Fprintf(w, "nothing installed at %s\n", root)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s%s %s%s at %s\n", colorBold, st.ProductName, st.ProductVersion, colorReset, root)
	fmt.Fprintf(w, "installed %s\n", st.InstalledAt.Format(time.RFC1123))
	if !st.UpdatedAt.IsZero() && !st.UpdatedAt.Equal(st.InstalledAt) {
		fmt.Fprintf(w, "last repaired %s\n", st.UpdatedAt.Format(time.RFC1123))
	}

	log, err := txlog.Open(state.LogPath(root))
	if err != nil {
		return err
	}
	defer log.Close()
	fmt.Fprintf(w, "%d committed action(s) on record\n", len(log.Committed()))

	if statusPackage == "" {
		return nil
	}

	pkg, err := openPackage(statusPackage)
	if err != nil {
		return err
	}
	defer pkg.Close()

	logger := logging.FromContext(cmd.Context())
	plan, err := reconcile.Diff(cmd.Context(), pkg.Manifest(), root, log, platform.New(logger))
	if err != nil {
		return err
	}

	if plan.Empty() {
		fmt.Fprintf(w, "%s✓ installation matches the package%s\n", colorGreen, colorReset)
		return nil
	}
	fmt.Fprintf(w, "%s✗ repair would touch:%s\n", colorYellow, colorReset)
	for _, d := range plan.Files {
		if d.Disposition != reconcile.Unchanged {
			fmt.Fprintf(w, "  file   %-10s %s\n", d.Disposition, d.Entry.Path)
		}
	}
	for _, a := range plan.Actions {
		if a.Reapply {
			fmt.Fprintf(w, "  action %-10s %s\n", "reapply", a.Spec.Kind)
		}
	}
	return nil
}
