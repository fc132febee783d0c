package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/thoreinstein/capstan/internal/config"
	"github.com/thoreinstein/capstan/internal/engine"
	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/logging"
	"github.com/thoreinstein/capstan/internal/paths"
	"github.com/thoreinstein/capstan/internal/pkgfile"
	"github.com/thoreinstein/capstan/internal/platform"
	"github.com/thoreinstein/capstan/internal/report"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
)

// newEngine builds the engine with the command's logger and the provider for
// the running OS.
func newEngine(cmd *cobra.Command) (*engine.Engine, *slog.Logger) {
	logger := logging.FromContext(cmd.Context())
	return engine.New(logger, platform.New(logger)), logger
}

// openPackage opens and validates a package artifact argument.
func openPackage(path string) (*pkgfile.Reader, error) {
	pkg, err := pkgfile.Open(path)
	if err != nil {
		if errors.Is(err, errors.ErrCorruptPackage) {
			return nil, errors.NewUserError(err, "The package file is damaged; re-download it")
		}
		return nil, err
	}
	return pkg, nil
}

// loadConfigIfPresent loads install.toml when --config was given or the
// default file exists. A missing default config is not an error; the package
// manifest is self-contained.
func loadConfigIfPresent() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	if _, err := os.Stat(config.DefaultFileName); err != nil {
		return nil, nil
	}
	return config.Load("")
}

// resolveInstallDir picks the install root: the --install-dir flag first,
// then the config, then the per-OS default for the product.
func resolveInstallDir(cfg *config.Config, product string) string {
	if installDir != "" {
		return installDir
	}
	if cfg != nil {
		return cfg.InstallDir()
	}
	return paths.DefaultInstallDir(product)
}

// finishRun writes the run report and prints the operator summary. The
// original error is returned unchanged so exit-code mapping sees it.
func finishRun(cmd *cobra.Command, logger *slog.Logger, operation string, res *engine.Result, runErr error) error {
	if res != nil {
		if path, err := report.Write(reportDir, operation, res, runErr); err != nil {
			logger.Warn("writing run report", "error", err)
		} else {
			logger.Debug("run report written", "path", path)
		}
		printResult(cmd.OutOrStdout(), operation, res)
	}
	return runErr
}

// printResult renders the terminal outcome: a single top-level status plus
// every attempted action and its final status.
func printResult(w io.Writer, operation string, res *engine.Result) {
	if quiet {
		return
	}

	switch res.State {
	case engine.StateCompleted:
		fmt.Fprintf(w, "%s✓ %s completed%s", colorGreen, operation, colorReset)
	case engine.StateRolledBack:
		fmt.Fprintf(w, "%s✗ %s failed, all changes rolled back%s", colorYellow, operation, colorReset)
	case engine.StateFailed:
		fmt.Fprintf(w, "%s✗ %s failed and rollback did not complete%s", colorBold, operation, colorReset)
	default:
		fmt.Fprintf(w, "%s did not start", operation)
	}
	if res.Product != "" {
		fmt.Fprintf(w, " %s(%s %s)%s", colorGray, res.Product, res.ProductVersion, colorReset)
	}
	fmt.Fprintln(w)

	if len(res.Unreversed) > 0 {
		fmt.Fprintf(w, "\n%sactions that could not be reversed:%s\n", colorBold, colorReset)
		for _, a := range res.Unreversed {
			fmt.Fprintf(w, "  %s %s: %s\n", a.ID, a.Kind, a.Reason)
		}
	}

	if verbosity > 0 {
		fmt.Fprintf(w, "\n%sactions:%s\n", colorBold, colorReset)
		for _, a := range res.Actions {
			line := fmt.Sprintf("  %-6s %-18s %s", a.ID, a.Kind, a.Status)
			if a.Reason != "" {
				line += " (" + a.Reason + ")"
			}
			fmt.Fprintln(w, line)
		}
	}
}
