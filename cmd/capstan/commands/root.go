// Package commands implements the CLI commands for capstan.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/logging"
)

// buildVersion is set at build time via ldflags.
var buildVersion = "dev"

// Persistent flag values.
var (
	configPath string
	installDir string
	verbosity  int
	quiet      bool
	logFormat  string
	logFile    string
	reportDir  string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to install.toml (default: ./install.toml)")
	rootCmd.PersistentFlags().StringVar(&installDir, "install-dir", "",
		"install root directory (default: from config or per-OS default)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"increase verbosity level (e.g., -v, -vv)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"log format: text, json")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"write logs to file in JSON format")
	rootCmd.PersistentFlags().StringVar(&reportDir, "report-dir", "",
		"directory for run reports (default: per-OS state dir)")

	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate("capstan version {{.Version}}\n")

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
}

var rootCmd = &cobra.Command{
	Use:   "capstan",
	Short: "Self-contained cross-platform installer",
	Long: `capstan installs, repairs, updates and uninstalls a software product
from a single self-contained package, across Windows, Linux and macOS,
without relying on any platform package manager.

Every mutation is recorded in a write-ahead transaction log at the
install root, so a failure mid-install rolls back cleanly and uninstall
removes exactly what install added.`,
	Example: `  # Install a package
  capstan install seatide-1.4.0.cpk

  # Repair a damaged installation
  capstan repair seatide-1.4.0.cpk --install-dir /opt/seatide

  # Update to a newer package
  capstan update seatide-1.5.0.cpk

  # Build a package from a build directory
  capstan pack ./build`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return setupLogging(cmd)
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// setupLogging configures the default logger based on verbosity flags.
func setupLogging(cmd *cobra.Command) error {
	if quiet && verbosity > 0 {
		return errors.NewUserError(nil, "cannot use --quiet and --verbose together")
	}

	var level slog.Level
	if quiet {
		level = slog.LevelError
	} else {
		v := verbosity
		if v == 0 {
			if val, ok := os.LookupEnv("CAPSTAN_DEBUG"); ok {
				switch val {
				case "1", "true":
					v = 1
				case "2":
					v = 2
				}
			}
		}
		level = logging.LevelFromVerbosity(v)
	}

	opts := &slog.HandlerOptions{Level: level}

	var primaryHandler slog.Handler
	switch logging.Format(logFormat) {
	case logging.FormatJSON:
		primaryHandler = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	default:
		primaryHandler = logging.NewHandler(cmd.ErrOrStderr(), opts)
	}

	handlers := []slog.Handler{primaryHandler}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return errors.NewUserError(err, "failed to open log file")
		}
		handlers = append(handlers, slog.NewJSONHandler(f, opts))
	}

	var handler slog.Handler
	if len(handlers) > 1 {
		handler = logging.NewMultiHandler(handlers...)
	} else {
		handler = handlers[0]
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logging.NewContext(ctx, logger))
	return nil
}

// Execute runs the root command and maps the outcome to a process exit code:
// 0 success, 1 user error or cleanly rolled back failure, 2 system error,
// 3 rollback failed (manual intervention required).
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return errors.ExitSuccess
	}

	fmt.Fprintf(os.Stderr, "%serror:%s %v\n", colorBold, colorReset, err)

	var exitErr *errors.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "%s%s%s\n", colorGray, exitErr.Suggestion, colorReset)
		}
		return exitErr.Code
	}

	switch {
	case errors.Is(err, errors.ErrRollbackFailed):
		fmt.Fprintf(os.Stderr, "%sthe machine requires manual cleanup; see the run report%s\n",
			colorYellow, colorReset)
		return errors.ExitRollbackFailed
	case errors.Is(err, errors.ErrInvalidConfig),
		errors.Is(err, errors.ErrCorruptPackage),
		errors.Is(err, errors.ErrNothingInstalled),
		errors.Is(err, errors.ErrAlreadyInstalled),
		errors.Is(err, errors.ErrInstallInProgress):
		return errors.ExitUser
	case errors.Is(err, context.Canceled):
		return errors.ExitUser
	default:
		return errors.ExitSystem
	}
}
