package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thoreinstein/capstan/internal/config"
	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/pkgfile"
)

var (
	packOutput string
	packTarget string
)

func init() {
	packCmd.Flags().StringVarP(&packOutput, "output", "o", "",
		"output package path (default: <name>-<version>.cpk)")
	packCmd.Flags().StringVar(&packTarget, "target", "",
		"target OS for platform actions: linux, darwin, windows (default: this OS)")
	rootCmd.AddCommand(packCmd)
}

var packCmd = &cobra.Command{
	Use:   "pack <build-dir>",
	Short: "Build a package from a build directory",
	Long: `Build a .cpk package from a build directory and install.toml.

Every file under the build directory is hashed, compressed and embedded
along with a manifest carrying the project metadata, component layout
and platform integration actions from the config.`,
	Example: `  # Package ./build using ./install.toml
  capstan pack ./build

  # Package for another OS
  capstan pack ./build --target windows -o seatide-1.4.0-windows.cpk`,
	Args: cobra.ExactArgs(1),
	RunE: runPack,
}

func runPack(cmd *cobra.Command, args []string) error {
	srcDir := args[0]
	if info, err := os.Stat(srcDir); err != nil || !info.IsDir() {
		return errors.NewUserError(err, srcDir+" is not a directory")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	switch packTarget {
	case "", "linux", "darwin", "windows":
	default:
		return errors.NewUserError(nil, "--target must be linux, darwin or windows")
	}

	out := packOutput
	if out == "" {
		out = fmt.Sprintf("%s-%s.cpk", cfg.Project.Name, cfg.Project.Version)
	}

	skeleton := cfg.ManifestSkeleton(packTarget)
	if err := pkgfile.Build(out, srcDir, skeleton, pkgfile.PrefixMatcher(cfg.PrefixMap())); err != nil {
		return err
	}

	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "%s✓ packaged %s %s%s -> %s\n",
			colorGreen, cfg.Project.Name, cfg.Project.Version, colorReset, out)
	}
	return nil
}
