package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thoreinstein/capstan/internal/config"
	"github.com/thoreinstein/capstan/internal/errors"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init [product-name]",
	Short: "Write a starter install.toml",
	Long: `Write a starter install.toml into the working directory, ready to
edit and feed to capstan pack.`,
	Example: `  capstan init seatide`,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	product := ""
	if len(args) > 0 {
		product = args[0]
	}

	if _, err := os.Stat(config.DefaultFileName); err == nil {
		return errors.NewUserError(nil,
			config.DefaultFileName+" already exists; edit it or remove it first")
	}

	data, err := config.Scaffold(product)
	if err != nil {
		return err
	}
	if err := os.WriteFile(config.DefaultFileName, data, 0o644); err != nil {
		return errors.Wrap(err, "writing "+config.DefaultFileName)
	}

	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "%s✓ wrote %s%s\n",
			colorGreen, config.DefaultFileName, colorReset)
	}
	return nil
}
