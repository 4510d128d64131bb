package commands

import (
	"context"
	"fmt"
	"os"

	"siteadapters/lib/configutil"
	"siteadapters/lib/telemetry"

	"github.com/spf13/cobra"
)

const defaultConfigName = "siteadapters.json5"

var configPath string
var verbose bool

// cfg is loaded before any subcommand runs.
var cfg Config

var rootCmd = &cobra.Command{
	Use:          "siteadapters",
	Short:        "siteadapters reads accounts, histories and listings off websites.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(verbose)

		var err error
		if configPath == "" {
			cfg, err = configutil.ReadRecursively[Config](defaultConfigName)
		} else {
			cfg, err = configutil.ReadConfig[Config](configPath)
		}
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "The config file to use, "+defaultConfigName+" is searched up from the current directory by default.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug messages and dump http exchanges to the debug output directory.")
}

// ExecuteContext runs the command line and returns the exit code.
func ExecuteContext(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
