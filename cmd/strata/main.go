package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/ajitpratap0/strata/pkg/config"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	logLevel   string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code. Buffered log
// entries are flushed before it returns.
func run(args []string, stdout, stderr io.Writer) int {
	defer func() { _ = logger.Sync() }()

	root := newRootCmd(stdout)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func newRootCmd(out io.Writer) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "strata",
		Short: "Strata - schema-driven persistence for protobuf models",
		Long: `Strata maps protobuf-described models onto columnar stores.
The CLI inspects compiled descriptor sets and generates the table definitions
the columnar driver expects.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logger.Config{Level: flags.logLevel, Encoding: "console", OutputPaths: []string{"stderr"}})
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "Path to a settings YAML file (optional)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "error", "Log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Strata v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(newDDLCmd(flags))
	root.AddCommand(newFieldsCmd(flags))
	return root
}

// loadSettings reads the settings file, if any, over the defaults and
// applies STRATA_* environment overrides.
func loadSettings(flags *globalFlags) (config.Settings, error) {
	return config.LoadSettings(flags.configFile)
}
