package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/initd.toml"

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "initd",
		Short:         "PID-1 service supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the init configuration file")

	root.AddCommand(newValidateCommand(&configPath))
	return root
}

func newValidateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file without supervising",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, *configPath)
		},
	}
}
