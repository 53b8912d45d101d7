package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/initd/internal/config"
	"github.com/loykin/initd/internal/registry"
	"github.com/loykin/initd/internal/service"
)

// runValidate checks a config file the same way boot would, without
// requiring PID 1. Useful from a build pipeline or a rescue shell.
func runValidate(cmd *cobra.Command, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("validate %s: %w", path, err)
	}
	if _, err := registry.Load(cfg.Services); err != nil {
		return fmt.Errorf("validate %s: %w", path, err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "config ok: runlevel=%d services=%d watchdog=%v\n",
		cfg.Runlevel, len(cfg.Services), cfg.Watchdog.Enabled)
	for _, def := range cfg.Services {
		_, _ = fmt.Fprintf(out, "  %-20s runlevel=%d flags=%s command=%q\n",
			def.Name, def.Runlevel, flagString(def.Flags), def.Command)
	}
	return nil
}

func flagString(f service.Flag) string {
	s := ""
	if f.Has(service.FlagRespawn) {
		s += "R"
	}
	if f.Has(service.FlagWait) {
		s += "W"
	}
	if f.Has(service.FlagCritical) {
		s += "C"
	}
	if f.Has(service.FlagOneshot) {
		s += "O"
	}
	if s == "" {
		s = "-"
	}
	return s
}
