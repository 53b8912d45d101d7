// Package initd exposes the supervisor building blocks for embedding, e.g.
// in an image-specific init binary that does its own bring-up.
package initd

import (
	"log/slog"

	cfg "github.com/loykin/initd/internal/config"
	"github.com/loykin/initd/internal/launcher"
	"github.com/loykin/initd/internal/manager"
	"github.com/loykin/initd/internal/registry"
	"github.com/loykin/initd/internal/service"
	"github.com/loykin/initd/internal/signals"
	"github.com/loykin/initd/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Definition = service.Definition

type Flag = service.Flag

const (
	FlagRespawn  = service.FlagRespawn
	FlagWait     = service.FlagWait
	FlagCritical = service.FlagCritical
	FlagOneshot  = service.FlagOneshot
)

type Config = cfg.Config

type Flags = signals.Flags

type Registry = registry.Registry

// LoadConfig reads and validates a TOML config file.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// LoadRegistry builds the ordered service table from definitions.
func LoadRegistry(defs []Definition) (*Registry, error) { return registry.Load(defs) }

// Supervisor is a thin facade wiring a registry to the real OS launcher and
// shutdown primitives.
type Supervisor struct{ inner *supervisor.Supervisor }

// NewSupervisor assembles a production supervisor for the given registry and
// target runlevel. The caller installs the signal bridge and owns the flags.
func NewSupervisor(reg *Registry, flags *Flags, runlevel int, log *slog.Logger) *Supervisor {
	l := launcher.NewExec()
	return &Supervisor{inner: supervisor.New(supervisor.Options{
		Registry: reg,
		Manager:  manager.New(l, log),
		Launcher: l,
		Flags:    flags,
		System:   supervisor.NewOSSystem(log),
		Log:      log,
		Runlevel: runlevel,
	})}
}

// InstallSignalBridge maps PID-1 signals onto flags.
func InstallSignalBridge(f *Flags) func() { return signals.Bridge(f) }

// StartRunlevel runs the boot-time startup pass.
func (s *Supervisor) StartRunlevel() { s.inner.StartRunlevel() }

// Run supervises until a shutdown flag is raised, then executes the shutdown
// sequence. It does not return in normal operation.
func (s *Supervisor) Run() { s.inner.Run() }
