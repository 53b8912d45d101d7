package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/initd/internal/logger"
	"github.com/loykin/initd/internal/service"
)

// ErrInvalidConfig wraps every validation failure: a bad config never yields
// a partial registry.
var ErrInvalidConfig = errors.New("invalid config")

// Defaults matching the original firmware image.
const (
	DefaultRunlevel       = 5
	DefaultWatchdogDevice = "/dev/watchdog"
	DefaultWatchdogSec    = 30
	DefaultLogPath        = "/var/log/initd.log"
	DefaultRespawnDelay   = 3 * time.Second
	DefaultMaxRestarts    = 5
	DefaultConsole        = "/dev/console"
)

// Config is the validated global configuration handed to the supervisor.
// It is loaded once and read-only thereafter.
type Config struct {
	Hostname     string
	Runlevel     int
	Console      string
	RespawnDelay time.Duration
	Watchdog     WatchdogConfig
	Log          logger.Config
	Metrics      MetricsConfig
	History      HistoryConfig
	Services     []service.Definition
}

type WatchdogConfig struct {
	Enabled    bool   `toml:"enabled" mapstructure:"enabled"`
	Device     string `toml:"device" mapstructure:"device"`
	TimeoutSec int    `toml:"timeout_sec" mapstructure:"timeout_sec"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Path    string `toml:"path" mapstructure:"path"`
}

// fileConfig is the top-level TOML structure.
type fileConfig struct {
	Hostname     string          `toml:"hostname" mapstructure:"hostname"`
	Runlevel     int             `toml:"runlevel" mapstructure:"runlevel"`
	Console      string          `toml:"console" mapstructure:"console"`
	RespawnDelay time.Duration   `toml:"respawn_delay" mapstructure:"respawn_delay"`
	Watchdog     WatchdogConfig  `toml:"watchdog" mapstructure:"watchdog"`
	Log          logger.Config   `toml:"log" mapstructure:"log"`
	Metrics      MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	History      HistoryConfig   `toml:"history" mapstructure:"history"`
	Services     []serviceConfig `toml:"services" mapstructure:"services"`
}

type serviceConfig struct {
	Name         string         `toml:"name" mapstructure:"name"`
	Command      string         `toml:"command" mapstructure:"command"`
	PIDFile      string         `toml:"pidfile" mapstructure:"pidfile"`
	Runlevel     int            `toml:"runlevel" mapstructure:"runlevel"`
	Respawn      bool           `toml:"respawn" mapstructure:"respawn"`
	Wait         bool           `toml:"wait" mapstructure:"wait"`
	Critical     bool           `toml:"critical" mapstructure:"critical"`
	Oneshot      bool           `toml:"oneshot" mapstructure:"oneshot"`
	MaxRestarts  *int           `toml:"max_restarts" mapstructure:"max_restarts"`
	RestartDelay *time.Duration `toml:"restart_delay" mapstructure:"restart_delay"`
}

// Default returns the built-in configuration used when no config file is
// present: an empty registry and the stock global settings.
func Default() *Config {
	return &Config{
		Runlevel:     DefaultRunlevel,
		Console:      DefaultConsole,
		RespawnDelay: DefaultRespawnDelay,
		Watchdog:     WatchdogConfig{Device: DefaultWatchdogDevice, TimeoutSec: DefaultWatchdogSec},
		Log:          logger.Config{Path: DefaultLogPath},
	}
}

// Load reads and validates the TOML config at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return fromFileConfig(fc)
}

func fromFileConfig(fc fileConfig) (*Config, error) {
	cfg := Default()
	cfg.Hostname = fc.Hostname
	if fc.Runlevel != 0 {
		cfg.Runlevel = fc.Runlevel
	}
	if fc.Runlevel < 0 {
		return nil, fmt.Errorf("%w: negative runlevel %d", ErrInvalidConfig, fc.Runlevel)
	}
	if fc.Console != "" {
		cfg.Console = fc.Console
	}
	if fc.RespawnDelay > 0 {
		cfg.RespawnDelay = fc.RespawnDelay
	}
	if fc.Watchdog.Device == "" {
		fc.Watchdog.Device = DefaultWatchdogDevice
	}
	if fc.Watchdog.TimeoutSec <= 0 {
		fc.Watchdog.TimeoutSec = DefaultWatchdogSec
	}
	cfg.Watchdog = fc.Watchdog
	if fc.Log.Path != "" {
		cfg.Log = fc.Log
	}
	cfg.Metrics = fc.Metrics
	cfg.History = fc.History

	seen := make(map[string]struct{}, len(fc.Services))
	for i, sc := range fc.Services {
		if sc.Name == "" {
			return nil, fmt.Errorf("%w: service %d has no name", ErrInvalidConfig, i)
		}
		if sc.Command == "" {
			return nil, fmt.Errorf("%w: service %q has no command", ErrInvalidConfig, sc.Name)
		}
		if sc.Runlevel < 0 {
			return nil, fmt.Errorf("%w: service %q has negative runlevel", ErrInvalidConfig, sc.Name)
		}
		if _, dup := seen[sc.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate service %q", ErrInvalidConfig, sc.Name)
		}
		seen[sc.Name] = struct{}{}

		var flags service.Flag
		if sc.Respawn {
			flags |= service.FlagRespawn
		}
		if sc.Wait {
			flags |= service.FlagWait
		}
		if sc.Critical {
			flags |= service.FlagCritical
		}
		if sc.Oneshot {
			flags |= service.FlagOneshot
		}
		maxRestarts := DefaultMaxRestarts
		if sc.MaxRestarts != nil {
			if *sc.MaxRestarts < 0 {
				return nil, fmt.Errorf("%w: service %q has negative max_restarts", ErrInvalidConfig, sc.Name)
			}
			maxRestarts = *sc.MaxRestarts
		}
		// An explicit restart_delay wins, including an explicit zero; unset
		// falls back to the global respawn delay.
		delay := cfg.RespawnDelay
		if sc.RestartDelay != nil {
			if *sc.RestartDelay < 0 {
				return nil, fmt.Errorf("%w: service %q has negative restart_delay", ErrInvalidConfig, sc.Name)
			}
			delay = *sc.RestartDelay
		}

		cfg.Services = append(cfg.Services, service.Definition{
			Name:         sc.Name,
			Command:      sc.Command,
			PIDFile:      sc.PIDFile,
			Runlevel:     sc.Runlevel,
			Flags:        flags,
			MaxRestarts:  maxRestarts,
			RestartDelay: delay,
		})
	}
	return cfg, nil
}
