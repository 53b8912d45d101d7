package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/initd/internal/config"
	"github.com/loykin/initd/internal/launcher"
	"github.com/loykin/initd/internal/logger"
	"github.com/loykin/initd/internal/manager"
	"github.com/loykin/initd/internal/metrics"
	"github.com/loykin/initd/internal/registry"
	"github.com/loykin/initd/internal/signals"
	"github.com/loykin/initd/internal/store"
	storesqlite "github.com/loykin/initd/internal/store/sqlite"
	"github.com/loykin/initd/internal/supervisor"
	"github.com/loykin/initd/internal/sysinit"
	"github.com/loykin/initd/internal/watchdog"
)

// runInit is the PID-1 entry point. Past the identity check it never returns:
// the supervisor loop ends in reboot(2) or parks forever.
func runInit(configPath string) error {
	if !sysinit.IsPidOne() {
		return fmt.Errorf("initd: must be run as PID 1 (pid %d)", os.Getpid())
	}

	// Bring-up happens before the first proper log line so the console
	// actually exists. Until then, messages go to whatever fd 1 is.
	boot := slog.New(slog.NewTextHandler(os.Stdout, nil))
	sysinit.MountAll(boot)

	cfg := loadConfig(configPath, boot)

	if err := sysinit.SetupConsole(cfg.Console, config.DefaultConsole); err != nil {
		boot.Warn("console setup failed", "error", err)
	}

	log, _ := logger.New(cfg.Log)
	slog.SetDefault(log)

	sysinit.SetupEnv()
	if err := sysinit.SetHostname(cfg.Hostname); err != nil {
		log.Warn("hostname setup failed", "error", err)
	}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			log.Warn("metrics registration failed", "error", err)
		} else if _, err := metrics.Serve(cfg.Metrics.Listen); err != nil {
			log.Warn("metrics listener failed", "listen", cfg.Metrics.Listen, "error", err)
		}
	}

	var hist store.Store
	if cfg.History.Enabled {
		db, err := storesqlite.New(cfg.History.Path)
		if err == nil {
			err = db.EnsureSchema(context.Background())
		}
		if err != nil {
			log.Warn("history store unavailable", "path", cfg.History.Path, "error", err)
		} else {
			hist = db
			_ = hist.RecordEvent(context.Background(),
				store.Event{Type: store.EventBoot, Detail: fmt.Sprintf("runlevel %d", cfg.Runlevel), At: time.Now()})
		}
	}

	var wd *watchdog.Watchdog
	if cfg.Watchdog.Enabled {
		w, err := watchdog.Open(cfg.Watchdog.Device, cfg.Watchdog.TimeoutSec, log)
		if err != nil {
			log.Warn("watchdog unavailable", "device", cfg.Watchdog.Device, "error", err)
		} else {
			wd = w
		}
	}

	reg, err := registry.Load(cfg.Services)
	if err != nil {
		// Validated config should never trip this; run with an empty table
		// rather than dying, PID 1 has no one to fall back to.
		log.Error("registry load failed", "error", err)
		reg, _ = registry.Load(nil)
	}

	l := launcher.NewExec()
	mgr := manager.New(l, log)
	if hist != nil {
		mgr.SetStore(hist)
	}

	flags := &signals.Flags{}
	signals.Bridge(flags)

	sup := supervisor.New(supervisor.Options{
		Registry: reg,
		Manager:  mgr,
		Launcher: l,
		Flags:    flags,
		Watchdog: wd,
		System:   supervisor.NewOSSystem(log),
		Log:      log,
		Store:    hist,
		Runlevel: cfg.Runlevel,
	})
	sup.StartRunlevel()
	sup.Run()
	return nil // unreachable
}

// loadConfig resolves the boot configuration. A missing file falls back to
// the built-in defaults; an invalid file yields the defaults too (no partial
// registry), loudly.
func loadConfig(path string, log *slog.Logger) *config.Config {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg
	}
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn("config file not found, using defaults", "path", path)
	} else {
		log.Error("config rejected, starting with empty registry", "path", path, "error", err)
	}
	return config.Default()
}
