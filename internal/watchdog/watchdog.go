// Package watchdog issues keepalives to a hardware watchdog device. The
// driver internals stay in the kernel; the supervisor only writes a
// keepalive byte per loop iteration and the magic-close byte on shutdown.
package watchdog

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/loykin/initd/internal/metrics"
)

// Watchdog wraps an open watchdog device. A nil *Watchdog is valid and all
// methods are no-ops on it, so callers need no enabled checks.
type Watchdog struct {
	f   *os.File
	log *slog.Logger
}

// Open opens the device and programs the timeout. A failing timeout ioctl is
// only a warning: the device still resets on missed keepalives with its
// default timeout.
func Open(device string, timeoutSec int, log *slog.Logger) (*Watchdog, error) {
	if log == nil {
		log = slog.Default()
	}
	f, err := os.OpenFile(device, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open watchdog %s: %w", device, err)
	}
	if timeoutSec > 0 {
		if err := unix.IoctlSetPointerInt(int(f.Fd()), unix.WDIOC_SETTIMEOUT, timeoutSec); err != nil {
			log.Warn("watchdog timeout ioctl failed", "device", device, "error", err)
		}
	}
	log.Info("watchdog enabled", "device", device, "timeout_sec", timeoutSec)
	return &Watchdog{f: f, log: log}, nil
}

// Kick writes one keepalive byte.
func (w *Watchdog) Kick() {
	if w == nil || w.f == nil {
		return
	}
	if _, err := w.f.Write([]byte("k")); err == nil {
		metrics.IncWatchdogKick()
	}
}

// Stop disarms the watchdog with the magic-close byte and closes the handle.
// It runs first in the shutdown sequence to avoid a reboot race mid-shutdown.
func (w *Watchdog) Stop() {
	if w == nil || w.f == nil {
		return
	}
	_, _ = w.f.Write([]byte("V"))
	_ = w.f.Close()
	w.f = nil
	w.log.Info("watchdog disarmed")
}
