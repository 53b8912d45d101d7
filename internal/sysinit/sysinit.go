// Package sysinit performs the one-shot system bring-up the supervisor
// depends on: pseudo-filesystem mounts, a controlling console, hostname and
// a base environment. The mount table is also consumed in reverse by the
// shutdown sequencer.
package sysinit

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

const defaultDirMode = 0o755

// MountPoint describes one pseudo-filesystem mount. Order in the table is
// mount order; unmounting walks it backwards so deeper mount points go first.
type MountPoint struct {
	Source string
	Target string
	FSType string
	Flags  uintptr
	Data   string
}

// MountTable returns the pseudo and virtual filesystems required before the
// supervisor starts.
func MountTable() []MountPoint {
	return []MountPoint{
		{Source: "proc", Target: "/proc", FSType: "proc", Flags: unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_NODEV},
		{Source: "sysfs", Target: "/sys", FSType: "sysfs", Flags: unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_NODEV},
		{Source: "devtmpfs", Target: "/dev", FSType: "devtmpfs", Flags: unix.MS_NOSUID, Data: "mode=0755"},
		{Source: "devpts", Target: "/dev/pts", FSType: "devpts", Flags: unix.MS_NOSUID | unix.MS_NOEXEC, Data: "gid=5,mode=620"},
		{Source: "tmpfs", Target: "/dev/shm", FSType: "tmpfs", Flags: unix.MS_NOSUID | unix.MS_NODEV, Data: "mode=1777"},
		{Source: "tmpfs", Target: "/tmp", FSType: "tmpfs", Flags: unix.MS_NOSUID | unix.MS_NODEV, Data: "mode=1777"},
		{Source: "tmpfs", Target: "/run", FSType: "tmpfs", Flags: unix.MS_NOSUID | unix.MS_NODEV, Data: "mode=0755"},
	}
}

// Mount mounts a single entry, creating the target directory if missing.
func Mount(mp MountPoint) error {
	if err := os.MkdirAll(mp.Target, defaultDirMode); err != nil {
		return fmt.Errorf("mkdir %s: %w", mp.Target, err)
	}
	if err := unix.Mount(mp.Source, mp.Target, mp.FSType, mp.Flags, mp.Data); err != nil {
		return fmt.Errorf("mount %s: %w", mp.Target, err)
	}
	return nil
}

// MountAll mounts the table in order. Individual failures are logged and
// skipped: boot must proceed as far as it can (a mount may already exist
// when an initramfs ran first).
func MountAll(log *slog.Logger) {
	for _, mp := range MountTable() {
		if err := Mount(mp); err != nil {
			log.Warn("mount failed", "target", mp.Target, "error", err)
		}
	}
	setupSymlinks()
	log.Info("filesystems mounted")
}

// UnmountAll walks the mount table backwards, detaching the deepest mount
// points first. Used by the shutdown sequencer between sync calls.
func UnmountAll(log *slog.Logger) {
	table := MountTable()
	for i := len(table) - 1; i >= 0; i-- {
		if err := unix.Unmount(table[i].Target, 0); err != nil {
			log.Warn("unmount failed", "target", table[i].Target, "error", err)
		}
	}
}

func setupSymlinks() {
	links := map[string]string{
		"/var/run":    "/run",
		"/dev/fd":     "/proc/self/fd",
		"/dev/stdin":  "/proc/self/fd/0",
		"/dev/stdout": "/proc/self/fd/1",
		"/dev/stderr": "/proc/self/fd/2",
	}
	_ = os.MkdirAll("/var", defaultDirMode)
	_ = os.MkdirAll("/var/log", defaultDirMode)
	for link, target := range links {
		_ = os.Symlink(target, link)
	}
}

// SetupConsole attaches the controlling terminal and redirects the standard
// streams to it, falling back to fallbackDevice when device is absent.
func SetupConsole(device, fallbackDevice string) error {
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil && fallbackDevice != "" {
		fd, err = unix.Open(fallbackDevice, unix.O_RDWR|unix.O_NOCTTY, 0)
	}
	if err != nil {
		return fmt.Errorf("open console: %w", err)
	}
	for _, std := range []int{0, 1, 2} {
		if err := unix.Dup3(fd, std, 0); err != nil {
			return fmt.Errorf("dup console fd: %w", err)
		}
	}
	if fd > 2 {
		_ = unix.Close(fd)
	}
	// Become session leader and claim the terminal. Setsid fails when we are
	// already a session leader, which is the normal PID-1 case.
	_, _ = unix.Setsid()
	if err := unix.IoctlSetInt(0, unix.TIOCSCTTY, 1); err != nil {
		return fmt.Errorf("tiocsctty: %w", err)
	}
	return nil
}

// SetHostname applies the configured hostname.
func SetHostname(name string) error {
	if name == "" {
		return nil
	}
	if err := unix.Sethostname([]byte(name)); err != nil {
		return fmt.Errorf("sethostname %q: %w", name, err)
	}
	return nil
}

// SetupEnv installs the base environment services inherit.
func SetupEnv() {
	_ = os.Setenv("PATH", "/sbin:/bin:/usr/sbin:/usr/bin")
	_ = os.Setenv("HOME", "/root")
	_ = os.Setenv("TERM", "linux")
}

// IsPidOne reports whether the running process is PID 1.
func IsPidOne() bool { return os.Getpid() == 1 }
