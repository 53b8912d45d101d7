package supervisor

import (
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/loykin/initd/internal/sysinit"
)

// osSystem is the production System: real signal broadcasts, sync, unmount
// and the kernel reboot primitive.
type osSystem struct {
	log *slog.Logger
}

func NewOSSystem(log *slog.Logger) System {
	if log == nil {
		log = slog.Default()
	}
	return &osSystem{log: log}
}

func (o *osSystem) KillAll(sig unix.Signal) error {
	// pid -1: every process the supervisor may signal, except itself.
	return unix.Kill(-1, sig)
}

func (o *osSystem) Sync() { unix.Sync() }

func (o *osSystem) UnmountAll() { sysinit.UnmountAll(o.log) }

func (o *osSystem) Reboot(restart bool) error {
	cmd := unix.LINUX_REBOOT_CMD_POWER_OFF
	if restart {
		cmd = unix.LINUX_REBOOT_CMD_RESTART
	}
	return unix.Reboot(cmd)
}

func (o *osSystem) Park() {
	for {
		_ = unix.Pause()
	}
}
