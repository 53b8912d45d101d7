package supervisor

import (
	"golang.org/x/sys/unix"

	"github.com/loykin/initd/internal/store"
)

// shutdown runs the graceful termination sequence exactly once:
//
//	disarm watchdog → stop services in reverse start order → SIGTERM
//	broadcast → SIGKILL broadcast → sync → unmount → sync → reboot/halt.
//
// The watchdog goes first so a slow service stop cannot race a hardware
// reset. If the reboot call somehow returns, the process parks: PID 1 must
// never exit.
func (s *Supervisor) shutdown() {
	reboot := s.flags.RebootRequested()
	s.log.Info("initiating shutdown", "reboot", reboot)

	if s.wd != nil {
		s.wd.Stop()
	}

	all := s.reg.All()
	for i := len(all) - 1; i >= 0; i-- {
		s.mgr.Stop(all[i])
	}

	s.log.Info("terminating remaining processes")
	_ = s.sys.KillAll(unix.SIGTERM)
	s.sleep(s.termGrace)
	_ = s.sys.KillAll(unix.SIGKILL)
	s.sleep(s.killGrace)

	s.record(store.Event{Type: store.EventShutdown, Detail: shutdownDetail(reboot)})
	if s.st != nil {
		_ = s.st.Close()
	}

	s.sys.Sync()
	s.log.Info("unmounting filesystems")
	s.sys.UnmountAll()
	s.sys.Sync()

	if reboot {
		s.log.Info("rebooting")
	} else {
		s.log.Info("system halted")
	}
	if err := s.sys.Reboot(reboot); err != nil {
		s.log.Error("reboot failed", "error", err)
	}
	s.sys.Park()
}

func shutdownDetail(reboot bool) string {
	if reboot {
		return "reboot"
	}
	return "halt"
}
