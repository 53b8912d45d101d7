package signals

import (
	"os"
	"os/signal"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Flags carries the asynchronous state crossing from signal delivery into
// the supervisor loop. Only single-bit atomics cross that boundary; all
// composite state is consumed synchronously at the top of each loop
// iteration.
type Flags struct {
	shutdown  atomic.Bool
	reboot    atomic.Bool
	childDied atomic.Bool
}

// RequestHalt asks for a graceful shutdown ending in power-off.
func (f *Flags) RequestHalt() {
	f.reboot.Store(false)
	f.shutdown.Store(true)
}

// RequestReboot asks for a graceful shutdown ending in a restart.
func (f *Flags) RequestReboot() {
	f.reboot.Store(true)
	f.shutdown.Store(true)
}

func (f *Flags) NotifyChildDied() { f.childDied.Store(true) }

func (f *Flags) ShutdownRequested() bool { return f.shutdown.Load() }
func (f *Flags) RebootRequested() bool   { return f.reboot.Load() }

// ConsumeChildDied clears the child-death flag and returns whether it was set.
func (f *Flags) ConsumeChildDied() bool { return f.childDied.Swap(false) }

// Bridge installs the PID-1 signal dispositions: SIGTERM maps to a halt
// request, SIGUSR1 to a reboot request, SIGCHLD raises the reap trigger, and
// SIGINT/SIGHUP are ignored so interactive or hangup events never touch the
// supervisor. The forwarding goroutine does nothing but flag stores.
// The returned function uninstalls the bridge (used in tests).
func Bridge(f *Flags) func() {
	signal.Ignore(unix.SIGINT, unix.SIGHUP)
	ch := make(chan os.Signal, 64)
	signal.Notify(ch, unix.SIGTERM, unix.SIGUSR1, unix.SIGCHLD)
	go func() {
		for sig := range ch {
			switch sig {
			case unix.SIGCHLD:
				f.NotifyChildDied()
			case unix.SIGTERM:
				f.RequestHalt()
			case unix.SIGUSR1:
				f.RequestReboot()
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		signal.Reset(unix.SIGINT, unix.SIGHUP)
		close(ch)
	}
}
