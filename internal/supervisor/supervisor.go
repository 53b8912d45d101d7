package supervisor

import (
	"context"
	"log/slog"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"

	"github.com/loykin/initd/internal/launcher"
	"github.com/loykin/initd/internal/manager"
	"github.com/loykin/initd/internal/registry"
	"github.com/loykin/initd/internal/service"
	"github.com/loykin/initd/internal/signals"
	"github.com/loykin/initd/internal/store"
)

// Loop cadence. 100ms bounds worst-case reaction latency to shutdown
// requests and child-death detection.
const defaultInterval = 100 * time.Millisecond

// Keepaliver is what the loop needs from the hardware watchdog.
type Keepaliver interface {
	Kick()
	Stop()
}

// System is the kernel-facing surface of the shutdown sequencer, split out
// so the loop can run under test without broadcasting signals or rebooting.
type System interface {
	// KillAll signals every process in reach (kill(-1, sig)).
	KillAll(sig unix.Signal) error
	// Sync flushes persistent storage.
	Sync()
	// UnmountAll detaches transient filesystems, deepest mount points first.
	UnmountAll()
	// Reboot invokes the kernel reboot primitive. It does not return on
	// success.
	Reboot(restart bool) error
	// Park suspends forever; PID 1 must never exit.
	Park()
}

// Supervisor owns the single-goroutine scheduler: it starts the target
// runlevel, then reaps children, probes liveness, feeds the watchdog, and
// hands off to the shutdown sequencer when a shutdown flag is raised.
type Supervisor struct {
	reg      *registry.Registry
	mgr      *manager.Manager
	launcher launcher.Launcher
	flags    *signals.Flags
	wd       Keepaliver
	sys      System
	log      *slog.Logger
	st       store.Store

	runlevel int
	interval time.Duration
	sleep    func(time.Duration)
	probe    func(pid int) bool

	// shutdown broadcast grace windows
	termGrace time.Duration
	killGrace time.Duration
}

type Options struct {
	Registry *registry.Registry
	Manager  *manager.Manager
	Launcher launcher.Launcher
	Flags    *signals.Flags
	Watchdog Keepaliver // nil disables keepalives
	System   System
	Log      *slog.Logger
	Store    store.Store // nil disables history
	Runlevel int
}

func New(opts Options) *Supervisor {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		reg:       opts.Registry,
		mgr:       opts.Manager,
		launcher:  opts.Launcher,
		flags:     opts.Flags,
		wd:        opts.Watchdog,
		sys:       opts.System,
		log:       log,
		st:        opts.Store,
		runlevel:  opts.Runlevel,
		interval:  defaultInterval,
		sleep:     time.Sleep,
		probe:     processAlive,
		termGrace: 2 * time.Second,
		killGrace: time.Second,
	}
}

// SetTiming shortens the loop and shutdown waits; used in tests.
func (s *Supervisor) SetTiming(interval, termGrace, killGrace time.Duration) {
	s.interval = interval
	s.termGrace = termGrace
	s.killGrace = killGrace
}

// SetProbe replaces the pid liveness probe; used in tests.
func (s *Supervisor) SetProbe(f func(int) bool) { s.probe = f }

// StartRunlevel runs the startup pass: every service whose runlevel is at or
// below the target starts in registry order. Services above the target stay
// stopped and are never auto-started later.
func (s *Supervisor) StartRunlevel() {
	s.log.Info("starting services", "runlevel", s.runlevel)
	for _, svc := range s.reg.All() {
		if svc.Def().Runlevel <= s.runlevel {
			_ = s.mgr.Start(svc)
		}
	}
	s.log.Info("system ready", "runlevel", s.runlevel)
}

// Run iterates at the loop cadence until a shutdown is requested, then runs
// the shutdown sequence. In production it never returns: the sequencer ends
// in reboot(2) or parks forever.
func (s *Supervisor) Run() {
	for !s.flags.ShutdownRequested() {
		s.sleep(s.interval)
		s.iterate()
	}
	s.shutdown()
}

func (s *Supervisor) iterate() {
	if s.flags.ConsumeChildDied() {
		s.reapChildren()
	}
	s.checkServices()
	if s.wd != nil {
		s.wd.Kick()
	}
}

// reapChildren collects every exited child non-blockingly. Reaped pids that
// belong to a tracked running service transition it to stopped and go
// through the respawn policy; orphans inherited by PID 1 are reaped and
// dropped.
func (s *Supervisor) reapChildren() {
	for {
		pid, st, err := s.launcher.WaitAny()
		if err != nil || pid == 0 {
			return
		}
		svc, ok := s.reg.FindByPID(pid)
		if !ok {
			continue
		}
		if svc.State() == service.Running {
			s.onUnexpectedExit(svc, st)
		}
	}
}

// checkServices probes every running service's pid. A process that vanished
// without a reaped SIGCHLD (or whose exit notification was missed) is
// handled exactly like a reaped child. This makes a missed signal
// self-healing within one loop interval.
func (s *Supervisor) checkServices() {
	for _, svc := range s.reg.All() {
		if svc.State() != service.Running {
			continue
		}
		pid := svc.PID()
		if s.probe(pid) {
			continue
		}
		st, _ := s.launcher.TryWait(pid) // reap the zombie if it is ours
		s.onUnexpectedExit(svc, st)
	}
}

func (s *Supervisor) onUnexpectedExit(svc *service.Service, st *launcher.ExitStatus) {
	def := svc.Def()
	pid := svc.PID()
	detail := ""
	if st != nil {
		detail = st.String()
	}
	s.log.Warn("service died", "service", def.Name, "pid", pid, "exit", detail)
	svc.MarkStopped()
	s.record(store.Event{Service: def.Name, Type: store.EventStop, PID: pid, Detail: detail})
	s.mgr.Respawn(svc, s.flags)
}

func (s *Supervisor) record(ev store.Event) {
	if s.st == nil {
		return
	}
	ev.At = time.Now()
	if err := s.st.RecordEvent(context.Background(), ev); err != nil {
		s.log.Warn("history write failed", "error", err)
	}
}

// processAlive reports whether pid refers to a live, non-zombie process. A
// zombie counts as dead: it already exited and only awaits reaping.
func processAlive(pid int) bool {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	statuses, err := p.Status()
	if err != nil {
		return false
	}
	for _, st := range statuses {
		if st == gopsproc.Zombie {
			return false
		}
	}
	return true
}
