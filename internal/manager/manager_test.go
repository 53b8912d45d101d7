package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/loykin/initd/internal/launcher"
	"github.com/loykin/initd/internal/service"
	"github.com/loykin/initd/internal/signals"
)

// fakeLauncher simulates process lifecycles without forking.
type fakeLauncher struct {
	nextPID    int
	startErr   error
	ignoreTerm bool // simulate a child that ignores SIGTERM
	waitStatus launcher.ExitStatus

	started []int
	signals []string // "pid/sig" in delivery order
	procs   map[int]*fakeProc
}

type fakeProc struct {
	exited bool
	status launcher.ExitStatus
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{nextPID: 100, procs: make(map[int]*fakeProc)}
}

func (f *fakeLauncher) Start(string) (int, error) {
	if f.startErr != nil {
		return 0, f.startErr
	}
	f.nextPID++
	f.started = append(f.started, f.nextPID)
	f.procs[f.nextPID] = &fakeProc{}
	return f.nextPID, nil
}

func (f *fakeLauncher) Wait(pid int) (launcher.ExitStatus, error) {
	p, ok := f.procs[pid]
	if !ok {
		return launcher.ExitStatus{}, errors.New("no such child")
	}
	p.exited = true
	return f.waitStatus, nil
}

func (f *fakeLauncher) TryWait(pid int) (*launcher.ExitStatus, error) {
	p, ok := f.procs[pid]
	if !ok || !p.exited {
		return nil, nil
	}
	st := p.status
	return &st, nil
}

func (f *fakeLauncher) WaitAny() (int, *launcher.ExitStatus, error) {
	for pid, p := range f.procs {
		if p.exited {
			delete(f.procs, pid)
			st := p.status
			return pid, &st, nil
		}
	}
	return 0, nil, nil
}

func (f *fakeLauncher) Signal(pid int, sig unix.Signal) error {
	f.signals = append(f.signals, fmt.Sprintf("%d/%s", pid, unix.SignalName(sig)))
	if p, ok := f.procs[pid]; ok {
		switch sig {
		case unix.SIGTERM:
			if !f.ignoreTerm {
				p.exited = true
				p.status = launcher.ExitStatus{Code: -1, Signaled: true, Signal: unix.SIGTERM}
			}
		case unix.SIGKILL:
			p.exited = true
			p.status = launcher.ExitStatus{Code: -1, Signaled: true, Signal: unix.SIGKILL}
		}
	}
	return nil
}

func (f *fakeLauncher) Alive(pid int) bool {
	p, ok := f.procs[pid]
	return ok && !p.exited
}

// crash marks a running fake process as exited, as if it died on its own.
func (f *fakeLauncher) crash(pid int, code int) {
	if p, ok := f.procs[pid]; ok {
		p.exited = true
		p.status = launcher.ExitStatus{Code: code}
	}
}

func newTestManager(l launcher.Launcher) *Manager {
	m := New(l, slog.Default())
	m.SetSleep(func(time.Duration) {})
	m.SetExecCheck(func(string) error { return nil })
	return m
}

func TestStartRunsService(t *testing.T) {
	l := newFakeLauncher()
	m := newTestManager(l)
	svc := service.New(service.Definition{Name: "sshd", Command: "/usr/sbin/sshd"})

	require.NoError(t, m.Start(svc))
	assert.Equal(t, service.Running, svc.State())
	assert.Equal(t, 101, svc.PID())
	assert.False(t, svc.StartTime().IsZero())
}

func TestStartNoopWhenRunning(t *testing.T) {
	l := newFakeLauncher()
	m := newTestManager(l)
	svc := service.New(service.Definition{Name: "sshd", Command: "/usr/sbin/sshd"})

	require.NoError(t, m.Start(svc))
	require.NoError(t, m.Start(svc))
	assert.Len(t, l.started, 1, "second start must not fork")
}

func TestStartCommandNotFound(t *testing.T) {
	l := newFakeLauncher()
	m := New(l, slog.Default()) // real exec check
	m.SetSleep(func(time.Duration) {})
	svc := service.New(service.Definition{Name: "ghost", Command: "/nonexistent/bin/ghost --daemon"})

	err := m.Start(svc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandNotFound)
	assert.Equal(t, service.Failed, svc.State())
	assert.Zero(t, svc.PID(), "a failed service has no pid")
	assert.Empty(t, l.started, "no fork happens on a missing executable")
}

func TestStartForkFailure(t *testing.T) {
	l := newFakeLauncher()
	l.startErr = launcher.ErrForkFailed
	m := newTestManager(l)
	svc := service.New(service.Definition{Name: "sshd", Command: "/usr/sbin/sshd"})

	err := m.Start(svc)
	require.Error(t, err)
	assert.ErrorIs(t, err, launcher.ErrForkFailed)
	assert.Equal(t, service.Failed, svc.State())
	assert.Zero(t, svc.PID())
}

func TestStartWaitServiceCompletes(t *testing.T) {
	l := newFakeLauncher()
	m := newTestManager(l)
	svc := service.New(service.Definition{
		Name: "fsck", Command: "/sbin/fsck -a", Flags: service.FlagWait | service.FlagOneshot,
	})

	require.NoError(t, m.Start(svc))
	assert.Equal(t, service.Stopped, svc.State(), "completed, not failed")
	assert.Zero(t, svc.PID())
}

func TestStartWaitServiceNonZeroExit(t *testing.T) {
	l := newFakeLauncher()
	l.waitStatus = launcher.ExitStatus{Code: 2}
	m := newTestManager(l)
	svc := service.New(service.Definition{
		Name: "fsck", Command: "/sbin/fsck -a", Flags: service.FlagWait,
	})

	err := m.Start(svc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNonZeroExit)
	assert.Equal(t, service.Failed, svc.State())
	assert.Zero(t, svc.PID())
}

func TestStopGraceful(t *testing.T) {
	l := newFakeLauncher()
	m := newTestManager(l)
	svc := service.New(service.Definition{Name: "sshd", Command: "/usr/sbin/sshd"})
	require.NoError(t, m.Start(svc))
	pid := svc.PID()

	m.Stop(svc)
	assert.Equal(t, service.Stopped, svc.State())
	assert.Zero(t, svc.PID())
	assert.Equal(t, []string{fmt.Sprintf("%d/SIGTERM", pid)}, l.signals)
}

func TestStopEscalatesToKill(t *testing.T) {
	l := newFakeLauncher()
	l.ignoreTerm = true
	m := newTestManager(l)
	m.SetStopTiming(3, time.Millisecond, 0) // tight grace window for the test
	svc := service.New(service.Definition{Name: "stuck", Command: "/usr/bin/stuck"})
	require.NoError(t, m.Start(svc))
	pid := svc.PID()

	m.Stop(svc)
	assert.Equal(t, service.Stopped, svc.State())
	assert.Zero(t, svc.PID(), "pid cleared even after a forced kill")
	require.Len(t, l.signals, 2)
	assert.Equal(t, fmt.Sprintf("%d/SIGTERM", pid), l.signals[0])
	assert.Equal(t, fmt.Sprintf("%d/SIGKILL", pid), l.signals[1])
}

func TestStopNoopWhenNotRunning(t *testing.T) {
	l := newFakeLauncher()
	m := newTestManager(l)
	svc := service.New(service.Definition{Name: "sshd", Command: "/usr/sbin/sshd"})

	m.Stop(svc)
	assert.Equal(t, service.Stopped, svc.State())
	assert.Empty(t, l.signals)
}

func TestRestartKeepsRestartCount(t *testing.T) {
	l := newFakeLauncher()
	m := newTestManager(l)
	svc := service.New(service.Definition{Name: "sshd", Command: "/usr/sbin/sshd"})
	require.NoError(t, m.Start(svc))
	svc.IncRestarts()
	svc.IncRestarts()

	require.NoError(t, m.Restart(svc))
	assert.Equal(t, service.Running, svc.State())
	assert.Equal(t, 2, svc.RestartCount(), "restart does not reset the respawn counter")
}

func TestRespawnWithinBudget(t *testing.T) {
	l := newFakeLauncher()
	m := newTestManager(l)
	flags := &signals.Flags{}
	svc := service.New(service.Definition{
		Name: "agent", Command: "/usr/bin/agent",
		Flags: service.FlagRespawn, MaxRestarts: 2,
	})
	require.NoError(t, m.Start(svc))

	l.crash(svc.PID(), 1)
	svc.MarkStopped()
	m.Respawn(svc, flags)

	assert.Equal(t, service.Running, svc.State())
	assert.Equal(t, 1, svc.RestartCount())
	assert.Len(t, l.started, 2)
}

// A service crashing repeatedly is retried until the budget is spent, then
// marked failed instead of being started again: with max_restarts=2 the
// third crash leaves it failed with restart_count=2.
func TestRespawnBudgetExhausted(t *testing.T) {
	l := newFakeLauncher()
	m := newTestManager(l)
	flags := &signals.Flags{}
	svc := service.New(service.Definition{
		Name: "flappy", Command: "/usr/bin/flappy",
		Flags: service.FlagRespawn, MaxRestarts: 2,
	})
	require.NoError(t, m.Start(svc))

	for crash := 0; crash < 3; crash++ {
		l.crash(svc.PID(), 1)
		svc.MarkStopped()
		m.Respawn(svc, flags)
	}

	assert.Equal(t, service.Failed, svc.State())
	assert.Equal(t, 2, svc.RestartCount())
	assert.Len(t, l.started, 3, "initial start plus exactly two respawns")
	assert.False(t, flags.ShutdownRequested(), "non-critical overrun never reboots")
}

func TestCriticalServiceRequestsReboot(t *testing.T) {
	l := newFakeLauncher()
	m := newTestManager(l)
	flags := &signals.Flags{}
	svc := service.New(service.Definition{
		Name: "netd", Command: "/usr/sbin/netd",
		Flags: service.FlagRespawn | service.FlagCritical, MaxRestarts: 1,
	})
	require.NoError(t, m.Start(svc))

	for crash := 0; crash < 2; crash++ {
		l.crash(svc.PID(), 1)
		svc.MarkStopped()
		m.Respawn(svc, flags)
	}

	assert.Equal(t, service.Failed, svc.State())
	assert.True(t, flags.ShutdownRequested())
	assert.True(t, flags.RebootRequested())
}

func TestRespawnSuppressedDuringShutdown(t *testing.T) {
	l := newFakeLauncher()
	m := newTestManager(l)
	flags := &signals.Flags{}
	flags.RequestHalt()
	svc := service.New(service.Definition{
		Name: "agent", Command: "/usr/bin/agent",
		Flags: service.FlagRespawn, MaxRestarts: 10,
	})
	require.NoError(t, m.Start(svc))

	l.crash(svc.PID(), 1)
	svc.MarkStopped()
	m.Respawn(svc, flags)

	assert.Equal(t, service.Stopped, svc.State())
	assert.Zero(t, svc.RestartCount(), "no respawn attempts once shutdown is in progress")
	assert.Len(t, l.started, 1)
}

func TestRespawnIgnoredWithoutFlag(t *testing.T) {
	l := newFakeLauncher()
	m := newTestManager(l)
	flags := &signals.Flags{}
	svc := service.New(service.Definition{Name: "once", Command: "/usr/bin/once", Flags: service.FlagOneshot})
	require.NoError(t, m.Start(svc))

	l.crash(svc.PID(), 0)
	svc.MarkStopped()
	m.Respawn(svc, flags)

	assert.Equal(t, service.Stopped, svc.State())
	assert.Len(t, l.started, 1)
}

func TestCheckExecutable(t *testing.T) {
	assert.NoError(t, checkExecutable("/bin/sh"))
	assert.NoError(t, checkExecutable("/bin/sh -c 'echo hi'"), "first token fallback")
	assert.NoError(t, checkExecutable("sh -c true"), "PATH lookup for bare names")
	assert.Error(t, checkExecutable("/nonexistent/bin/x --flag"))
	assert.Error(t, checkExecutable("definitely-not-a-command-xyz"))
	assert.Error(t, checkExecutable("   "))
}
