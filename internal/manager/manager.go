package manager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/loykin/initd/internal/launcher"
	"github.com/loykin/initd/internal/metrics"
	"github.com/loykin/initd/internal/service"
	"github.com/loykin/initd/internal/signals"
	"github.com/loykin/initd/internal/store"
)

// Stop/restart timing. Graceful termination is bounded to
// killPolls * pollInterval (5s) before escalating to SIGKILL.
const (
	defaultKillPolls    = 50
	defaultPollInterval = 100 * time.Millisecond
	defaultRestartPause = time.Second
)

// Manager drives the per-service state machine: start, stop, restart and the
// respawn policy. It is used only from the supervisor loop, so it holds no
// locks of its own.
type Manager struct {
	launcher launcher.Launcher
	log      *slog.Logger
	st       store.Store

	// injectable for tests
	sleep     func(time.Duration)
	checkExec func(string) error

	killPolls    int
	pollInterval time.Duration
	restartPause time.Duration
}

func New(l launcher.Launcher, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		launcher:     l,
		log:          log,
		sleep:        time.Sleep,
		checkExec:    checkExecutable,
		killPolls:    defaultKillPolls,
		pollInterval: defaultPollInterval,
		restartPause: defaultRestartPause,
	}
}

// SetStore attaches an optional event history store. Writes are best-effort.
func (m *Manager) SetStore(s store.Store) { m.st = s }

// SetSleep replaces the clock for tests.
func (m *Manager) SetSleep(f func(time.Duration)) { m.sleep = f }

// SetExecCheck replaces the executable-bit probe for tests.
func (m *Manager) SetExecCheck(f func(string) error) { m.checkExec = f }

// SetStopTiming tightens the stop escalation window; used in tests.
func (m *Manager) SetStopTiming(polls int, interval, restartPause time.Duration) {
	m.killPolls = polls
	m.pollInterval = interval
	m.restartPause = restartPause
}

// Start launches svc. It is a no-op when the service is already running.
// Failures mark the service failed and return a recoverable error.
func (m *Manager) Start(svc *service.Service) error {
	if svc.State() == service.Running {
		return nil
	}
	def := svc.Def()
	if err := m.checkExec(def.Command); err != nil {
		svc.MarkFailed()
		m.observeFailure(def.Name, err)
		return fmt.Errorf("%s: %w", def.Name, ErrCommandNotFound)
	}

	m.log.Info("starting service", "service", def.Name)
	svc.MarkStarting()
	pid, err := m.launcher.Start(def.Command)
	if err != nil {
		svc.MarkFailed()
		m.observeFailure(def.Name, err)
		return fmt.Errorf("%s: %w", def.Name, err)
	}

	if def.Flags.Has(service.FlagWait) {
		st, werr := m.launcher.Wait(pid)
		if werr != nil || !st.Success() {
			svc.MarkFailed()
			err := fmt.Errorf("%s: %w (code %d)", def.Name, ErrNonZeroExit, st.Code)
			m.observeFailure(def.Name, err)
			return err
		}
		svc.MarkStopped() // completed, not failed
		m.log.Info("service completed", "service", def.Name)
		metrics.SetState(def.Name, svc.State().String())
		return nil
	}

	svc.MarkRunning(pid, time.Now())
	m.writePIDFile(def, pid)
	m.log.Info("service started", "service", def.Name, "pid", pid)
	metrics.IncStart(def.Name)
	metrics.SetState(def.Name, svc.State().String())
	m.record(store.Event{Service: def.Name, Type: store.EventStart, PID: pid})
	return nil
}

// Stop terminates svc gracefully, escalating to SIGKILL after the grace
// window. It always ends in the stopped state with the pid cleared, and is a
// no-op when the service is not running.
func (m *Manager) Stop(svc *service.Service) {
	if svc.State() != service.Running {
		return
	}
	def := svc.Def()
	pid := svc.PID()
	m.log.Info("stopping service", "service", def.Name, "pid", pid)
	svc.MarkStopping()
	metrics.SetState(def.Name, svc.State().String())

	_ = m.launcher.Signal(pid, unix.SIGTERM)
	reaped := false
	for i := 0; i < m.killPolls; i++ {
		m.sleep(m.pollInterval)
		if st, _ := m.launcher.TryWait(pid); st != nil {
			reaped = true
			break
		}
	}
	if !reaped {
		m.log.Warn("force killing service", "service", def.Name, "pid", pid)
		_ = m.launcher.Signal(pid, unix.SIGKILL)
		_, _ = m.launcher.Wait(pid)
	}

	svc.MarkStopped()
	m.removePIDFile(def)
	m.log.Info("service stopped", "service", def.Name)
	metrics.IncStop(def.Name)
	metrics.SetState(def.Name, svc.State().String())
	m.record(store.Event{Service: def.Name, Type: store.EventStop, PID: pid})
}

// Restart stops svc, waits a fixed pause, and starts it again. The respawn
// counter is deliberately left untouched.
func (m *Manager) Restart(svc *service.Service) error {
	m.Stop(svc)
	m.sleep(m.restartPause)
	return m.Start(svc)
}

// Respawn applies the respawn policy after an unexpected exit has been
// observed and svc has already been marked stopped. No respawns are
// attempted once a shutdown is in progress.
func (m *Manager) Respawn(svc *service.Service, flags *signals.Flags) {
	def := svc.Def()
	if !def.Flags.Has(service.FlagRespawn) || flags.ShutdownRequested() {
		return
	}
	if svc.RestartCount() < def.MaxRestarts {
		n := svc.IncRestarts()
		m.log.Info("respawning service",
			"service", def.Name, "attempt", n, "max_restarts", def.MaxRestarts)
		m.sleep(def.RestartDelay)
		if flags.ShutdownRequested() {
			return
		}
		metrics.IncRespawn(def.Name)
		m.record(store.Event{Service: def.Name, Type: store.EventRespawn,
			Detail: fmt.Sprintf("attempt %d/%d", n, def.MaxRestarts)})
		_ = m.Start(svc)
		return
	}

	svc.MarkFailed()
	m.observeFailure(def.Name, ErrRestartBudgetExceeded)
	if def.Flags.Has(service.FlagCritical) {
		m.log.Error("critical service failed, requesting reboot", "service", def.Name)
		flags.RequestReboot()
	}
}

func (m *Manager) observeFailure(name string, err error) {
	m.log.Error("service failed", "service", name, "error", err)
	metrics.IncFailure(name)
	metrics.SetState(name, service.Failed.String())
	m.record(store.Event{Service: name, Type: store.EventFailed, Detail: err.Error()})
}

func (m *Manager) record(ev store.Event) {
	if m.st == nil {
		return
	}
	ev.At = time.Now()
	if err := m.st.RecordEvent(context.Background(), ev); err != nil {
		m.log.Warn("history write failed", "service", ev.Service, "error", err)
	}
}

func (m *Manager) writePIDFile(def service.Definition, pid int) {
	if def.PIDFile == "" {
		return
	}
	_ = os.MkdirAll(filepath.Dir(def.PIDFile), 0o750)
	if err := os.WriteFile(def.PIDFile, []byte(strconv.Itoa(pid)), 0o600); err != nil {
		m.log.Warn("pidfile write failed", "service", def.Name, "path", def.PIDFile, "error", err)
	}
}

func (m *Manager) removePIDFile(def service.Definition) {
	if def.PIDFile == "" {
		return
	}
	_ = os.Remove(def.PIDFile)
}

// checkExecutable verifies the executable bit on the command, falling back
// to the first whitespace-delimited token when the literal path is not
// executable (the command usually carries arguments).
func checkExecutable(command string) error {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return fmt.Errorf("empty command")
	}
	if unix.Access(cmd, unix.X_OK) == nil {
		return nil
	}
	tok := strings.Fields(cmd)[0]
	if !strings.ContainsRune(tok, '/') {
		// Bare names resolve through PATH, same as the shell will.
		if _, err := exec.LookPath(tok); err == nil {
			return nil
		}
		return fmt.Errorf("%q not found in PATH", tok)
	}
	if unix.Access(tok, unix.X_OK) == nil {
		return nil
	}
	return fmt.Errorf("%q is not executable", tok)
}
