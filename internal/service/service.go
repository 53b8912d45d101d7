package service

import "time"

// State is the lifecycle state of a managed service.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Failed
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Flag is a bitmask of service behavior flags.
type Flag uint8

const (
	// FlagRespawn restarts the service when it exits unexpectedly.
	FlagRespawn Flag = 1 << iota
	// FlagWait blocks the start call until the command exits.
	FlagWait
	// FlagCritical escalates a respawn budget overrun to a system reboot.
	FlagCritical
	// FlagOneshot marks a run-to-completion service that is not monitored.
	FlagOneshot
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// Definition describes a service as loaded from configuration.
// It is immutable after load.
type Definition struct {
	Name         string        `json:"name"`
	Command      string        `json:"command"`       // executed through /bin/sh -c
	PIDFile      string        `json:"pid_file"`      // optional pidfile path
	Runlevel     int           `json:"runlevel"`      // minimum runlevel to start
	Flags        Flag          `json:"flags"`
	MaxRestarts  int           `json:"max_restarts"`  // respawn budget
	RestartDelay time.Duration `json:"restart_delay"` // pause before a respawn
}

// Service pairs a Definition with its mutable runtime state. The state is
// owned by the supervisor loop; mutation happens only through the transition
// methods below, which keep the pid/state invariant: pid is set exactly while
// the state is Running or Stopping.
type Service struct {
	def          Definition
	state        State
	pid          int
	startTime    time.Time
	restartCount int
}

func New(def Definition) *Service { return &Service{def: def} }

func (s *Service) Def() Definition      { return s.def }
func (s *Service) State() State         { return s.state }
func (s *Service) PID() int             { return s.pid }
func (s *Service) StartTime() time.Time { return s.startTime }
func (s *Service) RestartCount() int    { return s.restartCount }

// MarkStarting records that a launch attempt is underway.
func (s *Service) MarkStarting() {
	s.state = Starting
	s.pid = 0
}

// MarkRunning records a successful launch.
func (s *Service) MarkRunning(pid int, at time.Time) {
	s.state = Running
	s.pid = pid
	s.startTime = at
}

// MarkStopping keeps the pid while termination is in progress.
func (s *Service) MarkStopping() { s.state = Stopping }

// MarkStopped clears the pid; also used for completed oneshot/wait runs.
func (s *Service) MarkStopped() {
	s.state = Stopped
	s.pid = 0
}

// MarkFailed is terminal for automatic management; only an explicit restart
// clears it. A failed service never has a live process.
func (s *Service) MarkFailed() {
	s.state = Failed
	s.pid = 0
}

// IncRestarts bumps the respawn counter and returns the new value. The
// counter never decreases on its own.
func (s *Service) IncRestarts() int {
	s.restartCount++
	return s.restartCount
}

// ResetRestarts is reserved for explicit administrative restarts.
func (s *Service) ResetRestarts() { s.restartCount = 0 }
