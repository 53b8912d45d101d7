package launcher

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ExitStatus describes how a child terminated.
type ExitStatus struct {
	Code     int
	Signaled bool
	Signal   unix.Signal
}

// Success reports a clean zero exit.
func (e ExitStatus) Success() bool { return !e.Signaled && e.Code == 0 }

func (e ExitStatus) String() string {
	if e.Signaled {
		return fmt.Sprintf("signal %d", int(e.Signal))
	}
	return fmt.Sprintf("code %d", e.Code)
}

// Launcher abstracts process creation and reaping so the state machine and
// the supervisor loop can be exercised in tests without forking.
type Launcher interface {
	// Start spawns the command and returns its pid without blocking.
	Start(command string) (int, error)
	// Wait blocks until pid exits and reaps it.
	Wait(pid int) (ExitStatus, error)
	// TryWait reaps pid if it already exited; nil status means still running.
	TryWait(pid int) (*ExitStatus, error)
	// WaitAny reaps any exited child without blocking. pid 0 means none.
	WaitAny() (int, *ExitStatus, error)
	// Signal delivers sig to pid.
	Signal(pid int, sig unix.Signal) error
	// Alive probes whether pid still refers to a live process.
	Alive(pid int) bool
}
