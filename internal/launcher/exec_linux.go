package launcher

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrForkFailed wraps failures to spawn a child process.
var ErrForkFailed = errors.New("fork failed")

// ExecLauncher runs commands through the command interpreter. Children get
// default signal dispositions via exec, their own process group, and exit
// 127 when the executable cannot be loaded (shell semantics).
type ExecLauncher struct{}

func NewExec() *ExecLauncher { return &ExecLauncher{} }

func (l *ExecLauncher) Start(command string) (int, error) {
	// #nosec G204 -- commands come from the validated service registry
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrForkFailed, err)
	}
	pid := cmd.Process.Pid
	// All reaping goes through wait4; drop the os/exec handle so it does not
	// compete for the child's exit status.
	_ = cmd.Process.Release()
	return pid, nil
}

func (l *ExecLauncher) Wait(pid int) (ExitStatus, error) {
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return ExitStatus{}, fmt.Errorf("wait4 pid %d: %w", pid, err)
		}
		if wpid == pid {
			return fromWaitStatus(ws), nil
		}
	}
}

func (l *ExecLauncher) TryWait(pid int) (*ExitStatus, error) {
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	if err == unix.ECHILD {
		// Already reaped elsewhere; report a generic abnormal exit.
		return &ExitStatus{Code: -1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wait4 pid %d: %w", pid, err)
	}
	if wpid == 0 {
		return nil, nil
	}
	st := fromWaitStatus(ws)
	return &st, nil
}

func (l *ExecLauncher) WaitAny() (int, *ExitStatus, error) {
	var ws unix.WaitStatus
	pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
	if err == unix.ECHILD {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("wait4: %w", err)
	}
	if pid <= 0 {
		return 0, nil, nil
	}
	st := fromWaitStatus(ws)
	return pid, &st, nil
}

func (l *ExecLauncher) Signal(pid int, sig unix.Signal) error {
	return unix.Kill(pid, sig)
}

func (l *ExecLauncher) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

func fromWaitStatus(ws unix.WaitStatus) ExitStatus {
	if ws.Signaled() {
		return ExitStatus{Code: -1, Signaled: true, Signal: ws.Signal()}
	}
	return ExitStatus{Code: ws.ExitStatus()}
}
