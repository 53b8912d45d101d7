package manager

import "errors"

// Recoverable launch errors. None of these is ever fatal to the supervisor;
// the affected service is marked failed and the loop keeps running.
var (
	// ErrCommandNotFound means the command's executable bit check failed.
	ErrCommandNotFound = errors.New("command not found")
	// ErrNonZeroExit is returned for wait-flagged services that exited
	// abnormally or with a non-zero code.
	ErrNonZeroExit = errors.New("non-zero exit")
	// ErrRestartBudgetExceeded marks a respawn budget overrun.
	ErrRestartBudgetExceeded = errors.New("restart budget exceeded")
)
