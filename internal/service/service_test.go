package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Stopped:   "stopped",
		Starting:  "starting",
		Running:   "running",
		Stopping:  "stopping",
		Failed:    "failed",
		State(99): "unknown",
	}
	for st, want := range cases {
		assert.Equal(t, want, st.String())
	}
}

func TestFlagHas(t *testing.T) {
	f := FlagRespawn | FlagCritical
	assert.True(t, f.Has(FlagRespawn))
	assert.True(t, f.Has(FlagCritical))
	assert.False(t, f.Has(FlagWait))
	assert.False(t, f.Has(FlagOneshot))
}

// The pid must be set exactly while the state is Running or Stopping.
func TestPidStateInvariant(t *testing.T) {
	svc := New(Definition{Name: "web", Command: "/bin/true"})
	require.Equal(t, Stopped, svc.State())
	require.Zero(t, svc.PID())

	svc.MarkStarting()
	assert.Equal(t, Starting, svc.State())
	assert.Zero(t, svc.PID())

	started := time.Now()
	svc.MarkRunning(1234, started)
	assert.Equal(t, Running, svc.State())
	assert.Equal(t, 1234, svc.PID())
	assert.Equal(t, started, svc.StartTime())

	svc.MarkStopping()
	assert.Equal(t, Stopping, svc.State())
	assert.Equal(t, 1234, svc.PID())

	svc.MarkStopped()
	assert.Equal(t, Stopped, svc.State())
	assert.Zero(t, svc.PID())

	svc.MarkRunning(1235, time.Now())
	svc.MarkFailed()
	assert.Equal(t, Failed, svc.State())
	assert.Zero(t, svc.PID(), "a failed service never has a live process")
}

func TestRestartCounter(t *testing.T) {
	svc := New(Definition{Name: "db"})
	assert.Zero(t, svc.RestartCount())
	assert.Equal(t, 1, svc.IncRestarts())
	assert.Equal(t, 2, svc.IncRestarts())
	assert.Equal(t, 2, svc.RestartCount())

	svc.ResetRestarts()
	assert.Zero(t, svc.RestartCount())
}
