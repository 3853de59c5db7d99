package monitor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobStatusCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from JobStatus
		to   JobStatus
		want bool
	}{
		{"queued to running", JobStatusQueued, JobStatusRunning, true},
		{"queued to failed", JobStatusQueued, JobStatusFailed, true},
		{"queued to done", JobStatusQueued, JobStatusDone, false},
		{"running to done", JobStatusRunning, JobStatusDone, true},
		{"running to failed", JobStatusRunning, JobStatusFailed, true},
		{"running to queued", JobStatusRunning, JobStatusQueued, false},
		{"done to running", JobStatusDone, JobStatusRunning, false},
		{"done to failed", JobStatusDone, JobStatusFailed, false},
		{"failed to running", JobStatusFailed, JobStatusRunning, false},
		{"failed to done", JobStatusFailed, JobStatusDone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, JobStatusQueued.Terminal())
	require.False(t, JobStatusRunning.Terminal())
	require.True(t, JobStatusDone.Terminal())
	require.True(t, JobStatusFailed.Terminal())
}
