package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qaorchestrator/internal/storage"
)

type fakeShell struct {
	mu    sync.Mutex
	alive map[int]bool
	nextPID int
}

func newFakeShell() *fakeShell {
	return &fakeShell{alive: make(map[int]bool), nextPID: 100}
}

func (f *fakeShell) StartDetached(ctx context.Context, command string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPID++
	f.alive[f.nextPID] = true
	return f.nextPID, nil
}

func (f *fakeShell) Probe(ctx context.Context, pid int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid], nil
}

func (f *fakeShell) Signal(ctx context.Context, pid int, signal string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if signal == "TERM" || signal == "KILL" {
		f.alive[pid] = false
	}
	return nil
}

func (f *fakeShell) RunAndWait(ctx context.Context, command string) (string, error) {
	return "", nil
}

func (f *fakeShell) Close() error { return nil }

func (f *fakeShell) kill(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[pid] = false
}

func newTestSupervisor(t *testing.T, specs []ProcessSpec) (*Supervisor, *fakeShell) {
	t.Helper()
	store, err := storage.Open(context.Background(), t.TempDir()+"/qa.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	shell := newFakeShell()
	return New(store, shell, shell, specs), shell
}

func TestStartAllAndStopAll(t *testing.T) {
	sup, shell := newTestSupervisor(t, []ProcessSpec{{Name: "remote-executor", Command: "run"}})
	ctx := context.Background()

	sup.StartAll(ctx)
	statuses := sup.Snapshot()
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Running)

	pid := statuses[0].PID
	alive, _ := shell.Probe(ctx, pid)
	assert.True(t, alive)

	sup.StopAll(ctx)
	statuses = sup.Snapshot()
	assert.False(t, statuses[0].Running)
}

func TestHealthProbeRestartsDeadProcess(t *testing.T) {
	sup, shell := newTestSupervisor(t, []ProcessSpec{{
		Name:        "file-transfer",
		Command:     "run",
		RestartBase: 0, // defaults to 30s; the first restart has no previous restart to wait on
		MaxRestarts: 10,
	}})
	ctx := context.Background()

	sup.StartAll(ctx)
	pid := sup.Snapshot()[0].PID
	shell.kill(pid)

	sup.HealthProbe(ctx)

	status := sup.Snapshot()[0]
	assert.True(t, status.Running, "process should have been restarted")
	assert.NotEqual(t, pid, status.PID)
	assert.Equal(t, 1, status.RestartCount)
}

func TestHealthProbePermanentFailureAfterMaxRestarts(t *testing.T) {
	sup, shell := newTestSupervisor(t, []ProcessSpec{{
		Name:        "flaky",
		Command:     "run",
		RestartBase: 0,
		MaxRestarts: 1,
	}})
	ctx := context.Background()

	sup.StartAll(ctx)
	pid := sup.Snapshot()[0].PID
	shell.kill(pid)
	sup.HealthProbe(ctx) // consecutive_failures (1) >= max_restarts (1) -> permanent failure, no restart

	pid = sup.Snapshot()[0].PID
	shell.kill(pid)
	sup.HealthProbe(ctx) // a permanently failed process is skipped and stays down

	status := sup.Snapshot()[0]
	assert.True(t, status.PermanentlyFailed)
	assert.False(t, status.Running)
}

func TestBackoffDelaySequence(t *testing.T) {
	base := 30 * time.Second
	cap := 900 * time.Second
	expected := []time.Duration{
		30 * time.Second, 60 * time.Second, 120 * time.Second, 240 * time.Second,
		480 * time.Second, 900 * time.Second, 900 * time.Second,
	}
	for i, want := range expected {
		assert.Equal(t, want, backoffDelay(base, cap, i))
	}
}

func TestAdoptRunningProcess(t *testing.T) {
	store, err := storage.Open(context.Background(), t.TempDir()+"/qa.db")
	require.NoError(t, err)
	defer store.Close()

	shell := newFakeShell()
	ctx := context.Background()
	require.NoError(t, store.UpsertProcessStatus(ctx, &storage.ProcessStatus{Name: "conductor", PID: 555, Status: "running"}))
	shell.alive[555] = true

	sup := New(store, shell, shell, []ProcessSpec{{Name: "conductor", Command: "run"}})
	require.NoError(t, sup.Adopt(ctx))

	status := sup.Snapshot()[0]
	assert.True(t, status.Running)
	assert.Equal(t, 555, status.PID)
}
