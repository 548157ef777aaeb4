package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir()+"/qa.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateCase_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCase(ctx, "case-1", "corr-1"))
	err := s.CreateCase(ctx, "case-1", "corr-1")
	assert.ErrorIs(t, err, ErrCaseExists)

	c, err := s.GetCase(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, StatusNew, c.Status)
}

func TestUpdateStatus_WritesHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCase(ctx, "case-2", "corr-2"))

	step := "dose_calc"
	require.NoError(t, s.UpdateStatus(ctx, "case-2", StatusUploading, &step, "starting step"))

	hist, err := s.CaseHistoryFor(ctx, "case-2")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, StatusNew, hist[0].Status)
	assert.Equal(t, StatusUploading, hist[1].Status)
	assert.Equal(t, "dose_calc", *hist[1].WorkflowStep)
}

func TestReserveGPU_NoResource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCase(ctx, "case-3", "corr-3"))

	_, err := s.ReserveGPU(ctx, "case-3")
	assert.ErrorIs(t, err, ErrNoResource)
}

func TestReserveAndReleaseGPU(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SeedGPUs(ctx, []string{"gpu-0"}))
	require.NoError(t, s.CreateCase(ctx, "case-4", "corr-4"))

	gpuID, err := s.ReserveGPU(ctx, "case-4")
	require.NoError(t, err)
	assert.Equal(t, "gpu-0", gpuID)

	gpus, err := s.ListGPUs(ctx)
	require.NoError(t, err)
	require.Len(t, gpus, 1)
	assert.Equal(t, GPUReserved, gpus[0].Status)
	require.NotNil(t, gpus[0].ReservedByCaseID)
	assert.Equal(t, "case-4", *gpus[0].ReservedByCaseID)

	_, err = s.ReserveGPU(ctx, "case-4")
	assert.ErrorIs(t, err, ErrNoResource, "gpu must not be reservable twice")

	require.NoError(t, s.ReleaseGPUForCase(ctx, "case-4"))
	c, err := s.GetCase(ctx, "case-4")
	require.NoError(t, err)
	assert.Nil(t, c.AssignedGPUID)

	gpus, err = s.ListGPUs(ctx)
	require.NoError(t, err)
	assert.Equal(t, GPUAvailable, gpus[0].Status)
	assert.Nil(t, gpus[0].ReservedByCaseID)
}

// TestReserveGPU_RaceSafe asserts the at-most-one-reservation-under-race
// law: N concurrent reservers against a single GPU must yield exactly one
// winner.
func TestReserveGPU_RaceSafe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SeedGPUs(ctx, []string{"gpu-race"}))

	const n = 8
	for i := 0; i < n; i++ {
		require.NoError(t, s.CreateCase(ctx, caseIDFor(i), "corr"))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.ReserveGPU(ctx, caseIDFor(i))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func caseIDFor(i int) string {
	return "race-case-" + string(rune('a'+i))
}

func TestScannerIsSeen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scanner := s.Scanner()

	seen, err := scanner.IsSeen(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.CreateCase(ctx, "case-5", "corr-5"))
	require.NoError(t, s.UpdateStatus(ctx, "case-5", StatusFailed, nil, "boom"))

	seen, err = scanner.IsSeen(ctx, "case-5")
	require.NoError(t, err)
	assert.True(t, seen, "FAILED cases count as already seen")
}

func TestProcessStatusAdoption(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ps, err := s.GetProcessStatus(ctx, "remote-executor")
	require.NoError(t, err)
	assert.Nil(t, ps)

	require.NoError(t, s.UpsertProcessStatus(ctx, &ProcessStatus{
		Name:   "remote-executor",
		PID:    4242,
		Status: "running",
	}))

	ps, err = s.GetProcessStatus(ctx, "remote-executor")
	require.NoError(t, err)
	require.NotNil(t, ps)
	assert.Equal(t, 4242, ps.PID)
}
