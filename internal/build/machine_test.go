package build

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sitekb-mcp/pkg/types"
)

func TestMachineTransitions(t *testing.T) {
	all := []types.BuildStatus{types.StatusNotStarted, types.StatusBuilding, types.StatusReady, types.StatusFailed}
	allowed := map[[2]types.BuildStatus]bool{
		{types.StatusNotStarted, types.StatusBuilding}: true,
		{types.StatusReady, types.StatusBuilding}:      true,
		{types.StatusFailed, types.StatusBuilding}:     true,
		{types.StatusBuilding, types.StatusReady}:      true,
		{types.StatusBuilding, types.StatusFailed}:     true,
	}

	for _, from := range all {
		for _, to := range all {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				m := NewMachine(&types.TenantState{TenantID: 1, Status: from})
				err := m.Transition(to)
				if allowed[[2]types.BuildStatus{from, to}] {
					require.NoError(t, err)
					assert.Equal(t, to, m.Status())
				} else {
					require.ErrorIs(t, err, types.ErrInvalidTransition)
					assert.Equal(t, from, m.Status())
				}
			})
		}
	}
}

func TestMachineDefaultsToNotStarted(t *testing.T) {
	m := NewMachine(&types.TenantState{TenantID: 1})
	assert.Equal(t, types.StatusNotStarted, m.Status())
}

func TestMachineCopiesState(t *testing.T) {
	src := &types.TenantState{TenantID: 1, SeedURLs: []string{"https://a.test"}, Progress: &types.BuildProgress{URLsDone: 1}}
	m := NewMachine(src)
	m.State().SeedURLs[0] = "changed"
	m.State().Progress.URLsDone = 5

	assert.Equal(t, "https://a.test", src.SeedURLs[0])
	assert.Equal(t, 1, src.Progress.URLsDone)
}

func TestMachineLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMachine(&types.TenantState{TenantID: 1, Status: types.StatusFailed, ErrorMessage: "old", DocumentCount: 4})

	require.NoError(t, m.Begin(now))
	s := m.State()
	assert.Equal(t, types.StatusBuilding, s.Status)
	assert.Empty(t, s.ErrorMessage)
	require.NotNil(t, s.Progress)
	assert.Equal(t, types.StepCrawling, s.Progress.Step)
	assert.Equal(t, "Analyzing your website...", s.Progress.Message)

	require.NoError(t, m.Succeed(12, now))
	assert.Equal(t, types.StatusReady, s.Status)
	assert.Equal(t, 12, s.DocumentCount)
	assert.True(t, s.AIEnabled)
	assert.Nil(t, s.Progress)
	require.NotNil(t, s.LastScrapedAt)
	assert.Equal(t, now, *s.LastScrapedAt)

	// A second success without a new build is not a valid transition
	require.ErrorIs(t, m.Succeed(1, now), types.ErrInvalidTransition)

	require.NoError(t, m.Begin(now))
	require.NoError(t, m.Fail(msgTimeout))
	assert.Equal(t, types.StatusFailed, s.Status)
	assert.Equal(t, msgTimeout, s.ErrorMessage)
	assert.Equal(t, 12, s.DocumentCount, "failure keeps the previous count")
	assert.Nil(t, s.Progress)
}

func TestMachineProgressIsMonotonic(t *testing.T) {
	now := time.Now()
	m := NewMachine(&types.TenantState{TenantID: 1})

	assert.False(t, m.UpdateProgress(now, func(p *types.BuildProgress) { p.URLsDone = 1 }),
		"no progress outside a build")

	require.NoError(t, m.Begin(now))
	require.True(t, m.UpdateProgress(now, func(p *types.BuildProgress) {
		p.URLsTotal, p.URLsDone, p.ChunksProcessed = 10, 4, 30
	}))
	later := now.Add(time.Second)
	require.True(t, m.UpdateProgress(later, func(p *types.BuildProgress) {
		p.URLsTotal, p.URLsDone, p.ChunksProcessed = 8, 2, 31
		p.Step = types.StepEmbedding
	}))

	p := m.State().Progress
	assert.Equal(t, 10, p.URLsTotal)
	assert.Equal(t, 4, p.URLsDone)
	assert.Equal(t, 31, p.ChunksProcessed)
	assert.Equal(t, types.StepEmbedding, p.Step)
	assert.Equal(t, later, p.UpdatedAt)
}

func TestBuildLock(t *testing.T) {
	var l buildLock
	require.True(t, l.tryAcquire())
	assert.False(t, l.tryAcquire())
	l.release()
	assert.True(t, l.tryAcquire())
}

func TestTenantLocksSingleWinner(t *testing.T) {
	var locks tenantLocks
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if locks.tryAcquire(7) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.True(t, locks.held(7))
	assert.False(t, locks.held(8), "tenants are independent")
	assert.True(t, locks.tryAcquire(8))

	locks.release(7)
	assert.False(t, locks.held(7))
}

func TestFailureMessage(t *testing.T) {
	tests := []struct {
		name  string
		cause error
		err   error
		want  string
	}{
		{"disabled wins over error", errDisabled, ErrNoContent, msgCancelled},
		{"timeout", errTimedOut, nil, msgTimeout},
		{"shutdown", errShutdown, nil, msgShutdown},
		{"no content", nil, ErrNoContent, msgNoContent},
		{"unreachable", nil, ErrSiteUnreachable, msgUnreachable},
		{"unknown", nil, assert.AnError, msgDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, failureMessage(tt.cause, tt.err))
		})
	}
}
