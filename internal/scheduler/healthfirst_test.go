package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/proxypool/internal/store"
)

func TestHealthFirstTieBreakIsApproximatelyUniform(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	a, err := s.Create(ctx, &store.Node{Name: "a", IsActive: true, IsHealthy: true, ResponseTimeMS: 50, SuccessRate: 100, Weight: 1, MaxConnections: 10})
	require.NoError(t, err)
	b, err := s.Create(ctx, &store.Node{Name: "b", IsActive: true, IsHealthy: true, ResponseTimeMS: 50, SuccessRate: 100, Weight: 1, MaxConnections: 10})
	require.NoError(t, err)

	hf := NewHealthFirst(s)

	counts := map[int64]int{}
	for i := 0; i < 1000; i++ {
		node, err := hf.Pick(ctx)
		require.NoError(t, err)
		counts[node.ID]++
		// Undo the connection increment between picks so every iteration
		// sees the same tied candidate set.
		require.NoError(t, s.DecrementConnections(ctx, node.ID))
	}

	assert.InDelta(t, 500, counts[a.ID], 100)
	assert.InDelta(t, 500, counts[b.ID], 100)
}

func TestHealthFirstScoreMonotonicInResponseTime(t *testing.T) {
	fast := &store.Node{ResponseTimeMS: 50, SuccessRate: 100, Weight: 1, MaxConnections: 10}
	slow := &store.Node{ResponseTimeMS: 900, SuccessRate: 100, Weight: 1, MaxConnections: 10}
	assert.Greater(t, Score(fast), Score(slow))
}

func TestHealthFirstReportSuccessSmoothsResponseTime(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	n, err := s.Create(ctx, &store.Node{Name: "a", IsActive: true, IsHealthy: true, ResponseTimeMS: 100, SuccessRate: 100, Weight: 1, MaxConnections: 10})
	require.NoError(t, err)

	hf := NewHealthFirst(s)
	_, err = hf.Pick(ctx)
	require.NoError(t, err)
	require.NoError(t, hf.ReportSuccess(ctx, n.ID, 200))

	got, err := s.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.7*100+0.3*200, got.ResponseTimeMS, 0.0001)
}

func TestHealthFirstReportFailureDecrementsSuccessRate(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	n, err := s.Create(ctx, &store.Node{Name: "a", IsActive: true, IsHealthy: true, SuccessRate: 80, Weight: 1, MaxConnections: 10})
	require.NoError(t, err)

	hf := NewHealthFirst(s)
	_, err = hf.Pick(ctx)
	require.NoError(t, err)
	require.NoError(t, hf.ReportFailure(ctx, n.ID, "boom"))

	got, err := s.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(79), got.SuccessRate)
}
