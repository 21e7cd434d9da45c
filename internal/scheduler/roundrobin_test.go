package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodeforge/proxypool/internal/store"
)

// TestRoundRobinPicksLowestRelativeLoad exercises the documented formula
// directly: weight=1 vs weight=3 with equal current_connections always
// favors the higher-weight node (lower relative load), independent of the
// specific scenario-2 worked example (see DESIGN.md for the discrepancy
// between the literal formula and that example's expected output).
func TestRoundRobinPicksLowestRelativeLoad(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	_, err := s.Create(ctx, &store.Node{Name: "a", IsActive: true, IsHealthy: true, Weight: 1, MaxConnections: 10})
	require.NoError(t, err)
	_, err = s.Create(ctx, &store.Node{Name: "b", IsActive: true, IsHealthy: true, Weight: 3, MaxConnections: 10})
	require.NoError(t, err)

	rr := NewRoundRobin(s)
	node, err := rr.Pick(ctx)
	require.NoError(t, err)
	require.Equal(t, "b", node.Name)
}

func TestRoundRobinBreaksTiesByLeastRecentlyUsed(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	a, err := s.Create(ctx, &store.Node{Name: "a", IsActive: true, IsHealthy: true, Weight: 1, MaxConnections: 10})
	require.NoError(t, err)
	_, err = s.Create(ctx, &store.Node{Name: "b", IsActive: true, IsHealthy: true, Weight: 1, MaxConnections: 10})
	require.NoError(t, err)

	rr := NewRoundRobin(s)

	first, err := rr.Pick(ctx)
	require.NoError(t, err)
	require.NoError(t, rr.ReportSuccess(ctx, first.ID, 0))

	second, err := rr.Pick(ctx)
	require.NoError(t, err)
	require.NoError(t, rr.ReportSuccess(ctx, second.ID, 0))

	require.NotEqual(t, first.ID, second.ID)
	_ = a
}
