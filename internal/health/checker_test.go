package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/proxypool/internal/logging"
	"github.com/nodeforge/proxypool/internal/store"
)

// TestCheckAllPromotesNodeOnSuccessfulProbe exercises the spec's worked
// example: a node starting unhealthy with success_rate=80 becomes healthy
// with response_time_ms=120 and success_rate=81 after a stubbed 120ms
// success.
func TestCheckAllPromotesNodeOnSuccessfulProbe(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	n, err := s.Create(ctx, &store.Node{
		Name: "a", IsActive: true, IsHealthy: false, SuccessRate: 80, Weight: 1, MaxConnections: 10,
	})
	require.NoError(t, err)

	c := New(s, Config{}, logging.Noop())
	c.probeFunc = func(_ context.Context, node *store.Node) probeResult {
		return probeResult{nodeID: node.ID, success: true, responseTimeMS: 120}
	}

	require.NoError(t, c.CheckAll(ctx))

	got, err := s.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, got.IsHealthy)
	assert.Equal(t, float64(120), got.ResponseTimeMS)
	assert.Equal(t, float64(81), got.SuccessRate)
	require.NotNil(t, got.LastCheck)
}

func TestCheckAllDemotesNodeOnFailedProbe(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	n, err := s.Create(ctx, &store.Node{
		Name: "a", IsActive: true, IsHealthy: true, SuccessRate: 80, Weight: 1, MaxConnections: 10,
	})
	require.NoError(t, err)

	c := New(s, Config{}, logging.Noop())
	c.probeFunc = func(_ context.Context, node *store.Node) probeResult {
		return probeResult{nodeID: node.ID, success: false}
	}

	require.NoError(t, c.CheckAll(ctx))

	got, err := s.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.False(t, got.IsHealthy)
	assert.Equal(t, store.FailureResponseTimeMS, got.ResponseTimeMS)
	assert.Equal(t, float64(75), got.SuccessRate)
}

func TestCheckAllSkipsInactiveNodes(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	_, err := s.Create(ctx, &store.Node{Name: "a", IsActive: false})
	require.NoError(t, err)

	probed := 0
	c := New(s, Config{}, logging.Noop())
	c.probeFunc = func(_ context.Context, node *store.Node) probeResult {
		probed++
		return probeResult{nodeID: node.ID, success: true}
	}

	require.NoError(t, c.CheckAll(ctx))
	assert.Equal(t, 0, probed)
}

func TestCheckAllOneSiblingFailureDoesNotCancelOthers(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	failing, err := s.Create(ctx, &store.Node{Name: "fail", IsActive: true, Weight: 1, MaxConnections: 10})
	require.NoError(t, err)
	healthy, err := s.Create(ctx, &store.Node{Name: "ok", IsActive: true, Weight: 1, MaxConnections: 10})
	require.NoError(t, err)

	c := New(s, Config{}, logging.Noop())
	c.probeFunc = func(_ context.Context, node *store.Node) probeResult {
		if node.ID == failing.ID {
			return probeResult{nodeID: node.ID, success: false}
		}
		time.Sleep(5 * time.Millisecond)
		return probeResult{nodeID: node.ID, success: true, responseTimeMS: 10}
	}

	require.NoError(t, c.CheckAll(ctx))

	gotFail, err := s.GetByID(ctx, failing.ID)
	require.NoError(t, err)
	assert.False(t, gotFail.IsHealthy)

	gotOK, err := s.GetByID(ctx, healthy.ID)
	require.NoError(t, err)
	assert.True(t, gotOK.IsHealthy)
}
