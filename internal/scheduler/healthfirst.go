package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/nodeforge/proxypool/internal/store"
)

const healthScoreCacheTTL = 60 * time.Second

type scoreEntry struct {
	score    float64
	cachedAt time.Time
}

// HealthFirst is the default scheduler. It scores every candidate from a
// weighted blend of response time, success rate, load, and weight, caching
// each node's score for healthScoreCacheTTL, and picks the argmax (ties
// broken uniformly at random among the tied set).
type HealthFirst struct {
	store store.Store

	mu    sync.Mutex
	cache map[int64]scoreEntry
}

// NewHealthFirst constructs a Health-First scheduler backed by s.
func NewHealthFirst(s store.Store) *HealthFirst {
	return &HealthFirst{store: s, cache: make(map[int64]scoreEntry)}
}

func (h *HealthFirst) Name() string { return string(KindHealthFirst) }

// Score computes the Health-First score for a node. It is deterministic
// given the node's fields (spec.md §8): components are:
//
//	resp = max(0, 100 - min(response_time_ms, 1000) / 10)
//	succ = success_rate
//	load = 100 * (1 - min(current_connections / max(max_connections, 1), 1))
//	wt   = min(weight * 10, 100)
//	score = 0.4*resp + 0.3*succ + 0.2*load + 0.1*wt
func Score(n *store.Node) float64 {
	rt := n.ResponseTimeMS
	if rt > 1000 {
		rt = 1000
	}
	resp := 100 - rt/10
	if resp < 0 {
		resp = 0
	}

	succ := n.SuccessRate

	maxConn := n.MaxConnections
	if maxConn < 1 {
		maxConn = 1
	}
	ratio := float64(n.CurrentConnections) / float64(maxConn)
	if ratio > 1 {
		ratio = 1
	}
	load := 100 * (1 - ratio)

	wt := float64(n.Weight) * 10
	if wt > 100 {
		wt = 100
	}

	return 0.4*resp + 0.3*succ + 0.2*load + 0.1*wt
}

func (h *HealthFirst) scoreOf(n *store.Node) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e, ok := h.cache[n.ID]; ok && time.Since(e.cachedAt) < healthScoreCacheTTL {
		return e.score
	}
	s := Score(n)
	h.cache[n.ID] = scoreEntry{score: s, cachedAt: time.Now()}
	return s
}

func (h *HealthFirst) invalidate(id int64) {
	h.mu.Lock()
	delete(h.cache, id)
	h.mu.Unlock()
}

func (h *HealthFirst) Pick(ctx context.Context) (*store.Node, error) {
	pool, err := candidates(ctx, h.store)
	if err != nil {
		recordPick(h.Name(), "error")
		return nil, err
	}
	if len(pool) == 0 {
		recordPick(h.Name(), "empty_pool")
		return nil, nil
	}

	best := h.scoreOf(pool[0])
	tied := []*store.Node{pool[0]}
	for _, n := range pool[1:] {
		s := h.scoreOf(n)
		switch {
		case s > best:
			best = s
			tied = []*store.Node{n}
		case s == best:
			tied = append(tied, n)
		}
	}

	chosen := tied[rand.Intn(len(tied))]
	if err := h.store.IncrementConnections(ctx, chosen.ID); err != nil {
		recordPick(h.Name(), "error")
		return nil, err
	}
	chosen.CurrentConnections++
	recordPick(h.Name(), "picked")
	return chosen, nil
}

func (h *HealthFirst) ReportSuccess(ctx context.Context, nodeID int64, responseTimeMS float64) error {
	recordFeedback(h.Name(), "success")
	if err := decrementAndReconcile(ctx, h.store, nodeID); err != nil {
		return err
	}

	n, err := h.store.GetByID(ctx, nodeID)
	if err != nil || n == nil {
		h.invalidate(nodeID)
		return err
	}
	smoothed := 0.7*n.ResponseTimeMS + 0.3*responseTimeMS
	_, err = h.store.Update(ctx, nodeID, store.Patch{ResponseTimeMS: &smoothed})
	h.invalidate(nodeID)
	return err
}

func (h *HealthFirst) ReportFailure(ctx context.Context, nodeID int64, _ string) error {
	recordFeedback(h.Name(), "failure")
	if err := decrementAndReconcile(ctx, h.store, nodeID); err != nil {
		return err
	}

	n, err := h.store.GetByID(ctx, nodeID)
	if err != nil || n == nil {
		h.invalidate(nodeID)
		return err
	}
	rate := store.ClampSuccessRate(n.SuccessRate - 1)
	_, err = h.store.Update(ctx, nodeID, store.Patch{SuccessRate: &rate})
	h.invalidate(nodeID)
	return err
}
