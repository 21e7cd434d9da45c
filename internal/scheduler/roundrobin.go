package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nodeforge/proxypool/internal/store"
)

// RoundRobin orders the candidate set by weight descending and picks the
// node with the smallest relative load (current_connections / weight),
// breaking ties on the least-recently-used node (spec.md §4.2.2).
type RoundRobin struct {
	store store.Store

	mu       sync.Mutex
	lastUsed map[int64]int64 // node_id -> time of last pick, Unix nanoseconds
}

// NewRoundRobin constructs a RoundRobin scheduler backed by s.
func NewRoundRobin(s store.Store) *RoundRobin {
	return &RoundRobin{store: s, lastUsed: make(map[int64]int64)}
}

func (rr *RoundRobin) Name() string { return string(KindRoundRobin) }

func (rr *RoundRobin) Pick(ctx context.Context) (*store.Node, error) {
	pool, err := candidates(ctx, rr.store)
	if err != nil {
		recordPick(rr.Name(), "error")
		return nil, err
	}
	if len(pool) == 0 {
		recordPick(rr.Name(), "empty_pool")
		return nil, nil
	}

	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Weight > pool[j].Weight })

	rr.mu.Lock()
	var best *store.Node
	bestLoad := 0.0
	bestLast := int64(1<<63 - 1)
	for _, n := range pool {
		w := n.Weight
		if w < 1 {
			w = 1
		}
		load := float64(n.CurrentConnections) / float64(w)
		last := rr.lastUsed[n.ID]
		if best == nil || load < bestLoad || (load == bestLoad && last < bestLast) {
			best = n
			bestLoad = load
			bestLast = last
		}
	}
	rr.lastUsed[best.ID] = time.Now().UnixNano()
	rr.mu.Unlock()

	if err := rr.store.IncrementConnections(ctx, best.ID); err != nil {
		recordPick(rr.Name(), "error")
		return nil, err
	}
	best.CurrentConnections++
	recordPick(rr.Name(), "picked")
	return best, nil
}

func (rr *RoundRobin) ReportSuccess(ctx context.Context, nodeID int64, _ float64) error {
	recordFeedback(rr.Name(), "success")
	return decrementAndReconcile(ctx, rr.store, nodeID)
}

func (rr *RoundRobin) ReportFailure(ctx context.Context, nodeID int64, _ string) error {
	recordFeedback(rr.Name(), "failure")
	return decrementAndReconcile(ctx, rr.store, nodeID)
}
