package scheduler

import (
	"context"
	"math/rand"

	"github.com/nodeforge/proxypool/internal/store"
)

// Random picks uniformly among the candidate set. It carries no
// per-scheduler state beyond the store itself.
type Random struct {
	store store.Store
}

// NewRandom constructs a Random scheduler backed by s.
func NewRandom(s store.Store) *Random {
	return &Random{store: s}
}

func (r *Random) Name() string { return string(KindRandom) }

func (r *Random) Pick(ctx context.Context) (*store.Node, error) {
	pool, err := candidates(ctx, r.store)
	if err != nil {
		recordPick(r.Name(), "error")
		return nil, err
	}
	if len(pool) == 0 {
		recordPick(r.Name(), "empty_pool")
		return nil, nil
	}

	chosen := pool[rand.Intn(len(pool))]
	if err := r.store.IncrementConnections(ctx, chosen.ID); err != nil {
		recordPick(r.Name(), "error")
		return nil, err
	}
	chosen.CurrentConnections++
	recordPick(r.Name(), "picked")
	return chosen, nil
}

func (r *Random) ReportSuccess(ctx context.Context, nodeID int64, _ float64) error {
	recordFeedback(r.Name(), "success")
	return decrementAndReconcile(ctx, r.store, nodeID)
}

func (r *Random) ReportFailure(ctx context.Context, nodeID int64, _ string) error {
	recordFeedback(r.Name(), "failure")
	return decrementAndReconcile(ctx, r.store, nodeID)
}
