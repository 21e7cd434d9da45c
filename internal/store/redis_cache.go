package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a durable Store and defers current_connections
// persistence to a Redis counter, so the pick/report_* hot path (spec.md
// §4.2, §5) does not take a full SQL round trip on every client connection.
// GetByID/List always read the durable row merged with the live counter, so
// callers never observe a stale current_connections value.
type CachedStore struct {
	Store
	redis *redis.Client
}

// NewCachedStore wraps backing with a Redis client used only for the
// current_connections fast path.
func NewCachedStore(backing Store, client *redis.Client) *CachedStore {
	return &CachedStore{Store: backing, redis: client}
}

func connKey(id int64) string {
	return fmt.Sprintf("proxypool:conn:%d", id)
}

func (c *CachedStore) IncrementConnections(ctx context.Context, id int64) error {
	return c.redis.Incr(ctx, connKey(id)).Err()
}

func (c *CachedStore) DecrementConnections(ctx context.Context, id int64) error {
	// Lua keeps the decrement atomic and saturating at zero in a single
	// round trip, mirroring the SQL GREATEST(...,0) used by PostgresStore.
	const script = `
local v = redis.call("DECR", KEYS[1])
if v < 0 then
	redis.call("SET", KEYS[1], 0)
	v = 0
end
return v`
	return c.redis.Eval(ctx, script, []string{connKey(id)}).Err()
}

// GetByID merges the durable row with any pending Redis delta so readers
// never see a value older than the last pick/report.
func (c *CachedStore) GetByID(ctx context.Context, id int64) (*Node, error) {
	n, err := c.Store.GetByID(ctx, id)
	if err != nil || n == nil {
		return n, err
	}
	c.mergeCounter(ctx, n)
	return n, nil
}

func (c *CachedStore) List(ctx context.Context, f Filters, skip, limit int) ([]*Node, error) {
	nodes, err := c.Store.List(ctx, f, skip, limit)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		c.mergeCounter(ctx, n)
	}
	return nodes, nil
}

// mergeCounter overwrites n.CurrentConnections with the live Redis count
// when present. The Redis key, once created by the first Increment, is the
// single running source of truth for a node's outstanding connections —
// Reconcile only ever copies it into the durable row, it never resets or
// deletes it, so a later Increment/Decrement always continues from the
// correct running total instead of restarting from zero.
func (c *CachedStore) mergeCounter(ctx context.Context, n *Node) {
	val, err := c.redis.Get(ctx, connKey(n.ID)).Int()
	if err != nil {
		// Key absent or Redis unreachable: fall back to the durable value.
		return
	}
	if val < 0 {
		val = 0
	}
	n.CurrentConnections = val
}

// Reconcile copies the live Redis counter for id into the durable row.
// Called by report_success/report_failure commits and by each health-check
// tick, so the durable row is never stale by more than one outstanding
// request per node. It deliberately leaves the Redis key untouched: the key
// keeps tracking every node's true outstanding-connection count across
// concurrent picks, and clearing it here would make the next Increment
// start counting from zero instead of from the connections still open from
// picks this call didn't decrement.
func (c *CachedStore) Reconcile(ctx context.Context, id int64) error {
	val, err := c.redis.Get(ctx, connKey(id)).Int()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val < 0 {
		val = 0
	}
	_, err = c.Store.Update(ctx, id, Patch{CurrentConnections: &val})
	return err
}

// NewRedisClient is a thin constructor kept here so callers needing only a
// connection-count cache do not also have to import go-redis directly.
func NewRedisClient(addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return client, nil
}
