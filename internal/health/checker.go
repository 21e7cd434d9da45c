// Package health runs the background probing loop that keeps each node's
// is_healthy, response_time_ms, and success_rate fields current.
package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nodeforge/proxypool/internal/relay"
	"github.com/nodeforge/proxypool/internal/store"
	"github.com/nodeforge/proxypool/internal/telemetry"
)

const (
	failureResponseTimeMS = store.FailureResponseTimeMS
	successRateDelta      = 1.0
	failureRateDelta      = -5.0
)

// Config controls probing behavior.
type Config struct {
	Interval time.Duration
	CheckURL string
	Timeout  time.Duration
}

// probeResult mirrors the transient HealthCheckResult of the data model.
type probeResult struct {
	nodeID         int64
	success        bool
	responseTimeMS float64
	err            error
}

// Checker runs the single background health-check loop.
type Checker struct {
	store store.Store
	cfg   Config
	log   *zap.SugaredLogger

	// onTick, if set, is invoked after every batch commit with a summary —
	// used to push updates to the admin WebSocket stats hub.
	onTick func(probed, healthy, unhealthy int)

	// probeFunc performs a single node probe. Defaults to c.probe (a real
	// HTTP GET through the node as upstream proxy); tests substitute a stub
	// to avoid depending on network access.
	probeFunc func(ctx context.Context, n *store.Node) probeResult
}

// New constructs a Checker backed by s, applying defaults for any zero
// Config fields.
func New(s store.Store, cfg Config, log *zap.SugaredLogger) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 300 * time.Second
	}
	if cfg.CheckURL == "" {
		cfg.CheckURL = "https://www.google.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Checker{store: s, cfg: cfg, log: log}
	c.probeFunc = c.probe
	return c
}

// OnTick registers a callback invoked after each completed tick's batch
// commit.
func (c *Checker) OnTick(fn func(probed, healthy, unhealthy int)) {
	c.onTick = fn
}

// Run drives the periodic loop until ctx is cancelled. On any unexpected
// error in the loop body it waits 10 s before retrying rather than hot
// looping.
func (c *Checker) Run(ctx context.Context) {
	for {
		if err := c.CheckAll(ctx); err != nil {
			c.log.Errorw("health check tick failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Second):
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.Interval):
		}
	}
}

// CheckAll performs a single probe-all-nodes tick: load active nodes,
// probe each concurrently (one task's failure never cancels its
// siblings), then commit every result as a single batch.
func (c *Checker) CheckAll(ctx context.Context) error {
	active := true
	nodes, err := c.store.List(ctx, store.Filters{IsActive: &active}, 0, 0)
	if err != nil {
		return fmt.Errorf("health: list active nodes: %w", err)
	}
	if len(nodes) == 0 {
		if c.onTick != nil {
			c.onTick(0, 0, 0)
		}
		return nil
	}

	results := make([]probeResult, len(nodes))
	g := new(errgroup.Group)
	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			results[i] = c.probeFunc(ctx, n)
			return nil
		})
	}
	_ = g.Wait()

	healthy, unhealthy := 0, 0
	for i, res := range results {
		n := nodes[i]
		c.log.Debugw("health probe result", "node_id", n.ID, "success", res.success, "response_time_ms", res.responseTimeMS, "error", res.err)
		if err := c.commit(ctx, n, res); err != nil {
			c.log.Errorw("health: commit probe result failed", "node_id", n.ID, "error", err)
			continue
		}
		if res.success {
			healthy++
		} else {
			unhealthy++
		}
	}

	c.log.Infow("health check tick complete", "probed", len(nodes), "healthy", healthy, "unhealthy", unhealthy)
	if c.onTick != nil {
		c.onTick(len(nodes), healthy, unhealthy)
	}
	return nil
}

func (c *Checker) probe(ctx context.Context, n *store.Node) probeResult {
	start := time.Now()

	proxyURL, err := nodeProxyURL(n)
	if err != nil {
		telemetry.ProbeResultsTotal.WithLabelValues("error").Inc()
		return probeResult{nodeID: n.ID, success: false, err: &relay.ProbeError{NodeID: n.ID, Err: err}}
	}

	client := &http.Client{
		Timeout: c.cfg.Timeout,
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{},
		},
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.cfg.CheckURL, nil)
	if err != nil {
		telemetry.ProbeResultsTotal.WithLabelValues("error").Inc()
		return probeResult{nodeID: n.ID, success: false, err: &relay.ProbeError{NodeID: n.ID, Err: err}}
	}

	resp, err := client.Do(req)
	elapsed := float64(time.Since(start).Milliseconds())
	telemetry.ProbeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.ProbeResultsTotal.WithLabelValues("failure").Inc()
		return probeResult{nodeID: n.ID, success: false, err: &relay.ProbeError{NodeID: n.ID, Err: err}}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		telemetry.ProbeResultsTotal.WithLabelValues("failure").Inc()
		return probeResult{nodeID: n.ID, success: false, err: &relay.ProbeError{NodeID: n.ID, Err: fmt.Errorf("status %d", resp.StatusCode)}}
	}

	telemetry.ProbeResultsTotal.WithLabelValues("success").Inc()
	return probeResult{nodeID: n.ID, success: true, responseTimeMS: elapsed}
}

func nodeProxyURL(n *store.Node) (*url.URL, error) {
	scheme := string(n.Protocol)
	if scheme == string(store.ProtocolSOCKS5) {
		scheme = "socks5"
	}
	u := &url.URL{Scheme: scheme, Host: n.Addr()}
	if n.Username != "" {
		u.User = url.UserPassword(n.Username, n.Password)
	}
	return u, nil
}

func (c *Checker) commit(ctx context.Context, n *store.Node, res probeResult) error {
	healthy := res.success
	respTime := res.responseTimeMS
	if !res.success {
		respTime = failureResponseTimeMS
	}

	delta := failureRateDelta
	if res.success {
		delta = successRateDelta
	}
	rate := store.ClampSuccessRate(n.SuccessRate + delta)

	now := time.Now()
	_, err := c.store.Update(ctx, n.ID, store.Patch{
		IsHealthy:      &healthy,
		ResponseTimeMS: &respTime,
		SuccessRate:    &rate,
		LastCheck:      &now,
	})
	if err != nil {
		return err
	}

	if rc, ok := c.store.(interface {
		Reconcile(ctx context.Context, id int64) error
	}); ok {
		return rc.Reconcile(ctx, n.ID)
	}
	return nil
}
