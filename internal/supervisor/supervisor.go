// Package supervisor wires every component together at boot and drives an
// orderly shutdown (spec.md §4.6): initialize the store, instantiate the
// default scheduler, launch the health checker and the two proxy
// front-ends as background tasks, and run the admin API until cancelled.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nodeforge/proxypool/internal/adminapi"
	"github.com/nodeforge/proxypool/internal/config"
	"github.com/nodeforge/proxypool/internal/health"
	"github.com/nodeforge/proxypool/internal/proxyfront/httpproxy"
	"github.com/nodeforge/proxypool/internal/proxyfront/socks5"
	"github.com/nodeforge/proxypool/internal/scheduler"
	"github.com/nodeforge/proxypool/internal/store"
)

// Supervisor owns every long-lived component's lifecycle.
type Supervisor struct {
	cfg *config.Config
	log *zap.SugaredLogger

	durableStore store.Store
	activeStore  store.Store
	redisClient  interface{ Close() error }

	registry *scheduler.Registry
	checker  *health.Checker
	api      *adminapi.API

	socksLn net.Listener
	httpLn  net.Listener
}

// Boot constructs every component from cfg but does not yet start serving;
// call Run to begin accepting connections.
func Boot(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*Supervisor, error) {
	durable, err := store.NewPostgresStore(ctx, cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("supervisor: init store: %w", err)
	}

	var active store.Store = durable
	var redisClient interface{ Close() error }
	if cfg.RedisAddr != "" {
		rc, err := store.NewRedisClient(cfg.RedisAddr)
		if err != nil {
			log.Warnw("redis unavailable, falling back to direct store counters", "error", err)
		} else {
			active = store.NewCachedStore(durable, rc)
			redisClient = rc
		}
	}

	registry := scheduler.NewRegistry(active)

	checker := health.New(active, health.Config{
		Interval: cfg.HealthCheckInterval,
		CheckURL: cfg.HealthCheckURL,
		Timeout:  cfg.HealthCheckTimeout,
	}, log)

	api := adminapi.New(active, registry, checker, log, cfg.AdminRateLimitRPS, cfg.AdminRateLimitBurst)

	return &Supervisor{
		cfg:          cfg,
		log:          log,
		durableStore: durable,
		activeStore:  active,
		redisClient:  redisClient,
		registry:     registry,
		checker:      checker,
		api:          api,
	}, nil
}

// Run starts every background task and serves the admin API until ctx is
// cancelled, then closes the listeners and waits up to 15 s for the health
// checker, stats hub and accept loops to exit. Proxied connections still in
// flight are not waited for.
func (s *Supervisor) Run(ctx context.Context) error {
	socksLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.ListenHost, s.cfg.SOCKS5Port))
	if err != nil {
		return fmt.Errorf("supervisor: listen socks5: %w", err)
	}
	s.socksLn = socksLn

	httpLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.ListenHost, s.cfg.HTTPProxyPort))
	if err != nil {
		socksLn.Close()
		return fmt.Errorf("supervisor: listen http proxy: %w", err)
	}
	s.httpLn = httpLn

	apiLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.ListenHost, s.cfg.APIPort))
	if err != nil {
		socksLn.Close()
		httpLn.Close()
		return fmt.Errorf("supervisor: listen admin api: %w", err)
	}

	var wg sync.WaitGroup
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.checker.Run(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.api.RunStatsHub(runCtx)
	}()

	socksSrv := &socks5.Server{Registry: s.registry, Log: s.log}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := socksSrv.Serve(runCtx, socksLn); err != nil {
			s.log.Errorw("socks5 listener exited", "error", err)
		}
	}()

	httpSrv := &httpproxy.Server{Registry: s.registry, Log: s.log}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpSrv.Serve(runCtx, httpLn); err != nil {
			s.log.Errorw("http proxy listener exited", "error", err)
		}
	}()

	adminDone := make(chan error, 1)
	go func() {
		adminDone <- serveAdmin(apiLn, s.api.Handler())
	}()

	s.log.Infow("proxy pool booted",
		"socks5_addr", socksLn.Addr().String(),
		"http_proxy_addr", httpLn.Addr().String(),
		"admin_api_addr", apiLn.Addr().String(),
	)

	select {
	case <-ctx.Done():
	case err := <-adminDone:
		if err != nil {
			s.log.Errorw("admin api exited unexpectedly", "error", err)
		}
	}

	cancel()
	socksLn.Close()
	httpLn.Close()
	apiLn.Close()

	grace := make(chan struct{})
	go func() {
		wg.Wait()
		close(grace)
	}()
	select {
	case <-grace:
	case <-time.After(15 * time.Second):
		s.log.Warnw("shutdown grace period exceeded, proceeding anyway")
	}

	if s.redisClient != nil {
		s.redisClient.Close()
	}
	if closer, ok := s.durableStore.(interface{ Close() }); ok {
		closer.Close()
	}
	return nil
}

// serveAdmin runs a plain http.Server over ln until the listener is closed,
// treating that as a clean shutdown rather than an error.
func serveAdmin(ln net.Listener, handler http.Handler) error {
	srv := &http.Server{Handler: handler}
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
