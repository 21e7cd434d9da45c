// Command proxypool boots the upstream proxy pool gateway: admin API,
// SOCKS5 front-end, HTTP proxy front-end, and the background health
// checker, all sharing one node store and scheduler registry.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nodeforge/proxypool/internal/config"
	"github.com/nodeforge/proxypool/internal/logging"
	"github.com/nodeforge/proxypool/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; env vars take precedence)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("proxypool: config: %v", err)
	}

	sugar, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("proxypool: logging: %v", err)
	}
	defer sugar.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sup, err := supervisor.Boot(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalw("boot failed", "error", err)
	}

	if err := sup.Run(ctx); err != nil {
		sugar.Fatalw("run failed", "error", err)
	}
}
