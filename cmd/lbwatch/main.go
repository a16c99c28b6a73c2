package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Maronee/appscale/internal/api"
	"github.com/Maronee/appscale/internal/compute"
	"github.com/Maronee/appscale/internal/config"
	"github.com/Maronee/appscale/internal/export"
	"github.com/Maronee/appscale/internal/hermes"
	"github.com/Maronee/appscale/internal/poller"
	"github.com/Maronee/appscale/internal/publish"
	"github.com/Maronee/appscale/internal/store"
)

func main() {
	configPath := flag.String("config", "lbwatch.yaml", "path to config file")
	once := flag.Bool("once", false, "poll every target once, print Prometheus metrics to stdout and exit")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Agent.SlogLevel())
	slog.Info("config loaded",
		"config", *configPath,
		"targets", len(cfg.Agent.Targets),
		"agent_port", cfg.Agent.Port,
		"poll_interval", cfg.Agent.PollInterval,
	)

	secret, err := cfg.Agent.Secret.Value()
	if err != nil {
		slog.Error("failed to resolve secret", "err", err)
		os.Exit(1)
	}
	if secret == "" {
		slog.Warn("no secret configured, agents will likely reject requests")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := hermes.New(hermes.Options{
		Port:           cfg.Agent.Port,
		Timeout:        cfg.Agent.Timeout,
		PrintThreshold: cfg.Agent.PrintThreshold,
		Logger:         logger,
	})

	st := store.New(cfg.HTTP.SnapshotTTL)
	sinks := []poller.Sink{st}

	if cfg.Publish.Enabled && !*once {
		pub := publish.New(cfg.Publish)
		sinks = append(sinks, poller.SinkFunc(pub.Publish))
		go pub.Run(ctx)
	}

	p := poller.New(poller.Options{
		Client:   client,
		Secret:   secret,
		Interval: cfg.Agent.PollInterval,
		Targets:  cfg.Agent.Targets,
		Sinks:    sinks,
	})
	p.OnRemove(st.Remove)

	if *once {
		code := runOnce(ctx, p)
		cancel()
		os.Exit(code)
	}

	if len(cfg.Agent.Targets) == 0 {
		slog.Warn("no targets configured, waiting for config changes")
	}

	go st.Run(ctx)

	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(updated.Agent.SlogLevel())
			p.SetTargets(updated.Agent.Targets)
			slog.Info("config hot-reloaded", "targets", len(updated.Agent.Targets))
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	var httpSrv *http.Server
	if cfg.HTTP.Listen != "" {
		httpSrv = &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           api.New(st),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("HTTP server listening", "addr", cfg.HTTP.Listen)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("HTTP server stopped", "err", err)
			}
		}()
	}

	go p.Run(ctx)

	<-ctx.Done()
	slog.Info("lbwatch shutting down")
	if httpSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	}
}

// runOnce polls a single cycle, writes the metrics to stdout and returns the
// process exit code: 2 when any poll failed.
func runOnce(ctx context.Context, p *poller.Poller) int {
	results := p.PollOnce(ctx)
	if err := export.Write(os.Stdout, export.Families(results)); err != nil {
		slog.Error("failed to write metrics", "err", err)
		return 1
	}
	for _, r := range results {
		if r.State == compute.StateUnknown {
			return 2
		}
	}
	return 0
}
