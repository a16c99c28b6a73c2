package poller

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Maronee/appscale/internal/compute"
	"github.com/Maronee/appscale/internal/config"
	"github.com/Maronee/appscale/internal/hermes"
)

// defaultConcurrency caps the number of proxies polled at the same time.
const defaultConcurrency = 8

// StatsClient is the subset of *hermes.Client the poller uses.
type StatsClient interface {
	ProxyLoadStats(ctx context.Context, host, secret, name string) (hermes.LoadStats, error)
	BackendServers(ctx context.Context, host, secret, name string) (running, failed []string, err error)
}

// Sink receives every derived result, e.g. *store.Store or *publish.Publisher.
type Sink interface {
	Put(res *compute.Result)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(res *compute.Result)

// Put calls f(res).
func (f SinkFunc) Put(res *compute.Result) { f(res) }

// Options configures a Poller.
type Options struct {
	Client      StatsClient
	Secret      string
	Interval    time.Duration
	Targets     []config.Target
	Sinks       []Sink
	Concurrency int
}

// Poller polls every configured proxy on a fixed interval and feeds the
// derived results to its sinks.
type Poller struct {
	client      StatsClient
	secret      string
	interval    time.Duration
	concurrency int
	engine      *compute.Engine
	sinks       []Sink

	mu      sync.RWMutex
	targets []config.Target
	removed func(key string)
}

// New returns a Poller built from opts.
func New(opts Options) *Poller {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Interval <= 0 {
		opts.Interval = config.DefaultPollInterval
	}
	return &Poller{
		client:      opts.Client,
		secret:      opts.Secret,
		interval:    opts.Interval,
		concurrency: opts.Concurrency,
		engine:      compute.NewEngine(),
		sinks:       opts.Sinks,
		targets:     opts.Targets,
	}
}

// OnRemove registers fn to be called with the key of every proxy dropped by
// SetTargets.
func (p *Poller) OnRemove(fn func(key string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = fn
}

// SetTargets replaces the polled targets. Proxies no longer listed lose
// their rate baseline. Polls of a removed proxy still in flight are dropped.
func (p *Poller) SetTargets(targets []config.Target) {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := keysOf(p.targets)
	p.targets = targets
	removed := p.removed

	current := keysOf(targets)
	for key := range old {
		if _, ok := current[key]; ok {
			continue
		}
		p.engine.Forget(key)
		if removed != nil {
			removed(key)
		}
		slog.Info("poller: target removed", "proxy", key)
	}
}

// Targets returns the current targets.
func (p *Poller) Targets() []config.Target {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.targets
}

// Run polls immediately and then every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.PollOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce polls every proxy of every target once, concurrently, and returns
// the results ordered by host/proxy. Failed polls are included with
// State "unknown".
func (p *Poller) PollOnce(ctx context.Context) []*compute.Result {
	targets := p.Targets()

	var (
		mu      sync.Mutex
		results []*compute.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, t := range targets {
		for _, proxy := range t.Proxies {
			host, proxy := t.Host, proxy
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				res := p.commit(p.sample(gctx, host, proxy))
				if res == nil {
					return nil
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		slog.Debug("poller: cycle interrupted", "err", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Key() < results[j].Key() })
	return results
}

// commit derives the result of s and hands it to the sinks, unless the proxy
// was removed by SetTargets while it was being polled.
func (p *Poller) commit(s compute.Sample) *compute.Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.tracked(s.Host, s.Proxy) {
		slog.Debug("poller: dropping result of removed target", "host", s.Host, "proxy", s.Proxy)
		return nil
	}
	res := p.engine.Process(s, time.Now())
	for _, sink := range p.sinks {
		sink.Put(res)
	}
	return res
}

// tracked reports whether host/proxy is a current target. p.mu must be held.
func (p *Poller) tracked(host, proxy string) bool {
	for _, t := range p.targets {
		if t.Host != host {
			continue
		}
		for _, name := range t.Proxies {
			if name == proxy {
				return true
			}
		}
	}
	return false
}

// sample performs both agent calls for one proxy.
func (p *Poller) sample(ctx context.Context, host, proxy string) compute.Sample {
	s := compute.Sample{Host: host, Proxy: proxy}

	load, err := p.client.ProxyLoadStats(ctx, host, p.secret, proxy)
	if err != nil {
		s.Err = err
		slog.Error("poller: load stats failed", "host", host, "proxy", proxy, "err", err)
		return s
	}
	running, failed, err := p.client.BackendServers(ctx, host, p.secret, proxy)
	if err != nil {
		s.Err = err
		slog.Error("poller: backend servers failed", "host", host, "proxy", proxy, "err", err)
		return s
	}

	s.Load = load
	s.Running = running
	s.Failed = failed
	return s
}

func keysOf(targets []config.Target) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, t := range targets {
		for _, proxy := range t.Proxies {
			keys[compute.Key(t.Host, proxy)] = struct{}{}
		}
	}
	return keys
}
