package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/Maronee/appscale/internal/compute"
	"github.com/Maronee/appscale/internal/config"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
)

// ErrPermanent marks send errors that retrying cannot fix. Results failing
// with it are discarded instead of triggering a reconnect.
var ErrPermanent = errors.New("publish: permanent error")

// Sink delivers results to the outside world.
type Sink interface {
	Send(ctx context.Context, res *compute.Result) error
	Close() error
}

// dialFunc opens a Sink. Abstracted so tests can inject an in-memory sink.
type dialFunc func(ctx context.Context) (Sink, error)

// Publisher buffers poll results and forwards them to a Sink.
// Publish is non-blocking; when the buffer is full the oldest result is
// evicted. Run must be called in a goroutine to drain the buffer.
type Publisher struct {
	target string
	buf    chan *compute.Result
	dial   dialFunc
	bo     *backoff
}

// New creates a Publisher writing to the Redis instance described by cfg.
func New(cfg config.PublishConfig) *Publisher {
	return newPublisher(cfg.RedisURL, cfg.BufferSize, func(ctx context.Context) (Sink, error) {
		return DialRedis(ctx, cfg)
	})
}

func newPublisher(target string, size int, dial dialFunc) *Publisher {
	if size <= 0 {
		size = config.DefaultBufferSize
	}
	return &Publisher{
		target: target,
		buf:    make(chan *compute.Result, size),
		dial:   dial,
		bo:     newBackoff(backoffInitial, backoffMax),
	}
}

// Publish enqueues res. If the buffer is full the oldest entry is evicted.
func (p *Publisher) Publish(res *compute.Result) {
	select {
	case p.buf <- res:
		return
	default:
	}
	select {
	case old := <-p.buf:
		slog.Warn("publish: buffer full, evicted oldest result",
			"proxy", old.Key(), "buffer_cap", cap(p.buf))
	default:
	}
	select {
	case p.buf <- res:
	default:
		slog.Warn("publish: buffer full, dropped result", "proxy", res.Key())
	}
}

// Pending returns the number of buffered results.
func (p *Publisher) Pending() int { return len(p.buf) }

// Run drains the buffer into the sink, reconnecting with exponential
// backoff when the sink fails. Run blocks until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		sink, err := p.dial(ctx)
		if err != nil {
			wait := p.bo.next()
			slog.Error("publish: connect failed, will retry",
				"target", p.target, "err", err, "retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		slog.Info("publish: connected", "target", p.target)
		p.bo.reset()

		err = p.drain(ctx, sink)
		_ = sink.Close()

		if ctx.Err() != nil {
			return
		}

		wait := p.bo.next()
		slog.Warn("publish: sink lost, will reconnect",
			"target", p.target, "err", err, "retry_in", wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

// drain sends buffered results until the sink fails or ctx is cancelled.
func (p *Publisher) drain(ctx context.Context, sink Sink) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case res := <-p.buf:
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			err := sink.Send(sendCtx, res)
			cancel()

			if err == nil {
				slog.Debug("publish: result delivered", "proxy", res.Key())
				continue
			}
			if errors.Is(err, ErrPermanent) {
				slog.Error("publish: permanent send error, discarding result",
					"proxy", res.Key(), "err", err)
				continue
			}

			// Requeue unless newer results already filled the buffer.
			select {
			case p.buf <- res:
			default:
			}
			return fmt.Errorf("send: %w", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	limit   time.Duration
	current time.Duration
}

func newBackoff(initial, limit time.Duration) *backoff {
	return &backoff{initial: initial, limit: limit, current: initial}
}

// next returns the current backoff duration with ±25% jitter and advances.
func (b *backoff) next() time.Duration {
	d := b.current
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > b.limit {
		b.current = b.limit
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
