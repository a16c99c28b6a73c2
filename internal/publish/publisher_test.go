package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Maronee/appscale/internal/compute"
)

// fakeSink records delivered results and fails the first failN sends.
type fakeSink struct {
	mu       sync.Mutex
	received []*compute.Result
	failN    int
	failErr  error
	closed   int
}

func (f *fakeSink) Send(_ context.Context, res *compute.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return f.failErr
	}
	f.received = append(f.received, res)
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeSink) results() []*compute.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*compute.Result, len(f.received))
	copy(out, f.received)
	return out
}

func makeResult(proxy string) *compute.Result {
	return &compute.Result{Host: "10.0.0.10", Proxy: proxy, State: compute.StateHealthy, Timestamp: time.Now()}
}

// newTestPublisher returns a Publisher whose dial always yields sink and
// whose backoff is short enough for tests.
func newTestPublisher(size int, dial dialFunc) *Publisher {
	p := newPublisher("test", size, dial)
	p.bo = newBackoff(time.Millisecond, 5*time.Millisecond)
	return p
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublish_EvictsOldestWhenFull(t *testing.T) {
	p := newTestPublisher(2, nil)
	p.Publish(makeResult("a"))
	p.Publish(makeResult("b"))
	p.Publish(makeResult("c"))

	if p.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", p.Pending())
	}
	if got := (<-p.buf).Proxy; got != "b" {
		t.Errorf("first buffered = %q, want b", got)
	}
	if got := (<-p.buf).Proxy; got != "c" {
		t.Errorf("second buffered = %q, want c", got)
	}
}

func TestRun_DeliversInOrder(t *testing.T) {
	sink := &fakeSink{}
	p := newTestPublisher(10, func(context.Context) (Sink, error) { return sink, nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	for i := 0; i < 5; i++ {
		p.Publish(makeResult(fmt.Sprintf("p%d", i)))
	}
	waitFor(t, func() bool { return len(sink.results()) == 5 })

	for i, r := range sink.results() {
		if want := fmt.Sprintf("p%d", i); r.Proxy != want {
			t.Errorf("result %d = %q, want %q", i, r.Proxy, want)
		}
	}
}

func TestRun_RetriesDialFailures(t *testing.T) {
	sink := &fakeSink{}
	var (
		mu    sync.Mutex
		dials int
	)
	p := newTestPublisher(10, func(context.Context) (Sink, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials < 3 {
			return nil, errors.New("connection refused")
		}
		return sink, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Publish(makeResult("a"))
	go p.Run(ctx)

	waitFor(t, func() bool { return len(sink.results()) == 1 })
	mu.Lock()
	defer mu.Unlock()
	if dials < 3 {
		t.Errorf("dials = %d, want at least 3", dials)
	}
}

func TestRun_RequeuesOnTransientError(t *testing.T) {
	sink := &fakeSink{failN: 1, failErr: errors.New("i/o timeout")}
	p := newTestPublisher(10, func(context.Context) (Sink, error) { return sink, nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Publish(makeResult("a"))
	go p.Run(ctx)

	waitFor(t, func() bool { return len(sink.results()) == 1 })
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.closed == 0 {
		t.Error("sink should be closed after a transient failure")
	}
}

func TestRun_DiscardsOnPermanentError(t *testing.T) {
	sink := &fakeSink{failN: 1, failErr: fmt.Errorf("%w: bad payload", ErrPermanent)}
	p := newTestPublisher(10, func(context.Context) (Sink, error) { return sink, nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Publish(makeResult("bad"))
	p.Publish(makeResult("good"))
	go p.Run(ctx)

	waitFor(t, func() bool { return len(sink.results()) == 1 })
	time.Sleep(20 * time.Millisecond)
	got := sink.results()
	if len(got) != 1 || got[0].Proxy != "good" {
		t.Errorf("delivered = %v, want only good", got)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	p := newTestPublisher(1, func(context.Context) (Sink, error) {
		return nil, errors.New("unreachable")
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := newBackoff(100*time.Millisecond, 400*time.Millisecond)
	var last time.Duration
	for i := 0; i < 6; i++ {
		last = b.next()
	}
	// Capped at max ±25%.
	if last < 300*time.Millisecond || last > 500*time.Millisecond {
		t.Errorf("capped backoff = %v, want within 25%% of 400ms", last)
	}
	b.reset()
	if d := b.next(); d < 75*time.Millisecond || d > 125*time.Millisecond {
		t.Errorf("backoff after reset = %v, want ~100ms", d)
	}
}

func TestRedisSink_Keys(t *testing.T) {
	s := &RedisSink{prefix: "lbwatch"}
	res := &compute.Result{Host: "10.0.0.10", Proxy: "gae_app"}
	if got := s.key(res); got != "lbwatch:proxy:10.0.0.10:gae_app" {
		t.Errorf("key = %q", got)
	}
	if got := s.channel(); got != "lbwatch:updates" {
		t.Errorf("channel = %q", got)
	}
}
