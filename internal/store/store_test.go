package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Maronee/appscale/internal/compute"
)

func result(host, proxy, state string) *compute.Result {
	return &compute.Result{Host: host, Proxy: proxy, State: state}
}

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestPutAndFresh(t *testing.T) {
	st := New(5 * time.Minute)
	st.Put(result("lb-1", "app", compute.StateHealthy))

	e, ok := st.Fresh(compute.Key("lb-1", "app"))
	if !ok {
		t.Fatal("Fresh: expected entry, got none")
	}
	if e.Result.Proxy != "app" {
		t.Errorf("Proxy: got %q, want app", e.Result.Proxy)
	}
}

func TestFresh_Missing(t *testing.T) {
	st := New(5 * time.Minute)
	if _, ok := st.Fresh("lb-1/none"); ok {
		t.Fatal("Fresh on empty store: expected false")
	}
}

func TestFresh_Stale(t *testing.T) {
	base := time.Now()
	st := New(time.Minute)
	st.now = fixedClock(base)
	st.Put(result("lb-1", "app", compute.StateHealthy))

	st.now = fixedClock(base.Add(2 * time.Minute))
	if _, ok := st.Fresh(compute.Key("lb-1", "app")); ok {
		t.Fatal("Fresh: stale entry should not be returned")
	}
}

func TestPut_Overwrites(t *testing.T) {
	st := New(5 * time.Minute)
	st.Put(result("lb-1", "app", compute.StateHealthy))
	st.Put(result("lb-1", "app", compute.StateDegraded))

	e, ok := st.Fresh(compute.Key("lb-1", "app"))
	if !ok {
		t.Fatal("Fresh: expected entry after two Puts")
	}
	if e.Result.State != compute.StateDegraded {
		t.Errorf("State: got %q, want degraded", e.Result.State)
	}
	if st.Count() != 1 {
		t.Errorf("Count: got %d, want 1", st.Count())
	}
}

func TestList_SortedAndExcludesStale(t *testing.T) {
	base := time.Now()
	st := New(5 * time.Minute)

	st.now = fixedClock(base.Add(-10 * time.Minute))
	st.Put(result("lb-1", "old", compute.StateHealthy))

	st.now = fixedClock(base)
	st.Put(result("lb-2", "b", compute.StateHealthy))
	st.Put(result("lb-1", "a", compute.StateHealthy))

	list := st.List()
	if len(list) != 2 {
		t.Fatalf("List: got %d entries, want 2", len(list))
	}
	if list[0].Result.Key() != "lb-1/a" || list[1].Result.Key() != "lb-2/b" {
		t.Errorf("List order: got %s, %s", list[0].Result.Key(), list[1].Result.Key())
	}
}

func TestEvict(t *testing.T) {
	base := time.Now()
	st := New(time.Minute)
	st.now = fixedClock(base)
	st.Put(result("lb-1", "a", compute.StateHealthy))
	st.now = fixedClock(base.Add(50 * time.Second))
	st.Put(result("lb-1", "b", compute.StateHealthy))

	if n := st.Evict(base.Add(90 * time.Second)); n != 1 {
		t.Errorf("Evict: removed %d, want 1", n)
	}
	if st.Count() != 1 {
		t.Errorf("Count after Evict: got %d, want 1", st.Count())
	}
}

func TestRemove(t *testing.T) {
	st := New(time.Minute)
	st.Put(result("lb-1", "a", compute.StateHealthy))
	st.Remove("lb-1/a")
	if st.Count() != 0 {
		t.Errorf("Count after Remove: got %d, want 0", st.Count())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	st := New(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		st.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConcurrentAccess(t *testing.T) {
	st := New(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			st.Put(result("lb-1", "app", compute.StateHealthy))
		}()
		go func() {
			defer wg.Done()
			_ = st.List()
		}()
	}
	wg.Wait()
	if st.Count() != 1 {
		t.Errorf("Count: got %d, want 1", st.Count())
	}
}
