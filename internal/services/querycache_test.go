package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestCache(clock *fakeClock) *QueryCache {
	return NewQueryCache(CacheOptions{Now: clock.Now, FetchTimeout: 2 * time.Second}, zap.NewNop())
}

func awaitKey(t *testing.T, c *QueryCache, key string, fetch FetchFunc) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Await(ctx, key, fetch)
}

func countingFetch(calls *int32, value interface{}, gate chan struct{}) FetchFunc {
	return func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(calls, 1)
		if gate != nil {
			<-gate
		}
		return value, nil
	}
}

func TestRefetchDeduplicatesInFlight(t *testing.T) {
	c := newTestCache(newFakeClock())
	defer c.Stop()

	var calls int32
	gate := make(chan struct{})
	fetch := countingFetch(&calls, "sunny", gate)

	first := c.Read("weather|1,2", fetch)
	if first.Status != StatusPending || !first.IsFetching {
		t.Fatalf("expected pending fetch, got %+v", first)
	}
	c.Refetch("weather|1,2", fetch)
	c.Refetch("weather|1,2", fetch)
	c.Read("weather|1,2", fetch)
	close(gate)

	snap := awaitKey(t, c, "weather|1,2", fetch)
	if snap.Status != StatusFresh || snap.Value != "sunny" {
		t.Fatalf("expected fresh value, got %+v", snap)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected one fetch, got %d", got)
	}
}

func TestEntryGoesStaleAndRefetches(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	defer c.Stop()

	var calls int32
	fetch := countingFetch(&calls, 42, nil)

	awaitKey(t, c, "forecast|1,2", fetch)
	if snap := c.Read("forecast|1,2", fetch); snap.Status != StatusFresh || snap.IsFetching {
		t.Fatalf("expected fresh without fetch, got %+v", snap)
	}

	clock.Advance(DefaultStaleTime)
	snap := c.Read("forecast|1,2", fetch)
	if snap.Status != StatusStale || !snap.IsFetching || snap.Value != 42 {
		t.Fatalf("expected stale value being refetched, got %+v", snap)
	}
	awaitKey(t, c, "forecast|1,2", fetch)
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected two fetches, got %d", got)
	}
}

func TestFailedFetchIsNotRetried(t *testing.T) {
	c := newTestCache(newFakeClock())
	defer c.Stop()

	var calls int32
	boom := errors.New("boom")
	fetch := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, boom
	}

	snap := awaitKey(t, c, "weather|1,2", fetch)
	if snap.Status != StatusError || !errors.Is(snap.Err, boom) {
		t.Fatalf("expected error status, got %+v", snap)
	}

	c.Read("weather|1,2", fetch)
	awaitKey(t, c, "weather|1,2", fetch)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("reads must not retry a failed fetch, got %d calls", got)
	}

	c.Refetch("weather|1,2", fetch)
	awaitKey(t, c, "weather|1,2", fetch)
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("explicit refetch should fetch again, got %d calls", got)
	}
}

func TestPurgeHonoursRetentionAndObservers(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	defer c.Stop()

	var calls int32
	fetch := countingFetch(&calls, "v", nil)
	awaitKey(t, c, "a", fetch)
	awaitKey(t, c, "b", fetch)
	unsubscribe := c.Subscribe("b", func(Snapshot) {})
	defer unsubscribe()

	clock.Advance(DefaultGCTime - time.Second)
	if n := c.Purge(); n != 0 {
		t.Fatalf("nothing should be purged yet, purged %d", n)
	}

	clock.Advance(time.Second)
	if n := c.Purge(); n != 1 {
		t.Fatalf("expected one purge, got %d", n)
	}
	if _, ok := c.Peek("a"); ok {
		t.Error("idle entry should be gone")
	}
	if _, ok := c.Peek("b"); !ok {
		t.Error("observed entry must be kept")
	}
}

func TestResultForEvictedEntryIsDiscarded(t *testing.T) {
	c := newTestCache(newFakeClock())
	defer c.Stop()

	var oldCalls, newCalls int32
	gate := make(chan struct{})
	c.Read("k", countingFetch(&oldCalls, "late", gate))
	c.Remove("k")

	fresh := countingFetch(&newCalls, "current", nil)
	if snap := awaitKey(t, c, "k", fresh); snap.Value != "current" {
		t.Fatalf("replacement entry should get its own fetch, got %+v", snap)
	}

	close(gate)
	time.Sleep(50 * time.Millisecond)

	snap, ok := c.Peek("k")
	if !ok || snap.Value != "current" {
		t.Errorf("late result for an evicted entry must be discarded, got %+v", snap)
	}
	if atomic.LoadInt32(&newCalls) != 1 {
		t.Errorf("expected one fetch for the replacement, got %d", atomic.LoadInt32(&newCalls))
	}
}

func TestObserversMayReenter(t *testing.T) {
	c := newTestCache(newFakeClock())
	defer c.Stop()

	var calls int32
	fetch := countingFetch(&calls, "v", nil)
	seen := make(chan Status, 8)

	unsubscribe := c.Subscribe("k", func(s Snapshot) {
		c.SetData("mirror", s.Value)
		c.Read("k", fetch)
		seen <- s.Status
	})
	defer unsubscribe()

	awaitKey(t, c, "k", fetch)
	select {
	case <-seen:
	case <-time.After(2 * time.Second):
		t.Fatal("observer was not called")
	}
	if _, ok := c.Peek("mirror"); !ok {
		t.Error("re-entrant SetData should have stored the mirror entry")
	}
}

func TestSetDataNotifiesWithFreshValue(t *testing.T) {
	c := newTestCache(newFakeClock())
	defer c.Stop()

	var got []Snapshot
	unsubscribe := c.Subscribe("history", func(s Snapshot) { got = append(got, s) })
	c.SetData("history", []string{"x"})
	unsubscribe()
	c.SetData("history", []string{"y"})

	if len(got) != 1 || got[0].Status != StatusFresh {
		t.Fatalf("expected one fresh notification, got %+v", got)
	}
}

func TestInvalidateRefetchesObservedEntry(t *testing.T) {
	c := newTestCache(newFakeClock())
	defer c.Stop()

	var calls int32
	fetch := countingFetch(&calls, "v", nil)
	awaitKey(t, c, "k", fetch)

	unsubscribe := c.Subscribe("k", func(Snapshot) {})
	defer unsubscribe()
	c.Invalidate("k")
	awaitKey(t, c, "k", fetch)

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected invalidate to refetch, got %d calls", got)
	}
}

func TestDisabledQueryIsInactive(t *testing.T) {
	c := newTestCache(newFakeClock())
	defer c.Stop()

	var calls int32
	q := NewQuery(c, "location-search|ab", false, func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", nil
	})

	if r := q.Read(); r.Status != StatusInactive || r.IsFetching {
		t.Errorf("expected inactive, got %+v", r)
	}
	if r := q.Refetch(); r.Status != StatusInactive {
		t.Errorf("expected inactive refetch, got %+v", r)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("inactive query must never fetch")
	}
	if _, ok := c.Peek("location-search|ab"); ok {
		t.Error("inactive query must not create an entry")
	}
}

func TestTypedQueryAwait(t *testing.T) {
	c := newTestCache(newFakeClock())
	defer c.Stop()

	q := NewQuery(c, "n", true, func(ctx context.Context) (int, error) { return 7, nil })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	r := q.Await(ctx)
	if r.Status != StatusFresh || !r.HasData || r.Data != 7 {
		t.Errorf("unexpected result: %+v", r)
	}
}

func TestConcurrentCallersShareOneFlight(t *testing.T) {
	c := newTestCache(newFakeClock())
	defer c.Stop()

	var calls int32
	gate := make(chan struct{})
	fetch := countingFetch(&calls, "shared", gate)

	c.Read("k", fetch)
	c.Refetch("k", fetch)
	c.Refetch("k", fetch)

	results := make(chan Snapshot, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- awaitKey(t, c, "k", fetch)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(results)

	for snap := range results {
		if snap.Status != StatusFresh || snap.Value != "shared" {
			t.Errorf("every waiter should see the shared result, got %+v", snap)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected one fetch for all callers, got %d", got)
	}
}

func TestRefetchAfterSettledFlightStartsNewOne(t *testing.T) {
	c := newTestCache(newFakeClock())
	defer c.Stop()

	var calls int32
	fetch := countingFetch(&calls, "v", nil)

	for i := 1; i <= 3; i++ {
		if snap := c.Refetch("k", fetch); !snap.IsFetching {
			t.Fatalf("refetch %d should start a fetch, got %+v", i, snap)
		}
		awaitKey(t, c, "k", fetch)
		if got := atomic.LoadInt32(&calls); got != int32(i) {
			t.Fatalf("expected %d fetches, got %d", i, got)
		}
	}
}

func TestNotificationsFollowStoreOrder(t *testing.T) {
	c := newTestCache(newFakeClock())
	defer c.Stop()

	var seen []int
	unsubscribe := c.Subscribe("counter", func(s Snapshot) { seen = append(seen, s.Value.(int)) })
	defer unsubscribe()

	older := c.Store("counter", 1)
	newer := c.Store("counter", 2)
	newer()
	older()

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("expected snapshots in store order, got %v", seen)
	}
	if snap, _ := c.Peek("counter"); snap.Value != 2 {
		t.Errorf("expected latest value, got %+v", snap)
	}
}

func TestConcurrentStoresNotifyInOrder(t *testing.T) {
	c := newTestCache(newFakeClock())
	defer c.Stop()

	var (
		seenMu sync.Mutex
		seen   []int
	)
	unsubscribe := c.Subscribe("counter", func(s Snapshot) {
		seenMu.Lock()
		seen = append(seen, s.Value.(int))
		seenMu.Unlock()
	})
	defer unsubscribe()

	var (
		writeMu sync.Mutex
		next    int
		wg      sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			writeMu.Lock()
			next++
			notify := c.Store("counter", next)
			writeMu.Unlock()
			notify()
		}()
	}
	wg.Wait()

	seenMu.Lock()
	defer seenMu.Unlock()
	if len(seen) != 50 {
		t.Fatalf("expected 50 notifications, got %d", len(seen))
	}
	for i, v := range seen {
		if v != i+1 {
			t.Fatalf("notification %d carried %d, got %v", i, v, seen)
		}
	}
}

func TestReentrantStoreIsDeliveredAfterCurrent(t *testing.T) {
	c := newTestCache(newFakeClock())
	defer c.Stop()

	var seen []string
	unsubscribe := c.Subscribe("k", func(s Snapshot) {
		v := s.Value.(string)
		seen = append(seen, v)
		if v == "first" {
			c.SetData("k", "second")
		}
	})
	defer unsubscribe()

	c.SetData("k", "first")

	if len(seen) != 2 || seen[0] != "first" || seen[1] != "second" {
		t.Fatalf("expected first then second, got %v", seen)
	}
}
