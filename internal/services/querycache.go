package services

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Status string

const (
	StatusInactive Status = "inactive"
	StatusPending  Status = "pending"
	StatusFresh    Status = "fresh"
	StatusStale    Status = "stale"
	StatusError    Status = "error"
)

const (
	DefaultStaleTime    = 5 * time.Minute
	DefaultGCTime       = 10 * time.Minute
	DefaultFetchTimeout = 15 * time.Second
)

type FetchFunc func(ctx context.Context) (interface{}, error)

// Snapshot is a point-in-time view of one cache entry.
type Snapshot struct {
	Key        string
	Status     Status
	Value      interface{}
	HasValue   bool
	Err        error
	IsFetching bool
	FetchedAt  time.Time
}

type CacheOptions struct {
	StaleTime    time.Duration
	GCTime       time.Duration
	FetchTimeout time.Duration
	Now          func() time.Time
}

type entry struct {
	key            string
	gen            uint64
	flight         uint64
	value          interface{}
	hasValue       bool
	err            error
	fetchedAt      time.Time
	lastAccessedAt time.Time
	fetching       bool
	invalidated    bool
	fetch          FetchFunc
	observers      map[int]func(Snapshot)

	// pending holds snapshots in commit order until delivered.
	pending    []Snapshot
	delivering bool
}

// QueryCache holds keyed remote results with staleness and retention
// windows. Per key at most one fetch is in flight. Failed fetches are not
// retried automatically.
type QueryCache struct {
	mu           sync.Mutex
	entries      map[string]*entry
	group        singleflight.Group
	nextGen      uint64
	nextObserver int

	staleTime    time.Duration
	gcTime       time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
}

func NewQueryCache(opts CacheOptions, logger *zap.Logger) *QueryCache {
	if opts.StaleTime <= 0 {
		opts.StaleTime = DefaultStaleTime
	}
	if opts.GCTime <= 0 {
		opts.GCTime = DefaultGCTime
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &QueryCache{
		entries:      make(map[string]*entry),
		staleTime:    opts.StaleTime,
		gcTime:       opts.GCTime,
		fetchTimeout: opts.FetchTimeout,
		now:          opts.Now,
		baseCtx:      ctx,
		cancel:       cancel,
		logger:       logger,
	}
}

// Read returns the current snapshot for key without blocking. A fetch starts
// when the entry has nothing yet or has gone stale; an entry whose last fetch
// failed stays failed until Refetch.
func (c *QueryCache) Read(key string, fetch FetchFunc) Snapshot {
	snap, _ := c.read(key, fetch)
	return snap
}

// read returns the flight channel when a fetch is in flight for key.
func (c *QueryCache) read(key string, fetch FetchFunc) (Snapshot, <-chan singleflight.Result) {
	c.mu.Lock()
	e := c.getOrCreate(key, fetch)
	e.lastAccessedAt = c.now()

	var (
		ch     <-chan singleflight.Result
		notify func()
	)
	switch {
	case e.err == nil && e.fetch != nil && (!e.hasValue || c.isStale(e)):
		var started bool
		ch, started = c.startFetch(e)
		if started {
			notify = c.prepareNotify(e)
		}
	case e.fetching:
		ch, _ = c.startFetch(e)
	}
	snap := c.snapshot(e)
	c.mu.Unlock()

	if notify != nil {
		notify()
	}
	return snap, ch
}

// Refetch forces a fetch for key. If one is already in flight the caller
// attaches to it instead of starting another.
func (c *QueryCache) Refetch(key string, fetch FetchFunc) Snapshot {
	c.mu.Lock()
	e := c.getOrCreate(key, fetch)
	e.lastAccessedAt = c.now()

	var notify func()
	if e.fetch != nil {
		if _, started := c.startFetch(e); started {
			notify = c.prepareNotify(e)
		}
	}
	snap := c.snapshot(e)
	c.mu.Unlock()

	if notify != nil {
		notify()
	}
	return snap
}

// Await reads key and waits for an in-flight fetch to settle. If ctx ends
// first the pending snapshot is returned.
func (c *QueryCache) Await(ctx context.Context, key string, fetch FetchFunc) Snapshot {
	snap, ch := c.read(key, fetch)
	if ch == nil {
		return snap
	}

	select {
	case <-ch:
	case <-ctx.Done():
		return snap
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return snap
	}
	e.lastAccessedAt = c.now()
	return c.snapshot(e)
}

// Invalidate marks key stale. Observed entries are refetched at once.
func (c *QueryCache) Invalidate(key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.invalidated = true
	if len(e.observers) > 0 && e.fetch != nil {
		c.startFetch(e)
	}
	notify := c.prepareNotify(e)
	c.mu.Unlock()

	notify()
}

// SetData writes a fresh value for key and notifies observers.
func (c *QueryCache) SetData(key string, value interface{}) {
	c.Store(key, value)()
}

// Store writes like SetData but hands the observer notification back to the
// caller, to be run once the caller has released its own locks. Callers
// must run it; snapshots are delivered in the order they were stored.
func (c *QueryCache) Store(key string, value interface{}) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.write(key, value)
	return c.prepareNotify(e)
}

// Seed writes value for key without notifying observers.
func (c *QueryCache) Seed(key string, value interface{}) {
	c.mu.Lock()
	c.write(key, value)
	c.mu.Unlock()
}

// write must be called with c.mu held.
func (c *QueryCache) write(key string, value interface{}) *entry {
	e := c.getOrCreate(key, nil)
	now := c.now()
	e.value = value
	e.hasValue = true
	e.err = nil
	e.fetchedAt = now
	e.lastAccessedAt = now
	e.invalidated = false
	return e
}

// Peek returns the snapshot for key without starting a fetch.
func (c *QueryCache) Peek(key string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Snapshot{Key: key, Status: StatusPending}, false
	}
	e.lastAccessedAt = c.now()
	return c.snapshot(e), true
}

// Remove evicts key. A fetch still running for it is discarded on arrival.
func (c *QueryCache) Remove(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Subscribe registers fn for every state change of key. The returned
// function unregisters it.
func (c *QueryCache) Subscribe(key string, fn func(Snapshot)) func() {
	c.mu.Lock()
	e := c.getOrCreate(key, nil)
	c.nextObserver++
	id := c.nextObserver
	e.observers[id] = fn
	e.lastAccessedAt = c.now()
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(e.observers, id)
			e.lastAccessedAt = c.now()
		})
	}
}

// Purge evicts entries unused for the retention window. Observed entries
// and entries with a fetch in flight are kept.
func (c *QueryCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if len(e.observers) > 0 || e.fetching {
			continue
		}
		if now.Sub(e.lastAccessedAt) >= c.gcTime {
			delete(c.entries, key)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug("Purged idle cache entries", zap.Int("count", removed))
	}
	return removed
}

func (c *QueryCache) Stats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	byStatus := map[Status]int{}
	fetching := 0
	for _, e := range c.entries {
		byStatus[c.status(e)]++
		if e.fetching {
			fetching++
		}
	}

	return map[string]interface{}{
		"entries":    len(c.entries),
		"fetching":   fetching,
		"fresh":      byStatus[StatusFresh],
		"stale":      byStatus[StatusStale],
		"pending":    byStatus[StatusPending],
		"error":      byStatus[StatusError],
		"stale_time": c.staleTime.String(),
		"gc_time":    c.gcTime.String(),
	}
}

// Stop cancels the context every fetch runs under.
func (c *QueryCache) Stop() {
	c.cancel()
}

func (c *QueryCache) getOrCreate(key string, fetch FetchFunc) *entry {
	e, ok := c.entries[key]
	if !ok {
		c.nextGen++
		e = &entry{key: key, gen: c.nextGen, observers: make(map[int]func(Snapshot))}
		c.entries[key] = e
	}
	if fetch != nil {
		e.fetch = fetch
	}
	return e
}

// flightKey names the current flight of e. The generation keeps a
// replacement entry off the flight of the one it replaced; the flight
// counter moves on when a result is committed, so a finished flight that
// singleflight has not yet released is never joined.
func flightKey(e *entry) string {
	return e.key + "#" + strconv.FormatUint(e.gen, 10) + "." + strconv.FormatUint(e.flight, 10)
}

// startFetch must be called with c.mu held. It joins the flight already
// running for e or starts one, and reports whether it started one.
func (c *QueryCache) startFetch(e *entry) (<-chan singleflight.Result, bool) {
	started := !e.fetching
	e.fetching = true

	fetch := e.fetch
	ch := c.group.DoChan(flightKey(e), func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(c.baseCtx, c.fetchTimeout)
		defer cancel()
		val, err := fetch(ctx)
		c.complete(e, val, err)
		return val, err
	})

	if started {
		c.logger.Debug("Fetch started", zap.String("key", e.key))
	}
	return ch, started
}

// complete runs inside the flight, before any waiter is released.
func (c *QueryCache) complete(e *entry, val interface{}, err error) {
	c.mu.Lock()
	e.fetching = false
	e.flight++

	if c.entries[e.key] != e {
		c.mu.Unlock()
		c.logger.Debug("Discarding result for evicted entry", zap.String("key", e.key))
		return
	}

	if err != nil {
		e.err = err
		c.logger.Debug("Fetch failed", zap.String("key", e.key), zap.Error(err))
	} else {
		e.value = val
		e.hasValue = true
		e.err = nil
		e.fetchedAt = c.now()
		e.invalidated = false
	}
	notify := c.prepareNotify(e)
	c.mu.Unlock()

	notify()
}

// prepareNotify queues the current snapshot under c.mu. The returned
// function delivers queued snapshots and must be called without the lock.
func (c *QueryCache) prepareNotify(e *entry) func() {
	if len(e.observers) == 0 {
		return func() {}
	}
	e.pending = append(e.pending, c.snapshot(e))
	return func() { c.deliver(e) }
}

// deliver drains e.pending in order. Only one goroutine drains an entry at a
// time; a notification raised meanwhile, including from inside an observer,
// is delivered by the goroutine already draining.
func (c *QueryCache) deliver(e *entry) {
	c.mu.Lock()
	if e.delivering {
		c.mu.Unlock()
		return
	}
	e.delivering = true

	for len(e.pending) > 0 {
		snap := e.pending[0]
		e.pending = e.pending[1:]
		observers := make([]func(Snapshot), 0, len(e.observers))
		for _, fn := range e.observers {
			observers = append(observers, fn)
		}
		c.mu.Unlock()

		for _, fn := range observers {
			fn(snap)
		}

		c.mu.Lock()
	}

	e.delivering = false
	e.pending = nil
	c.mu.Unlock()
}

func (c *QueryCache) isStale(e *entry) bool {
	return e.invalidated || c.now().Sub(e.fetchedAt) >= c.staleTime
}

func (c *QueryCache) status(e *entry) Status {
	switch {
	case e.err != nil:
		return StatusError
	case !e.hasValue:
		return StatusPending
	case c.isStale(e):
		return StatusStale
	default:
		return StatusFresh
	}
}

func (c *QueryCache) snapshot(e *entry) Snapshot {
	return Snapshot{
		Key:        e.key,
		Status:     c.status(e),
		Value:      e.value,
		HasValue:   e.hasValue,
		Err:        e.err,
		IsFetching: e.fetching,
		FetchedAt:  e.fetchedAt,
	}
}
