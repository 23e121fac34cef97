package services

import (
	"context"
	"time"
)

// Result is the typed view of a cache entry.
type Result[T any] struct {
	Key        string    `json:"key"`
	Status     Status    `json:"status"`
	Data       T         `json:"data"`
	HasData    bool      `json:"has_data"`
	Err        error     `json:"-"`
	IsFetching bool      `json:"is_fetching"`
	FetchedAt  time.Time `json:"fetched_at,omitempty"`
}

// Query binds a cache key to its fetch function. A disabled query never
// touches the cache and always reports StatusInactive.
type Query[T any] struct {
	cache   *QueryCache
	key     string
	enabled bool
	fetch   FetchFunc
}

func NewQuery[T any](cache *QueryCache, key string, enabled bool, fetch func(ctx context.Context) (T, error)) Query[T] {
	q := Query[T]{cache: cache, key: key, enabled: enabled}
	if enabled {
		q.fetch = func(ctx context.Context) (interface{}, error) {
			return fetch(ctx)
		}
	}
	return q
}

func (q Query[T]) Key() string {
	return q.key
}

func (q Query[T]) Enabled() bool {
	return q.enabled
}

func (q Query[T]) Read() Result[T] {
	if !q.enabled {
		return q.inactive()
	}
	return toResult[T](q.cache.Read(q.key, q.fetch))
}

func (q Query[T]) Await(ctx context.Context) Result[T] {
	if !q.enabled {
		return q.inactive()
	}
	return toResult[T](q.cache.Await(ctx, q.key, q.fetch))
}

func (q Query[T]) Refetch() Result[T] {
	if !q.enabled {
		return q.inactive()
	}
	return toResult[T](q.cache.Refetch(q.key, q.fetch))
}

func (q Query[T]) Invalidate() {
	if q.enabled {
		q.cache.Invalidate(q.key)
	}
}

// Subscribe registers fn and reads the query so that it starts loading.
func (q Query[T]) Subscribe(fn func(Result[T])) func() {
	if !q.enabled {
		return func() {}
	}
	unsubscribe := q.cache.Subscribe(q.key, func(s Snapshot) {
		fn(toResult[T](s))
	})
	q.cache.Read(q.key, q.fetch)
	return unsubscribe
}

func (q Query[T]) inactive() Result[T] {
	return Result[T]{Key: q.key, Status: StatusInactive}
}

func toResult[T any](s Snapshot) Result[T] {
	r := Result[T]{
		Key:        s.Key,
		Status:     s.Status,
		Err:        s.Err,
		IsFetching: s.IsFetching,
		FetchedAt:  s.FetchedAt,
	}
	if v, ok := s.Value.(T); ok && s.HasValue {
		r.Data = v
		r.HasData = true
	}
	return r
}
