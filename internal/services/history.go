package services

import (
	"context"
	"sync"
	"time"

	"github.com/bobby-s-dev/weather-dashboard/internal/models"
	"github.com/bobby-s-dev/weather-dashboard/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	HistoryKey      = "search-history"
	MaxHistoryItems = 10
)

// HistoryStore keeps the newest-first list of searched places, unique by
// coordinates and capped at MaxHistoryItems.
type HistoryStore struct {
	mu     sync.Mutex
	value  *storage.Value[[]models.SearchHistoryItem]
	cache  *QueryCache
	now    func() time.Time
	logger *zap.Logger
}

func NewHistoryStore(ctx context.Context, kv storage.KV, cache *QueryCache, logger *zap.Logger) *HistoryStore {
	h := &HistoryStore{
		value:  storage.NewValue(ctx, kv, HistoryKey, []models.SearchHistoryItem{}, logger),
		cache:  cache,
		now:    time.Now,
		logger: logger,
	}
	h.cache.SetData(HistoryKey, h.value.Get())
	return h
}

func (h *HistoryStore) List() []models.SearchHistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return clone(h.current())
}

// Add records candidate as the newest entry, replacing any entry with the
// same coordinates.
func (h *HistoryStore) Add(ctx context.Context, candidate models.HistoryCandidate) models.SearchHistoryItem {
	h.mu.Lock()

	item := models.SearchHistoryItem{
		ID:         uuid.NewString(),
		Query:      candidate.Query,
		Lat:        candidate.Lat,
		Lon:        candidate.Lon,
		Name:       candidate.Name,
		Country:    candidate.Country,
		State:      candidate.State,
		SearchedAt: h.now().UnixMilli(),
	}

	next := make([]models.SearchHistoryItem, 0, MaxHistoryItems)
	next = append(next, item)
	for _, existing := range h.current() {
		if existing.Lat == item.Lat && existing.Lon == item.Lon {
			continue
		}
		next = append(next, existing)
	}
	if len(next) > MaxHistoryItems {
		next = next[:MaxHistoryItems]
	}

	notify := h.commit(ctx, next)
	h.mu.Unlock()

	notify()
	h.logger.Debug("Search history updated",
		zap.String("name", item.Name),
		zap.Int("size", len(next)))
	return item
}

func (h *HistoryStore) Clear(ctx context.Context) {
	h.mu.Lock()
	notify := h.commit(ctx, []models.SearchHistoryItem{})
	h.mu.Unlock()

	notify()
	h.logger.Info("Search history cleared")
}

func (h *HistoryStore) Subscribe(fn func([]models.SearchHistoryItem)) func() {
	return h.cache.Subscribe(HistoryKey, func(s Snapshot) {
		items, _ := s.Value.([]models.SearchHistoryItem)
		fn(clone(items))
	})
}

// current must be called with h.mu held. The cache entry may have been
// purged; the persisted value is then authoritative.
func (h *HistoryStore) current() []models.SearchHistoryItem {
	if snap, ok := h.cache.Peek(HistoryKey); ok && snap.HasValue {
		if items, ok := snap.Value.([]models.SearchHistoryItem); ok {
			return items
		}
	}
	items := h.value.Get()
	// re-seeding does not change what observers last saw
	h.cache.Seed(HistoryKey, items)
	return items
}

// commit persists items, then stages them in the cache. It runs under h.mu,
// so observers receive lists in commit order. Persistence failures are
// logged by the value and do not stop the update.
func (h *HistoryStore) commit(ctx context.Context, items []models.SearchHistoryItem) func() {
	_ = h.value.Set(ctx, items)
	return h.cache.Store(HistoryKey, items)
}

func clone(items []models.SearchHistoryItem) []models.SearchHistoryItem {
	out := make([]models.SearchHistoryItem, len(items))
	copy(out, items)
	return out
}
