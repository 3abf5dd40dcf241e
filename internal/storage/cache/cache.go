// Пакет cache — LRU-кэш записей с TTL поверх любого store.Store.
// Обёртка над hashicorp/golang-lru/v2/expirable.
//
// Кэшируется только Get. Любая запись через декоратор инвалидирует
// ключ; изменения в обход декоратора видны не позже чем через TTL.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/store"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш записей.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша записей.",
	})
)

// Store — кэширующий декоратор.
type Store struct {
	next  store.Store
	cache *expirable.LRU[string, *model.FileRecord]
}

var _ store.Store = (*Store)(nil)

// New создаёт декоратор с указанным максимальным размером и TTL.
func New(next store.Store, maxSize int, ttl time.Duration) *Store {
	return &Store{
		next:  next,
		cache: expirable.NewLRU[string, *model.FileRecord](maxSize, nil, ttl),
	}
}

// Get возвращает запись из кэша или из нижележащего хранилища.
func (s *Store) Get(ctx context.Context, id string) (*model.FileRecord, error) {
	if rec, ok := s.cache.Get(id); ok {
		cacheHitsTotal.Inc()
		return rec.Clone(), nil
	}
	cacheMissesTotal.Inc()

	rec, err := s.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, rec.Clone())
	return rec, nil
}

// List всегда читает нижележащее хранилище.
func (s *Store) List(ctx context.Context) ([]*model.FileRecord, error) {
	return s.next.List(ctx)
}

// Insert добавляет запись и инвалидирует ключ.
func (s *Store) Insert(ctx context.Context, rec *model.FileRecord) error {
	defer s.cache.Remove(rec.ID)
	return s.next.Insert(ctx, rec)
}

// Update обновляет запись и кладёт новую версию в кэш.
func (s *Store) Update(ctx context.Context, id string, fn store.UpdateFunc) (*model.FileRecord, error) {
	s.cache.Remove(id)
	rec, err := s.next.Update(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, rec.Clone())
	return rec, nil
}

// Delete удаляет запись и инвалидирует ключ.
func (s *Store) Delete(ctx context.Context, id string) error {
	defer s.cache.Remove(id)
	return s.next.Delete(ctx, id)
}

// Len возвращает количество записей в кэше.
func (s *Store) Len() int {
	return s.cache.Len()
}
