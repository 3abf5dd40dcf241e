// Пакет memstore — потокобезопасное in-memory хранилище записей.
//
// Не персистентное: используется при FM_STORE=memory и в тестах.
// Является также основой индекса recordfs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/store"
)

// Store — in-memory хранилище. sync.RWMutex обеспечивает
// конкурентное чтение и эксклюзивную запись.
type Store struct {
	mu      sync.RWMutex
	records map[string]*model.FileRecord
}

var _ store.Store = (*Store)(nil)

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{records: make(map[string]*model.FileRecord)}
}

// Load заменяет содержимое хранилища переданными записями.
func (s *Store) Load(records []*model.FileRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*model.FileRecord, len(records))
	for _, rec := range records {
		s.records[rec.ID] = rec.Clone()
	}
}

// Get возвращает копию записи.
func (s *Store) Get(_ context.Context, id string) (*model.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, store.ErrNotFound)
	}
	return rec.Clone(), nil
}

// List возвращает копии всех записей, новые первыми.
func (s *Store) List(_ context.Context) ([]*model.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.FileRecord, 0, len(s.records))
	for _, rec := range s.records {
		result = append(result, rec.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].UploadedAt.Equal(result[j].UploadedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].UploadedAt.After(result[j].UploadedAt)
	})
	return result, nil
}

// Insert добавляет запись, если id свободен.
func (s *Store) Insert(_ context.Context, rec *model.FileRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("%s: %w", rec.ID, store.ErrConflict)
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

// Update изменяет запись под эксклюзивной блокировкой.
func (s *Store) Update(_ context.Context, id string, fn store.UpdateFunc) (*model.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, store.ErrNotFound)
	}

	updated := rec.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	updated.ID = id
	if err := updated.Validate(); err != nil {
		return nil, err
	}

	s.records[id] = updated
	return updated.Clone(), nil
}

// Delete удаляет запись.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("%s: %w", id, store.ErrNotFound)
	}
	delete(s.records, id)
	return nil
}

// Count возвращает количество записей.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
