// Пакет recordfs — персистентное хранилище записей на файловой системе.
//
// Каждая запись — отдельный JSON-документ {id}.record.json в директории
// records/ директории состояния. Запись выполняется атомарно:
// temp → fsync → rename. Чтения обслуживаются in-memory индексом,
// который строится при открытии и обновляется синхронно при записи.
package recordfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/atomicfile"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/memstore"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/store"
)

// RecordSuffix — суффикс файла записи.
const RecordSuffix = ".record.json"

// Store — хранилище записей в JSON-документах.
type Store struct {
	dir    string
	mu     sync.Mutex // сериализует запись на диск
	index  *memstore.Store
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open открывает хранилище в dir, создавая директорию при необходимости,
// и строит индекс из существующих документов. Невалидные документы
// пропускаются с предупреждением, остатки незавершённой записи удаляются.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию записей %s: %w", dir, err)
	}
	if err := atomicfile.CheckWritable(dir); err != nil {
		return nil, fmt.Errorf("хранилище записей: %w", err)
	}

	s := &Store{
		dir:    dir,
		index:  memstore.New(),
		logger: logger.With(slog.String("component", "recordfs")),
	}

	records, err := s.scan()
	if err != nil {
		return nil, err
	}
	s.index.Load(records)

	s.logger.Info("Индекс записей построен",
		slog.Int("records", len(records)),
		slog.String("dir", dir),
	)
	return s, nil
}

// scan читает все документы записей из директории.
func (s *Store) scan() ([]*model.FileRecord, error) {
	tmps, _ := filepath.Glob(filepath.Join(s.dir, "*"+RecordSuffix+atomicfile.TempSuffix))
	for _, tmp := range tmps {
		os.Remove(tmp)
	}

	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+RecordSuffix))
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", s.dir, err)
	}

	result := make([]*model.FileRecord, 0, len(matches))
	for _, path := range matches {
		var rec model.FileRecord
		if err := atomicfile.ReadJSON(path, &rec); err != nil {
			s.logger.Warn("Пропущен невалидный документ записи",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		if want := strings.TrimSuffix(filepath.Base(path), RecordSuffix); rec.ID != want {
			s.logger.Warn("Пропущен документ с несовпадающим id",
				slog.String("path", path),
				slog.String("id", rec.ID),
			)
			continue
		}
		result = append(result, &rec)
	}
	return result, nil
}

// Get возвращает запись из индекса.
func (s *Store) Get(ctx context.Context, id string) (*model.FileRecord, error) {
	return s.index.Get(ctx, id)
}

// List возвращает все записи из индекса.
func (s *Store) List(ctx context.Context) ([]*model.FileRecord, error) {
	return s.index.List(ctx)
}

// Insert сохраняет документ и добавляет запись в индекс.
func (s *Store) Insert(ctx context.Context, rec *model.FileRecord) error {
	path, err := s.recordPath(rec.ID)
	if err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.index.Get(ctx, rec.ID); err == nil {
		return fmt.Errorf("%s: %w", rec.ID, store.ErrConflict)
	}
	if err := atomicfile.WriteJSON(path, rec); err != nil {
		return fmt.Errorf("ошибка записи документа %s: %w", rec.ID, err)
	}
	return s.index.Insert(ctx, rec)
}

// Update изменяет запись, сохраняет документ и обновляет индекс.
// Ошибка записи на диск отменяет обновление индекса.
func (s *Store) Update(ctx context.Context, id string, fn store.UpdateFunc) (*model.FileRecord, error) {
	path, err := s.recordPath(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.index.Update(ctx, id, func(rec *model.FileRecord) error {
		if err := fn(rec); err != nil {
			return err
		}
		rec.ID = id
		if err := rec.Validate(); err != nil {
			return err
		}
		if err := atomicfile.WriteJSON(path, rec); err != nil {
			return fmt.Errorf("ошибка записи документа %s: %w", id, err)
		}
		return nil
	})
}

// Delete удаляет документ и запись из индекса.
func (s *Store) Delete(ctx context.Context, id string) error {
	path, err := s.recordPath(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.index.Get(ctx, id); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ошибка удаления документа %s: %w", id, err)
	}
	return s.index.Delete(ctx, id)
}

// Dir возвращает путь к директории документов.
func (s *Store) Dir() string {
	return s.dir
}

// recordPath возвращает путь к документу записи.
// id должен быть одним компонентом пути.
func (s *Store) recordPath(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("недопустимый id записи: %q", id)
	}
	return filepath.Join(s.dir, id+RecordSuffix), nil
}
