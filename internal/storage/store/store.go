// Пакет store — контракт хранилища записей о файлах.
//
// Реализации: memstore (in-memory), recordfs (JSON-документы на диске),
// postgres (PostgreSQL), cache (LRU-декоратор над любой реализацией).
package store

import (
	"context"
	"errors"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
)

// Ошибки хранилища.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — запись с таким id уже существует.
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// UpdateFunc изменяет запись на месте. Ошибка отменяет обновление.
type UpdateFunc func(rec *model.FileRecord) error

// Store — хранилище записей, ключ — FileRecord.ID.
// Все методы возвращают копии; изменение результата не влияет на хранилище.
type Store interface {
	// Get возвращает запись по id или ErrNotFound.
	Get(ctx context.Context, id string) (*model.FileRecord, error)
	// List возвращает все записи, новые первыми.
	List(ctx context.Context) ([]*model.FileRecord, error)
	// Insert добавляет новую запись. ErrConflict, если id занят.
	Insert(ctx context.Context, rec *model.FileRecord) error
	// Update атомарно читает, изменяет и сохраняет запись.
	// ErrNotFound, если записи нет.
	Update(ctx context.Context, id string, fn UpdateFunc) (*model.FileRecord, error)
	// Delete удаляет запись. ErrNotFound, если записи нет.
	Delete(ctx context.Context, id string) error
}
