package journal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/file-manager/internal/storage/atomicfile"
)

// Journal — журнал транзакций импорта.
// Сначала создаётся запись со статусом pending, затем выполняется
// импорт, затем запись коммитится или откатывается.
type Journal struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// New создаёт журнал в dir. Создаёт директорию, если её нет,
// и проверяет доступность на запись.
func New(dir string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию журнала %s: %w", dir, err)
	}
	if err := atomicfile.CheckWritable(dir); err != nil {
		return nil, fmt.Errorf("журнал: %w", err)
	}

	return &Journal{
		dir:    dir,
		logger: logger.With(slog.String("component", "journal")),
	}, nil
}

// Start создаёт запись со статусом pending.
func (j *Journal) Start(op OperationType, fileID, source string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := &Entry{
		TransactionID: uuid.New().String(),
		Operation:     op,
		Status:        StatusPending,
		FileID:        fileID,
		Source:        source,
		StartedAt:     time.Now().UTC(),
	}

	if err := j.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("не удалось создать запись журнала: %w", err)
	}

	j.logger.Debug("Транзакция начата",
		slog.String("tx_id", entry.TransactionID),
		slog.String("operation", string(entry.Operation)),
		slog.String("file_id", entry.FileID),
		slog.String("source", entry.Source),
	)

	return entry, nil
}

// Commit помечает транзакцию успешно завершённой.
func (j *Journal) Commit(txID string) error {
	return j.finish(txID, StatusCommitted)
}

// Rollback помечает транзакцию отменённой.
func (j *Journal) Rollback(txID string) error {
	return j.finish(txID, StatusRolledBack)
}

func (j *Journal) finish(txID string, status TransactionStatus) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry, err := j.readEntry(txID)
	if err != nil {
		return fmt.Errorf("не удалось прочитать запись журнала %s: %w", txID, err)
	}
	if entry.Status != StatusPending {
		return fmt.Errorf("запись журнала %s имеет статус %s, ожидается %s", txID, entry.Status, StatusPending)
	}

	now := time.Now().UTC()
	entry.Status = status
	entry.CompletedAt = &now

	if err := j.writeEntry(entry); err != nil {
		return fmt.Errorf("не удалось обновить запись журнала %s: %w", txID, err)
	}

	j.logger.Debug("Транзакция завершена",
		slog.String("tx_id", txID),
		slog.String("status", string(status)),
		slog.String("file_id", entry.FileID),
		slog.Duration("duration", now.Sub(entry.StartedAt)),
	)
	return nil
}

// Pending возвращает незавершённые транзакции в порядке начала.
func (j *Journal) Pending() ([]*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(j.dir, "*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}

	var pending []*Entry
	for _, path := range paths {
		entry, err := j.readEntry(strings.TrimSuffix(filepath.Base(path), fileSuffix))
		if err != nil {
			j.logger.Warn("Не удалось прочитать запись журнала",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		if entry.Status == StatusPending {
			pending = append(pending, entry)
		}
	}

	sort.Slice(pending, func(a, b int) bool {
		return pending[a].StartedAt.Before(pending[b].StartedAt)
	})
	return pending, nil
}

// Get читает запись по идентификатору транзакции.
func (j *Journal) Get(txID string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readEntry(txID)
}

// CleanCompleted удаляет committed и rolled_back записи.
func (j *Journal) CleanCompleted() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(j.dir, "*"+fileSuffix))
	if err != nil {
		return 0, fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}

	cleaned := 0
	for _, path := range paths {
		entry, err := j.readEntry(strings.TrimSuffix(filepath.Base(path), fileSuffix))
		if err != nil || entry.Status == StatusPending {
			continue
		}
		if err := os.Remove(path); err != nil {
			j.logger.Warn("Не удалось удалить завершённую запись журнала",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

// Dir возвращает путь к директории журнала.
func (j *Journal) Dir() string {
	return j.dir
}

func (j *Journal) writeEntry(entry *Entry) error {
	return atomicfile.WriteJSON(filepath.Join(j.dir, entryFileName(entry.TransactionID)), entry)
}

func (j *Journal) readEntry(txID string) (*Entry, error) {
	var entry Entry
	if err := atomicfile.ReadJSON(filepath.Join(j.dir, entryFileName(txID)), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
