package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/event"
	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/journal"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/store"
)

// Уведомления об изменении записей.
const (
	TopicFiles      = "files"
	OperationUpdate = "update"
	OperationRemove = "remove"
)

// FileUpdate — уведомление о завершении записи файла.
type FileUpdate struct {
	ID    string `json:"id"`
	Ready bool   `json:"ready"`
	Size  int64  `json:"size"`
}

// FileRemove — уведомление об удалении записи.
type FileRemove struct {
	ID string `json:"id"`
}

// observe фиксирует результат обработки события.
func observe(action event.Action, result string, started time.Time) {
	eventsTotal.WithLabelValues(string(action), result).Inc()
	eventDurationSeconds.WithLabelValues(string(action)).Observe(time.Since(started).Seconds())
}

// handleCreate: начало записи — запись помечается created.
func (m *Manager) handleCreate(ctx context.Context, e event.Create) {
	started := time.Now()
	_, err := m.store.Update(ctx, e.File.Filename, func(rec *model.FileRecord) error {
		rec.Created = true
		return nil
	})
	observe(e.Action(), m.result(e, err), started)
}

// handleModify: прогресс записи, запись не меняется.
func (m *Manager) handleModify(_ context.Context, e event.Modify) {
	m.logger.Debug("Запись файла продолжается",
		slog.String("filename", e.File.Filename),
		slog.Int64("size", e.File.Size),
	)
	eventsTotal.WithLabelValues(string(e.Action()), resultOK).Inc()
}

// handleClose: запись завершена — ready, итоговый размер, уведомление.
func (m *Manager) handleClose(ctx context.Context, e event.Close) {
	started := time.Now()
	rec, err := m.store.Update(ctx, e.File.Filename, func(rec *model.FileRecord) error {
		rec.MarkReady(e.File.Size)
		return nil
	})
	observe(e.Action(), m.result(e, err), started)
	if err != nil {
		return
	}

	m.publish(TopicFiles, OperationUpdate, FileUpdate{
		ID:    rec.ID,
		Ready: rec.Ready,
		Size:  *rec.Size,
	})
}

// handleDelete: файл удалён из директории загрузок — запись удаляется.
func (m *Manager) handleDelete(ctx context.Context, e event.Delete) {
	started := time.Now()
	err := m.store.Delete(ctx, e.Filename)
	observe(e.Action(), m.result(e, err), started)
	if err != nil {
		return
	}
	m.publish(TopicFiles, OperationRemove, FileRemove{ID: e.Filename})
}

// result классифицирует ошибку хранилища. Отсутствие записи — не ошибка:
// событие просто не имеет эффекта.
func (m *Manager) result(ev event.Event, err error) string {
	switch {
	case err == nil:
		m.logger.Debug("Событие применено",
			slog.String("action", string(ev.Action())),
			slog.String("filename", ev.Key()),
		)
		return resultOK
	case errors.Is(err, store.ErrNotFound):
		m.logger.Debug("Событие для неизвестной записи отброшено",
			slog.String("action", string(ev.Action())),
			slog.String("filename", ev.Key()),
		)
		return resultDropped
	default:
		m.logger.Error("Ошибка обработки события",
			slog.String("action", string(ev.Action())),
			slog.String("filename", ev.Key()),
			slog.String("error", err.Error()),
		)
		return resultError
	}
}

// handleWatch импортирует файл прочтений из watch-директории.
func (m *Manager) handleWatch(ctx context.Context, e event.Watch) {
	started := time.Now()
	id, err := m.importReads(ctx, e.File.Filename)
	switch {
	case err == nil:
		importsTotal.WithLabelValues(resultOK).Inc()
		observe(e.Action(), resultOK, started)
		m.logger.Info("Файл прочтений импортирован",
			slog.String("source", e.File.Filename),
			slog.String("id", id),
		)
	case errors.Is(err, os.ErrNotExist):
		// Файл удалён или уже импортирован по предыдущему событию
		importsTotal.WithLabelValues(resultDropped).Inc()
		observe(e.Action(), resultDropped, started)
		m.logger.Debug("Импорт пропущен: исходного файла нет",
			slog.String("source", e.File.Filename),
		)
	default:
		importsTotal.WithLabelValues(resultError).Inc()
		observe(e.Action(), resultError, started)
		m.logger.Error("Ошибка импорта файла прочтений",
			slog.String("source", e.File.Filename),
			slog.String("error", err.Error()),
		)
	}
}

// importReads переносит файл в директорию загрузок под уникальным именем.
//
// Последовательность: выбор имени → журнал → запись reads → перенос →
// ready с итоговым размером → коммит журнала. При ошибке запись и
// частично перенесённый файл удаляются, журнал откатывается.
func (m *Manager) importReads(ctx context.Context, filename string) (string, error) {
	src := filepath.Join(m.watchDir, filename)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	id, err := m.allocator.Allocate(filename, m.taken(ctx))
	if err != nil {
		return "", err
	}

	var txID string
	if m.journal != nil {
		entry, err := m.journal.Start(journal.OpImport, id, filename)
		if err != nil {
			return "", err
		}
		txID = entry.TransactionID
	}

	if err := m.store.Insert(ctx, model.NewReadsImport(id, filename, m.now())); err != nil {
		m.rollbackJournal(txID)
		return "", fmt.Errorf("ошибка создания записи %s: %w", id, err)
	}

	size, err := m.uploads.Import(src, id)
	if err != nil {
		m.rollbackImport(ctx, id, txID, "")
		return "", err
	}

	if _, err := m.store.Update(ctx, id, func(rec *model.FileRecord) error {
		rec.MarkReady(size)
		return nil
	}); err != nil {
		m.rollbackImport(ctx, id, txID, src)
		return "", fmt.Errorf("ошибка завершения записи %s: %w", id, err)
	}

	if txID != "" {
		if err := m.journal.Commit(txID); err != nil {
			m.logger.Warn("Не удалось закоммитить запись журнала",
				slog.String("tx_id", txID),
				slog.String("error", err.Error()),
			)
		}
	}
	return id, nil
}

// taken проверяет занятость имени в хранилище и на диске.
func (m *Manager) taken(ctx context.Context) func(string) (bool, error) {
	return func(name string) (bool, error) {
		_, err := m.store.Get(ctx, name)
		switch {
		case err == nil:
			return true, nil
		case !errors.Is(err, store.ErrNotFound):
			return false, err
		}
		return m.uploads.Exists(name)
	}
}

// rollbackImport удаляет запись и перенесённые данные. Если исходный
// файл уже перенесён (restore не пуст), он возвращается в watch-директорию.
func (m *Manager) rollbackImport(ctx context.Context, id, txID, restore string) {
	if err := m.store.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.Error("Ошибка удаления записи при откате импорта",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}

	if restore != "" {
		if err := os.Rename(m.uploads.FullPath(id), restore); err != nil {
			m.logger.Error("Не удалось вернуть файл в watch-директорию",
				slog.String("id", id),
				slog.String("path", m.uploads.FullPath(id)),
				slog.String("error", err.Error()),
			)
		}
	} else if err := m.uploads.RemovePartial(id); err != nil {
		m.logger.Error("Ошибка удаления файла при откате импорта",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}
	m.rollbackJournal(txID)
}

func (m *Manager) rollbackJournal(txID string) {
	if txID == "" {
		return
	}
	if err := m.journal.Rollback(txID); err != nil {
		m.logger.Warn("Не удалось откатить запись журнала",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) publish(topic, operation string, data any) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(topic, operation, data)
}
