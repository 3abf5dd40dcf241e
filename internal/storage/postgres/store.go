package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/store"
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectColumns = `id, name, type, size, created, ready, reserved, uploaded_at, expires_at, owner`

// Store — хранилище записей в таблице file_records.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// NewStore создаёт хранилище поверх пула подключений.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Get возвращает запись по id.
func (s *Store) Get(ctx context.Context, id string) (*model.FileRecord, error) {
	return getRecord(ctx, s.pool, id, false)
}

// List возвращает все записи, новые первыми.
func (s *Store) List(ctx context.Context) ([]*model.FileRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM file_records ORDER BY uploaded_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка записей: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения записи: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации записей: %w", err)
	}
	return result, nil
}

// Insert добавляет запись. Нарушение первичного ключа — ErrConflict.
func (s *Store) Insert(ctx context.Context, rec *model.FileRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO file_records (`+selectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Name, string(rec.Type), rec.Size, rec.Created, rec.Ready, rec.Reserved,
		rec.UploadedAt, rec.ExpiresAt, rec.User,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", rec.ID, store.ErrConflict)
		}
		return fmt.Errorf("ошибка вставки записи %s: %w", rec.ID, err)
	}
	return nil
}

// Update выполняет read-modify-write в транзакции с блокировкой строки.
func (s *Store) Update(ctx context.Context, id string, fn store.UpdateFunc) (*model.FileRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	rec, err := getRecord(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.ID = id
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE file_records
		SET name = $2, type = $3, size = $4, created = $5, ready = $6,
			reserved = $7, uploaded_at = $8, expires_at = $9, owner = $10
		WHERE id = $1`,
		rec.ID, rec.Name, string(rec.Type), rec.Size, rec.Created, rec.Ready,
		rec.Reserved, rec.UploadedAt, rec.ExpiresAt, rec.User,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка обновления записи %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка коммита транзакции: %w", err)
	}
	return rec, nil
}

// Delete удаляет запись.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM file_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", id, store.ErrNotFound)
	}
	return nil
}

func getRecord(ctx context.Context, db DBTX, id string, forUpdate bool) (*model.FileRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM file_records WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rec, err := scanRecord(db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка получения записи %s: %w", id, err)
	}
	return rec, nil
}

// scanRecord сканирует строку в FileRecord.
func scanRecord(row pgx.Row) (*model.FileRecord, error) {
	var (
		rec      model.FileRecord
		fileType string
	)
	err := row.Scan(
		&rec.ID, &rec.Name, &fileType, &rec.Size, &rec.Created, &rec.Ready,
		&rec.Reserved, &rec.UploadedAt, &rec.ExpiresAt, &rec.User,
	)
	if err != nil {
		return nil, err
	}
	rec.Type = model.FileType(fileType)
	rec.UploadedAt = rec.UploadedAt.UTC()
	if rec.ExpiresAt != nil {
		exp := rec.ExpiresAt.UTC()
		rec.ExpiresAt = &exp
	}
	return &rec, nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
