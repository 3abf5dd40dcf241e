// Пакет postgres — хранилище записей о файлах в PostgreSQL (таблица
// file_records). Схема поставляется вместе с бинарником и
// накатывается при старте до открытия пула.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// readyTimeout ограничивает ping в /health/ready.
const readyTimeout = 3 * time.Second

// PoolOptions — размер пула. Нули оставляют значения из DSN или pgx.
type PoolOptions struct {
	MaxConns int32
	MinConns int32
}

// PoolSize подбирает пул под обработчики Manager: по соединению на
// worker плюс запас на reconcile и HTTP API.
func PoolSize(workers int) PoolOptions {
	if workers < 1 {
		workers = 1
	}
	return PoolOptions{MaxConns: int32(workers) + 4, MinConns: 1}
}

// Connect открывает пул и убеждается, что база отвечает.
func Connect(ctx context.Context, dsn string, opts PoolOptions, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: разбор DSN: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 && opts.MinConns <= poolCfg.MaxConns {
		poolCfg.MinConns = opts.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: пул: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: база недоступна: %w", err)
	}

	logger.Info("Хранилище записей подключено",
		slog.String("host", poolCfg.ConnConfig.Host),
		slog.String("database", poolCfg.ConnConfig.Database),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
	)
	return pool, nil
}

// ErrDirtySchema — предыдущая миграция оборвалась, схему нужно
// починить вручную (migrate force).
var ErrDirtySchema = errors.New("postgres: схема в состоянии dirty")

// Migrate накатывает встроенные миграции file_records.
func Migrate(dsn string, logger *slog.Logger) error {
	dbURL, err := migrationURL(dsn)
	if err != nil {
		return err
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: миграции: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return fmt.Errorf("postgres: миграции: %w", err)
	}
	defer m.Close()

	before, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		before = 0
	case err != nil:
		return fmt.Errorf("postgres: версия схемы: %w", err)
	case dirty:
		return fmt.Errorf("%w: версия %d", ErrDirtySchema, before)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("Схема file_records актуальна", slog.Uint64("version", uint64(before)))
			return nil
		}
		return fmt.Errorf("postgres: применение миграций: %w", err)
	}

	after, _, _ := m.Version()
	logger.Info("Схема file_records обновлена",
		slog.Uint64("from", uint64(before)),
		slog.Uint64("to", uint64(after)),
	)
	return nil
}

// migrationURL переводит DSN в адрес для драйвера pgx5 golang-migrate.
// Параметры запроса (sslmode и т.п.) сохраняются.
func migrationURL(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("postgres: разбор DSN: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		u.Scheme = "pgx5"
	case "pgx5":
	default:
		return "", fmt.Errorf("postgres: неподдерживаемая схема DSN %q", u.Scheme)
	}
	return u.String(), nil
}

// ReadinessChecker отвечает на /health/ready за хранилище записей.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

func (c *ReadinessChecker) Name() string {
	return "postgresql"
}

// CheckReady пингует базу; в сообщении — занятость пула.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()

	if err := c.pool.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("file_records недоступна: %v", err)
	}
	st := c.pool.Stat()
	return "ok", fmt.Sprintf("соединений занято %d из %d", st.AcquiredConns(), st.MaxConns())
}
