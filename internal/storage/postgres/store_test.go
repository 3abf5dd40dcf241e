package postgres

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/file-manager/internal/storage/store"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/store/storetest"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers,
// применяет миграции и возвращает пул подключений.
func setupTestDB(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		tcpostgres.WithDatabase("filemanager_test"),
		tcpostgres.WithUsername("filemanager"),
		tcpostgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Не удалось получить строку подключения: %v", err)
	}

	if err := Migrate(dsn, testLogger()); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := Connect(ctx, dsn, PoolSize(2), testLogger())
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool, dsn
}

func TestStore_Contract(t *testing.T) {
	pool, _ := setupTestDB(t)

	storetest.Run(t, func(t *testing.T) store.Store {
		if _, err := pool.Exec(context.Background(), `TRUNCATE file_records`); err != nil {
			t.Fatalf("TRUNCATE: %v", err)
		}
		return NewStore(pool)
	})
}

// TestMigrate_Idempotent проверяет, что повторное применение миграций — no-op.
func TestMigrate_Idempotent(t *testing.T) {
	_, dsn := setupTestDB(t)

	if err := Migrate(dsn, testLogger()); err != nil {
		t.Fatalf("повторный Migrate: %v", err)
	}
}

// TestReadinessChecker проверяет статус ok для доступной базы.
func TestReadinessChecker(t *testing.T) {
	pool, _ := setupTestDB(t)

	checker := NewReadinessChecker(pool)
	status, msg := checker.CheckReady()
	if status != "ok" {
		t.Errorf("ожидался статус ok, получено %s (%s)", status, msg)
	}
	if checker.Name() != "postgresql" {
		t.Errorf("неожиданное имя проверки: %s", checker.Name())
	}
}

// TestReadyConstraint проверяет, что CHECK-ограничение таблицы отклоняет ready без size.
func TestReadyConstraint(t *testing.T) {
	pool, _ := setupTestDB(t)

	_, err := pool.Exec(context.Background(), `
		INSERT INTO file_records (id, name, ready, created, uploaded_at)
		VALUES ('x', 'x', TRUE, TRUE, now())`)
	if err == nil {
		t.Fatal("ожидалось нарушение ограничения file_records_ready_check")
	}
	t.Logf("ожидаемая ошибка: %v", err)
}
