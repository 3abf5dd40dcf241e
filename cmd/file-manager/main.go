// Точка входа File Manager.
//
// Без аргументов запускается сервис: Manager, сверка, HTTP API и
// уведомления. Подкоманда "watch" — процесс Watcher, который сервис
// запускает сам (os.Executable() watch) и читает события из его stdout.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/file-manager/internal/api/handlers"
	"github.com/bigkaa/goartstore/file-manager/internal/config"
	"github.com/bigkaa/goartstore/file-manager/internal/manager"
	"github.com/bigkaa/goartstore/file-manager/internal/notify"
	"github.com/bigkaa/goartstore/file-manager/internal/ownership"
	"github.com/bigkaa/goartstore/file-manager/internal/queue"
	"github.com/bigkaa/goartstore/file-manager/internal/reconcile"
	"github.com/bigkaa/goartstore/file-manager/internal/server"
	"github.com/bigkaa/goartstore/file-manager/internal/service"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/cache"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/journal"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/memstore"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/postgres"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/recordfs"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/store"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/uploads"
	"github.com/bigkaa/goartstore/file-manager/internal/watcher"
)

// watchCommand — подкоманда процесса Watcher.
const watchCommand = "watch"

func main() {
	if len(os.Args) > 1 && os.Args[1] == watchCommand {
		os.Exit(runWatch())
	}
	os.Exit(run())
}

// run запускает сервис и возвращает код завершения процесса.
func run() int {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		return 1
	}

	logger := config.SetupLogger(&cfg.WatcherConfig, os.Stdout)
	logger.Info("File Manager запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("files_dir", cfg.FilesDir),
		slog.String("watch_dir", cfg.WatchDir),
		slog.String("state_dir", cfg.StateDir),
		slog.String("store", cfg.Store),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Инициализация компонентов ---

	// 1. Директория состояния и эксклюзивное владение
	if err := os.MkdirAll(cfg.StateDir, 0o750); err != nil {
		logger.Error("Ошибка создания директории состояния", slog.String("error", err.Error()))
		return 1
	}
	lock, err := ownership.Acquire(cfg.StateDir, logger)
	if err != nil {
		logger.Error("Директория состояния занята", slog.String("error", err.Error()))
		return 1
	}
	defer lock.Release()

	// 2. Хранилище записей
	backend, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища записей", slog.String("error", err.Error()))
		return 1
	}
	defer backend.close()

	// 3. Журнал импорта и директория загрузок
	jrnl, err := journal.New(filepath.Join(cfg.StateDir, "journal"), logger)
	if err != nil {
		logger.Error("Ошибка инициализации журнала импорта", slog.String("error", err.Error()))
		return 1
	}
	uploadsDir, err := uploads.Open(cfg.FilesDir)
	if err != nil {
		logger.Error("Ошибка открытия директории загрузок", slog.String("error", err.Error()))
		return 1
	}

	// 4. Уведомления и сверка
	hub := notify.NewHub(0, logger)
	reconcileSvc := reconcile.New(reconcile.Options{
		Store:    backend.store,
		Uploads:  uploadsDir,
		WatchDir: cfg.WatchDir,
		Journal:  jrnl,
		Interval: cfg.ReconcileInterval,
		Grace:    cfg.ReconcileGrace,
		Logger:   logger,
	})

	// 5. Manager и процесс Watcher
	executable, err := os.Executable()
	if err != nil {
		logger.Error("Не удалось определить исполняемый файл", slog.String("error", err.Error()))
		return 1
	}
	mgr, err := manager.New(manager.Options{
		Store:        backend.store,
		Uploads:      uploadsDir,
		WatchDir:     cfg.WatchDir,
		Journal:      jrnl,
		Launch:       launchWatcher(executable, cfg, logger),
		Reconciler:   reconcileSvc,
		Publisher:    hub,
		Workers:      cfg.Workers,
		AliveTimeout: cfg.AliveTimeout,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("Ошибка создания Manager", slog.String("error", err.Error()))
		return 1
	}

	failed := make(chan error, 1)
	go func() {
		if err := mgr.Start(ctx); err != nil {
			failed <- err
			return
		}
		reconcileSvc.Start(ctx)
		select {
		case err := <-mgr.Failed():
			failed <- err
		case <-ctx.Done():
		}
	}()

	// 6. topologymetrics — только для PostgreSQL
	if backend.dephealth != nil {
		if err := backend.dephealth.Start(ctx); err != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		}
	}

	// 7. HTTP API
	var checkers []handlers.ReadinessChecker
	if backend.readiness != nil {
		checkers = append(checkers, backend.readiness)
	}
	dirs := map[string]string{
		"files_dir": cfg.FilesDir,
		"watch_dir": cfg.WatchDir,
		"state_dir": cfg.StateDir,
	}
	srv := server.New(cfg, logger, server.Handlers{
		Health:      handlers.NewHealthHandler(mgr, backend.store, dirs, checkers...),
		System:      handlers.NewSystemHandler(cfg, mgr, backend.store, reconcileSvc, getDiskUsage, logger),
		Maintenance: handlers.NewMaintenanceHandler(reconcileSvc, mgr),
		Events:      notify.NewSSEHandler(hub, 0, logger),
		WS:          notify.NewWSHandler(hub, nil, logger),
	})

	exitCode := 0
	if err := srv.Run(failed); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		exitCode = 1
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer closeCancel()
	if err := mgr.Close(closeCtx); err != nil {
		logger.Error("Ошибка остановки Manager", slog.String("error", err.Error()))
		exitCode = 1
	}
	reconcileSvc.Stop()
	if backend.dephealth != nil {
		backend.dephealth.Stop()
	}

	logger.Info("File Manager остановлен")
	return exitCode
}

// launchWatcher возвращает функцию запуска процесса Watcher.
// Процесс наследует окружение сервиса (FM_*), журнал пишет в stderr сервиса.
func launchWatcher(executable string, cfg *config.Config, logger *slog.Logger) manager.LaunchFunc {
	return func(context.Context) (queue.Source, error) {
		proc, err := watcher.StartProcess(watcher.ProcessOptions{
			Path:        executable,
			Args:        []string{watchCommand},
			StopTimeout: cfg.WatcherStopTimeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		return proc, nil
	}
}

// closeLogged закрывает ресурс; ошибка пишется в лог на уровне Warn.
func closeLogged(c io.Closer, resource string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("Ошибка закрытия ресурса",
			slog.String("resource", resource),
			slog.String("error", err.Error()),
		)
	}
}

// storeBackend — выбранное хранилище записей и связанные с ним ресурсы.
type storeBackend struct {
	store     store.Store
	readiness handlers.ReadinessChecker
	dephealth *service.DephealthService
	close     func()
}

// openStore открывает хранилище записей по FM_STORE.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storeBackend, error) {
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("Записи хранятся в памяти и теряются при перезапуске")
		return &storeBackend{store: memstore.New(), close: func() {}}, nil

	case config.StorePostgres:
		dsn := cfg.DB.DSN()
		if err := postgres.Migrate(dsn, logger); err != nil {
			return nil, err
		}
		pool, err := postgres.Connect(ctx, dsn, postgres.PoolSize(cfg.Workers), logger)
		if err != nil {
			return nil, err
		}

		var st store.Store = postgres.NewStore(pool)
		if cfg.CacheSize > 0 {
			st = cache.New(st, cfg.CacheSize, cfg.CacheTTL)
		}

		db := stdlib.OpenDBFromPool(pool)
		backend := &storeBackend{
			store:     st,
			readiness: postgres.NewReadinessChecker(pool),
			close: func() {
				closeLogged(db, "database/sql", logger)
				pool.Close()
			},
		}

		dh, err := service.NewDephealthService(service.DephealthOptions{
			ServiceID:     "file-manager",
			Group:         cfg.DephealthGroup,
			DB:            db,
			Host:          cfg.DB.Host,
			Port:          cfg.DB.Port,
			CheckInterval: cfg.DephealthCheckInterval,
			Logger:        logger,
		})
		if err != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", err.Error()),
			)
		} else {
			backend.dephealth = dh
		}
		return backend, nil

	default:
		st, err := recordfs.Open(filepath.Join(cfg.StateDir, "records"), logger)
		if err != nil {
			return nil, err
		}
		return &storeBackend{store: st, close: func() {}}, nil
	}
}
