// Пакет service — фоновые сервисы File Manager, не относящиеся к
// обработке событий. Сейчас это мониторинг PostgreSQL через
// topologymetrics: подключается только при FM_STORE=postgres,
// метрики app_dependency_* публикуются на /metrics.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// dependencyName — имя PostgreSQL в графе зависимостей.
const dependencyName = "postgresql"

// DephealthOptions — параметры мониторинга хранилища записей.
type DephealthOptions struct {
	// ServiceID — вершина графа ("file-manager").
	ServiceID string
	// Group — FM_DEPHEALTH_GROUP.
	Group string
	// DB — обёртка database/sql над пулом хранилища (stdlib.OpenDBFromPool):
	// проверка идёт через тот же пул, что и запросы к записям.
	DB *sql.DB
	// Host и Port попадают только в лейблы метрик.
	Host string
	Port int
	// CheckInterval — FM_DEPHEALTH_CHECK_INTERVAL.
	CheckInterval time.Duration
	// Registerer — nil означает глобальный registry Prometheus.
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

// DephealthService следит за доступностью PostgreSQL.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт мониторинг. PostgreSQL — критичная
// зависимость: без неё записи недоступны.
func NewDephealthService(opts DephealthOptions) (*DephealthService, error) {
	if opts.DB == nil {
		return nil, errors.New("dephealth: не задано подключение к PostgreSQL")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dhOpts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.AddDependency(dependencyName, dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(opts.DB)),
			dephealth.FromURL(fmt.Sprintf("postgres://%s:%d", opts.Host, opts.Port)),
			dephealth.CheckInterval(opts.CheckInterval),
			dephealth.Critical(true),
		),
	}
	if opts.Registerer != nil {
		dhOpts = append(dhOpts, dephealth.WithRegisterer(opts.Registerer))
	}

	dh, err := dephealth.New(opts.ServiceID, opts.Group, dhOpts...)
	if err != nil {
		return nil, fmt.Errorf("dephealth: %w", err)
	}
	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

func (ds *DephealthService) Start(ctx context.Context) error {
	if err := ds.dh.Start(ctx); err != nil {
		return err
	}
	ds.logger.Info("Мониторинг PostgreSQL запущен")
	return nil
}

func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг PostgreSQL остановлен")
}

// Health — последние результаты проверок: ключ "postgresql:<host>:<port>".
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
