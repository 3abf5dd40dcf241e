// system.go — обработчик GET /api/v1/info (информация о File Manager).
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/goartstore/file-manager/internal/api/errors"
	"github.com/bigkaa/goartstore/file-manager/internal/config"
	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/reconcile"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/store"
)

// DiskUsageFunc возвращает total, used, available в байтах для директории.
type DiskUsageFunc func(path string) (total, used, available int64, err error)

// ReconcileStatus — сведения о последней сверке.
type ReconcileStatus interface {
	Last() *reconcile.Result
	IsInProgress() bool
}

// SystemInfo — ответ GET /api/v1/info.
type SystemInfo struct {
	Service   string        `json:"service"`
	Version   string        `json:"version"`
	State     string        `json:"state"`
	Alive     bool          `json:"alive"`
	Store     string        `json:"store"`
	Dirs      DirsInfo      `json:"dirs"`
	Records   RecordsInfo   `json:"records"`
	Disk      *DiskInfo     `json:"disk,omitempty"`
	Reconcile ReconcileInfo `json:"reconcile"`
}

// DirsInfo — рабочие директории.
type DirsInfo struct {
	Files string `json:"files"`
	Watch string `json:"watch"`
	State string `json:"state"`
}

// RecordsInfo — счётчики записей по состояниям.
type RecordsInfo struct {
	Total    int   `json:"total"`
	Pending  int   `json:"pending"`
	Writing  int   `json:"writing"`
	Ready    int   `json:"ready"`
	Reserved int   `json:"reserved"`
	Expired  int   `json:"expired"`
	Reads    int   `json:"reads"`
	Bytes    int64 `json:"bytes"`
}

// DiskInfo — ёмкость файловой системы директории загрузок.
type DiskInfo struct {
	TotalBytes     int64 `json:"total_bytes"`
	UsedBytes      int64 `json:"used_bytes"`
	AvailableBytes int64 `json:"available_bytes"`
}

// ReconcileInfo — состояние сверки.
type ReconcileInfo struct {
	InProgress bool              `json:"in_progress"`
	Last       *reconcile.Result `json:"last,omitempty"`
}

// SystemHandler — обработчик системных endpoints.
type SystemHandler struct {
	cfg       *config.Config
	manager   ManagerState
	store     store.Store
	reconcile ReconcileStatus
	diskUsage DiskUsageFunc
	now       func() time.Time
	logger    *slog.Logger
}

// NewSystemHandler создаёт обработчик системных endpoints.
// diskUsage может быть nil — тогда блок disk не выводится.
func NewSystemHandler(
	cfg *config.Config,
	manager ManagerState,
	st store.Store,
	rec ReconcileStatus,
	diskUsage DiskUsageFunc,
	logger *slog.Logger,
) *SystemHandler {
	return &SystemHandler{
		cfg:       cfg,
		manager:   manager,
		store:     st,
		reconcile: rec,
		diskUsage: diskUsage,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "api.system")),
	}
}

// GetInfo обрабатывает GET /api/v1/info.
func (h *SystemHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("Ошибка чтения записей", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Хранилище записей недоступно")
		return
	}

	resp := SystemInfo{
		Service: "file-manager",
		Version: config.Version,
		State:   string(h.manager.State()),
		Alive:   h.manager.Alive(),
		Store:   h.cfg.Store,
		Dirs: DirsInfo{
			Files: h.cfg.FilesDir,
			Watch: h.cfg.WatchDir,
			State: h.cfg.StateDir,
		},
		Records: countRecords(records, h.now().UTC()),
		Reconcile: ReconcileInfo{
			InProgress: h.reconcile.IsInProgress(),
			Last:       h.reconcile.Last(),
		},
	}

	if h.diskUsage != nil {
		total, used, available, err := h.diskUsage(h.cfg.FilesDir)
		if err != nil {
			h.logger.Warn("Ошибка получения ёмкости диска", slog.String("error", err.Error()))
		} else {
			resp.Disk = &DiskInfo{TotalBytes: total, UsedBytes: used, AvailableBytes: available}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// countRecords раскладывает записи по состояниям жизненного цикла:
// pending — заготовка без файла, writing — файл пишется, ready — запись завершена.
func countRecords(records []*model.FileRecord, now time.Time) RecordsInfo {
	var info RecordsInfo
	info.Total = len(records)
	for _, rec := range records {
		switch {
		case rec.Ready:
			info.Ready++
			if rec.Size != nil {
				info.Bytes += *rec.Size
			}
		case rec.Created:
			info.Writing++
		default:
			info.Pending++
		}
		if rec.Reserved {
			info.Reserved++
		}
		if rec.IsExpired(now) {
			info.Expired++
		}
		if rec.Type == model.TypeReads {
			info.Reads++
		}
	}
	return info
}
