// maintenance.go — обработчик POST /api/v1/maintenance/reconcile.
// Делегирует сверку в reconcile.Service.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/file-manager/internal/api/errors"
	"github.com/bigkaa/goartstore/file-manager/internal/reconcile"
)

// ReconcileRunner — интерфейс для запуска сверки.
// Позволяет тестировать handler без полного reconcile.Service.
type ReconcileRunner interface {
	// RunOnce выполняет один цикл сверки.
	// Возвращает результат и флаг "уже выполняется".
	RunOnce(ctx context.Context) (*reconcile.Result, bool)
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	reconciler ReconcileRunner
	manager    ManagerState
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(reconciler ReconcileRunner, manager ManagerState) *MaintenanceHandler {
	return &MaintenanceHandler{reconciler: reconciler, manager: manager}
}

// Reconcile обрабатывает POST /api/v1/maintenance/reconcile.
// Запускает синхронный цикл сверки и возвращает результат.
// До перехода Manager в alive — 503: первичная сверка ещё не завершена.
// Если сверка уже выполняется — 409 RECONCILE_IN_PROGRESS.
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if !h.manager.Alive() {
		apierrors.ServiceUnavailable(w, "Manager не готов: состояние "+string(h.manager.State()))
		return
	}

	// Отключение клиента не прерывает сверку на середине
	result, inProgress := h.reconciler.RunOnce(context.WithoutCancel(r.Context()))
	if inProgress {
		apierrors.ReconcileInProgress(w, "Сверка уже выполняется")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}
