// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bigkaa/goartstore/file-manager/internal/config"
	"github.com/bigkaa/goartstore/file-manager/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/atomicfile"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/store"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// storeProbeID — заведомо отсутствующий id для проверки доступности хранилища.
const storeProbeID = "health-probe"

// ManagerState — состояние Manager для health и info endpoints.
type ManagerState interface {
	Alive() bool
	State() lifecycle.State
}

// ReadinessChecker — дополнительная проверка готовности (например, PostgreSQL).
type ReadinessChecker interface {
	Name() string
	CheckReady() (status string, message string)
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version  string
	manager  ManagerState
	store    store.Store
	dirs     map[string]string
	checkers []ReadinessChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
// dirs — проверяемые на запись директории: имя проверки → путь.
func NewHealthHandler(manager ManagerState, st store.Store, dirs map[string]string, checkers ...ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		version:  config.Version,
		manager:  manager,
		store:    st,
		dirs:     dirs,
		checkers: checkers,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "file-manager",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: Manager в состоянии alive, директории доступны на запись,
// хранилище записей отвечает. Любой провал — 503.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]any{}
	ready := true

	managerCheck := map[string]any{"status": "ok", "state": string(h.manager.State())}
	if !h.manager.Alive() {
		managerCheck["status"] = statusFail
		ready = false
	}
	checks["manager"] = managerCheck

	for name, dir := range h.dirs {
		check := map[string]any{"status": "ok"}
		if err := atomicfile.CheckWritable(dir); err != nil {
			check["status"] = statusFail
			check["message"] = err.Error()
			ready = false
		}
		checks[name] = check
	}

	storeCheck := h.checkStore(r.Context())
	if storeCheck["status"] != "ok" {
		ready = false
	}
	checks["store"] = storeCheck

	for _, c := range h.checkers {
		status, message := c.CheckReady()
		checks[c.Name()] = map[string]any{"status": status, "message": message}
		if status != "ok" {
			ready = false
		}
	}

	overallStatus := "ok"
	httpStatus := http.StatusOK
	if !ready {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	resp := map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "file-manager",
		"checks":    checks,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(resp)
}

// checkStore выполняет чтение отсутствующей записи: ErrNotFound означает,
// что хранилище отвечает.
func (h *HealthHandler) checkStore(ctx context.Context) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := h.store.Get(ctx, storeProbeID)
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return map[string]any{"status": "ok"}
	}
	return map[string]any{
		"status":  statusFail,
		"message": fmt.Sprintf("хранилище записей недоступно: %v", err),
	}
}
