// Пакет server — HTTP-сервер File Manager с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/bigkaa/goartstore/file-manager/internal/api/errors"
	"github.com/bigkaa/goartstore/file-manager/internal/api/handlers"
	"github.com/bigkaa/goartstore/file-manager/internal/api/middleware"
	"github.com/bigkaa/goartstore/file-manager/internal/config"
)

// ErrManagerFailed — сервер остановлен из-за отказа Manager.
var ErrManagerFailed = errors.New("manager завершился с ошибкой")

// Handlers — набор обработчиков, монтируемых сервером.
type Handlers struct {
	Health      *handlers.HealthHandler
	System      *handlers.SystemHandler
	Maintenance *handlers.MaintenanceHandler
	// Events — SSE-поток уведомлений (GET /api/v1/events)
	Events http.Handler
	// WS — WebSocket-поток уведомлений (GET /ws)
	WS http.Handler
}

// Server — HTTP-сервер File Manager.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
	// cancelBase отменяет контексты запросов перед Shutdown (SSE-потоки)
	cancelBase context.CancelFunc
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, h Handlers) *Server {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     NewRouter(logger, h),
		BaseContext: func(net.Listener) context.Context { return baseCtx },
		ReadTimeout: 30 * time.Second,
		// WriteTimeout не задаётся: SSE-поток живёт дольше любого таймаута
		IdleTimeout: 120 * time.Second,
	}

	// Настройка TLS
	if cfg.TLSEnabled() {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
		cfg:        cfg,
		cancelBase: cancelBase,
	}
}

// NewRouter собирает chi-роутер со всеми endpoints.
func NewRouter(logger *slog.Logger, h Handlers) http.Handler {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apierrors.NotFound(w, "Маршрут не найден: "+r.URL.Path)
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apierrors.MethodNotAllowed(w, "Метод "+r.Method+" не поддерживается")
	})

	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/info", h.System.GetInfo)
		r.Post("/maintenance/reconcile", h.Maintenance.Reconcile)
		if h.Events != nil {
			r.Method(http.MethodGet, "/events", h.Events)
		}
	})
	if h.WS != nil {
		router.Method(http.MethodGet, "/ws", h.WS)
	}

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отказа Manager (failed). При отказе Manager возвращает ошибку,
// обёртывающую ErrManagerFailed, после graceful shutdown.
func (s *Server) Run(failed <-chan error) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSEnabled()),
		)

		var err error
		if s.cfg.TLSEnabled() {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var result error
	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case cause := <-failed:
		s.logger.Error("Manager завершился с ошибкой, остановка сервера",
			slog.String("error", cause.Error()),
		)
		result = fmt.Errorf("%w: %v", ErrManagerFailed, cause)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	s.cancelBase()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return result
}
