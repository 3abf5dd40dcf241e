package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const defaultHeartbeat = 15 * time.Second

// SSEHandler — обработчик GET /api/v1/events.
// Каждое уведомление отправляется событием "{interface}.{operation}".
type SSEHandler struct {
	hub       *Hub
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewSSEHandler создаёт SSE-обработчик. heartbeat <= 0 — 15 секунд.
func NewSSEHandler(hub *Hub, heartbeat time.Duration, logger *slog.Logger) *SSEHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &SSEHandler{
		hub:       hub,
		heartbeat: heartbeat,
		logger:    logger.With(slog.String("component", "notify.sse")),
	}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// ResponseController находит Flusher через Unwrap обёрток middleware
	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		http.Error(w, "SSE не поддерживается", http.StatusInternalServerError)
		return
	}

	messages, cancel := h.hub.Subscribe()
	defer cancel()

	h.logger.Debug("SSE клиент подключён", slog.String("remote_addr", r.RemoteAddr))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE клиент отключён", slog.String("remote_addr", r.RemoteAddr))
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		case msg, ok := <-messages:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("Ошибка сериализации уведомления", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s.%s\ndata: %s\n\n", msg.Interface, msg.Operation, data); err != nil {
				return
			}
			_ = rc.Flush()
		}
	}
}
