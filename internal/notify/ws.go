package notify

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// WSHandler — обработчик GET /ws: уведомления JSON-сообщениями WebSocket.
// Входящие сообщения клиента игнорируются; чтение нужно только для
// обнаружения закрытия соединения.
type WSHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler создаёт WebSocket-обработчик. Пустой allowedOrigins —
// только запросы с того же origin (проверка gorilla/websocket по умолчанию).
func NewWSHandler(hub *Hub, allowedOrigins []string, logger *slog.Logger) *WSHandler {
	h := &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.With(slog.String("component", "notify.ws")),
	}
	if len(allowedOrigins) > 0 {
		allowed := make(map[string]bool, len(allowedOrigins))
		for _, o := range allowedOrigins {
			allowed[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			return allowed["*"] || allowed[r.Header.Get("Origin")]
		}
	}
	return h
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже отправил ответ с ошибкой
		h.logger.Debug("Ошибка upgrade WebSocket", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	messages, cancel := h.hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					return
				}
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					h.logger.Debug("Ошибка отправки WebSocket", slog.String("error", err.Error()))
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
