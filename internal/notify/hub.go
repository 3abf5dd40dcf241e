// Пакет notify — рассылка уведомлений об изменении записей.
//
// Hub принимает уведомления (Publish) и раздаёт их подписчикам:
// SSE-клиентам (GET /api/v1/events) и WebSocket-клиентам (GET /ws).
// Публикация никогда не блокируется: медленный подписчик теряет
// сообщения, переполнившие его буфер.
package notify

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// defaultBuffer — буфер сообщений одного подписчика.
const defaultBuffer = 64

// notificationsTotal — доставленные и потерянные уведомления.
var notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fm_notifications_total",
	Help: "Общее количество уведомлений подписчикам",
}, []string{"result"})

// Message — уведомление в формате {"interface","operation","data"}.
type Message struct {
	Interface string `json:"interface"`
	Operation string `json:"operation"`
	Data      any    `json:"data"`
}

// Hub — рассыльщик уведомлений.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan Message]struct{}
	buffer int
	logger *slog.Logger
}

// NewHub создаёт Hub. buffer <= 0 — буфер по умолчанию.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[chan Message]struct{}),
		buffer: buffer,
		logger: logger.With(slog.String("component", "notify")),
	}
}

// Publish рассылает уведомление всем подписчикам без блокировки.
func (h *Hub) Publish(topic, operation string, data any) {
	msg := Message{Interface: topic, Operation: operation, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- msg:
			notificationsTotal.WithLabelValues("delivered").Inc()
		default:
			notificationsTotal.WithLabelValues("dropped").Inc()
			h.logger.Warn("Уведомление потеряно: подписчик не успевает",
				slog.String("interface", topic),
				slog.String("operation", operation),
			)
		}
	}
}

// Subscribe регистрирует подписчика. Возвращённая функция отменяет
// подписку и закрывает канал; повторный вызов безопасен.
func (h *Hub) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, h.buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers возвращает количество подписчиков.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
