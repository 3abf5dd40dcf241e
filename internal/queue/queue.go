// Пакет queue — очередь событий между Watcher и Manager.
//
// Source — потребительский конец (Manager), Sink — производящий (Watcher).
// Memory реализует оба конца в одном процессе; Stream и Writer передают
// события построчным JSON через канал ОС (pipe stdout процесса Watcher).
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/event"
)

// ErrClosed — очередь закрыта, событий больше не будет.
var ErrClosed = errors.New("очередь закрыта")

// Source — потребительский конец очереди.
type Source interface {
	// Get блокируется до следующего события, закрытия очереди или отмены ctx.
	Get(ctx context.Context) (event.Event, error)
	// Close освобождает ресурсы очереди. Повторный вызов — no-op.
	Close() error
}

// Sink — производящий конец очереди.
type Sink interface {
	Put(ev event.Event) error
}

// Memory — неограниченная FIFO-очередь в памяти.
type Memory struct {
	mu     sync.Mutex
	items  []event.Event
	notify chan struct{}
	closed bool
}

var (
	_ Source = (*Memory)(nil)
	_ Sink   = (*Memory)(nil)
)

// NewMemory создаёт пустую очередь.
func NewMemory() *Memory {
	return &Memory{notify: make(chan struct{}, 1)}
}

// Put добавляет событие в конец очереди.
func (q *Memory) Put(ev event.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, ev)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Get извлекает событие из начала очереди. После Close оставшиеся
// события ещё выдаются, затем возвращается ErrClosed.
func (q *Memory) Get(ctx context.Context) (event.Event, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close закрывает очередь для записи и будит ожидающих потребителей.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.notify)
	}
	return nil
}

// Len возвращает количество событий в очереди.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
