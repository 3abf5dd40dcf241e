package watcher

import (
	"sync"
	"time"
)

// settler отслеживает тишину после последней записи в файл.
// Таймер каждого пути перезапускается при новой активности; по истечении
// путь передаётся в канал out и обрабатывается основным циклом Watcher,
// поэтому все события отправляются из одной горутины.
type settler struct {
	mu     sync.Mutex
	delay  time.Duration
	timers map[string]*settleTimer
	out    chan string
	done   chan struct{}
	closed bool
}

type settleTimer struct {
	timer *time.Timer
	gen   uint64
}

func newSettler(delay time.Duration) *settler {
	return &settler{
		delay:  delay,
		timers: make(map[string]*settleTimer),
		out:    make(chan string, 64),
		done:   make(chan struct{}),
	}
}

// arm запускает или перезапускает таймер пути.
func (s *settler) arm(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	entry, ok := s.timers[path]
	if !ok {
		entry = &settleTimer{}
		s.timers[path] = entry
	} else if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.gen++
	gen := entry.gen
	entry.timer = time.AfterFunc(s.delay, func() { s.fire(path, gen) })
}

// fire передаёт путь основному циклу, если таймер не был перезапущен или отменён.
func (s *settler) fire(path string, gen uint64) {
	s.mu.Lock()
	entry, ok := s.timers[path]
	if s.closed || !ok || entry.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, path)
	s.mu.Unlock()

	// Отправка вне блокировки: основной цикл может одновременно вызывать arm.
	select {
	case s.out <- path:
	case <-s.done:
	}
}

// cancel отменяет таймер пути. Возвращает true, если таймер был активен.
func (s *settler) cancel(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.timers[path]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.timers, path)
	return true
}

// pending возвращает количество активных таймеров.
func (s *settler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// stop останавливает все таймеры.
func (s *settler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	for _, entry := range s.timers {
		entry.timer.Stop()
	}
	s.timers = nil
}
