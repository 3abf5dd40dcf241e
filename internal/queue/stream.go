package queue

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/event"
)

// maxLineSize — максимальная длина строки события.
const maxLineSize = 1 << 20

// Stream — потребительский конец очереди поверх io.Reader
// с построчным JSON (stdout процесса Watcher).
//
// Чтение выполняется отдельной горутиной, поэтому Get учитывает
// отмену ctx даже при блокирующем чтении из pipe.
type Stream struct {
	events chan event.Event
	done   chan struct{}
	closer io.Closer
	logger *slog.Logger

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

var _ Source = (*Stream)(nil)

// NewStream запускает чтение r. closer (может быть nil) закрывается в Close.
// Нераспознанные строки пропускаются с предупреждением.
func NewStream(r io.Reader, closer io.Closer, logger *slog.Logger) *Stream {
	s := &Stream{
		events: make(chan event.Event),
		done:   make(chan struct{}),
		closer: closer,
		logger: logger.With(slog.String("component", "queue_stream")),
	}
	go s.read(r)
	return s
}

func (s *Stream) read(r io.Reader) {
	defer close(s.events)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := event.Unmarshal(line)
		if err != nil {
			s.logger.Warn("Пропущено нераспознанное сообщение очереди",
				slog.String("error", err.Error()),
			)
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.errMu.Lock()
		s.err = fmt.Errorf("ошибка чтения очереди: %w", err)
		s.errMu.Unlock()
	}
}

// Get возвращает следующее событие. При EOF — ErrClosed
// (или ошибку чтения, обёрнутую вместе с ErrClosed).
func (s *Stream) Get(ctx context.Context) (event.Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			s.errMu.Lock()
			defer s.errMu.Unlock()
			if s.err != nil {
				return nil, fmt.Errorf("%w: %w", ErrClosed, s.err)
			}
			return nil, ErrClosed
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close останавливает чтение и закрывает closer.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

// Writer — производящий конец очереди поверх io.Writer.
// Каждое событие — одна строка JSON.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

var _ Sink = (*Writer)(nil)

// NewWriter создаёт Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Put записывает событие одной строкой.
func (w *Writer) Put(ev event.Event) error {
	data, err := event.Marshal(ev)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("ошибка записи в очередь: %w", err)
	}
	return nil
}
