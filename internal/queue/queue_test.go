package queue

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/event"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func TestMemory_FIFO(t *testing.T) {
	q := NewMemory()
	q.Put(event.Alive{})
	q.Put(event.Create{File: event.File{Filename: "x"}})
	q.Put(event.Close{File: event.File{Filename: "x", Size: 11}})

	want := []event.Action{event.ActionAlive, event.ActionCreate, event.ActionClose}
	for _, a := range want {
		ev, err := q.Get(context.Background())
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if ev.Action() != a {
			t.Errorf("ожидалось %s, получено %s", a, ev.Action())
		}
	}
}

func TestMemory_BlocksUntilPut(t *testing.T) {
	q := NewMemory()
	got := make(chan event.Event, 1)
	go func() {
		ev, _ := q.Get(context.Background())
		got <- ev
	}()

	time.Sleep(20 * time.Millisecond)
	q.Put(event.Delete{Filename: "x"})

	select {
	case ev := <-got:
		if ev.Key() != "x" {
			t.Errorf("неожиданное событие: %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("Get не разблокировался после Put")
	}
}

func TestMemory_ContextCancel(t *testing.T) {
	q := NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Get(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ожидался DeadlineExceeded, получено %v", err)
	}
}

func TestMemory_CloseDrains(t *testing.T) {
	q := NewMemory()
	q.Put(event.Alive{})
	q.Close()
	q.Close()

	if err := q.Put(event.Alive{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Put после Close: ожидалась ErrClosed, получено %v", err)
	}
	if _, err := q.Get(context.Background()); err != nil {
		t.Fatalf("оставшееся событие должно выдаваться: %v", err)
	}
	if _, err := q.Get(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("ожидалась ErrClosed, получено %v", err)
	}
}

// TestWriterStream проверяет передачу событий через pipe.
func TestWriterStream(t *testing.T) {
	pr, pw := io.Pipe()
	s := NewStream(pr, pr, testLogger())
	defer s.Close()

	w := NewWriter(pw)
	go func() {
		w.Put(event.Alive{})
		w.Put(event.Watch{File: event.File{Filename: "r.fq", Size: 7}})
		w.Put(event.Delete{Filename: "a.dat"})
		pw.Close()
	}()

	ctx := context.Background()
	var actions []event.Action
	for {
		ev, err := s.Get(ctx)
		if errors.Is(err, ErrClosed) {
			break
		}
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		actions = append(actions, ev.Action())
	}

	want := []event.Action{event.ActionAlive, event.ActionWatch, event.ActionDelete}
	if len(actions) != len(want) {
		t.Fatalf("ожидалось %v, получено %v", want, actions)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("[%d] ожидалось %s, получено %s", i, want[i], actions[i])
		}
	}
}

// TestStream_SkipsGarbage проверяет пропуск нераспознанных строк.
func TestStream_SkipsGarbage(t *testing.T) {
	input := strings.Join([]string{
		`not json`,
		``,
		`{"action":"rename","file":{"filename":"x"}}`,
		`{"action":"alive"}`,
	}, "\n")
	s := NewStream(strings.NewReader(input), nil, testLogger())

	ev, err := s.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := ev.(event.Alive); !ok {
		t.Errorf("ожидался Alive, получен %T", ev)
	}
	if _, err := s.Get(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("ожидалась ErrClosed, получено %v", err)
	}
}

// TestStream_GetCancel проверяет отмену ожидания при блокирующем чтении.
func TestStream_GetCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := NewStream(pr, pr, testLogger())
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ожидался DeadlineExceeded, получено %v", err)
	}
}

func TestWriter_OneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Put(event.Alive{})
	w.Put(event.Close{File: event.File{Filename: "x", Size: 11}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("ожидалось 2 строки, получено %d: %q", len(lines), buf.String())
	}
	if lines[0] != `{"action":"alive"}` {
		t.Errorf("неожиданная первая строка: %s", lines[0])
	}
}
