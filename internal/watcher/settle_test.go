package watcher

import (
	"testing"
	"time"
)

func TestSettler_FiresOnce(t *testing.T) {
	s := newSettler(30 * time.Millisecond)
	defer s.stop()

	s.arm("a")
	time.Sleep(10 * time.Millisecond)
	s.arm("a")

	select {
	case path := <-s.out:
		if path != "a" {
			t.Fatalf("ожидался путь a, получено %q", path)
		}
	case <-time.After(time.Second):
		t.Fatal("таймер не сработал")
	}

	select {
	case path := <-s.out:
		t.Fatalf("лишнее срабатывание для %q", path)
	case <-time.After(80 * time.Millisecond):
	}
	if s.pending() != 0 {
		t.Errorf("ожидалось 0 активных таймеров, получено %d", s.pending())
	}
}

func TestSettler_Cancel(t *testing.T) {
	s := newSettler(20 * time.Millisecond)
	defer s.stop()

	s.arm("a")
	if !s.cancel("a") {
		t.Fatal("cancel должен вернуть true для активного таймера")
	}
	if s.cancel("a") {
		t.Error("повторный cancel должен вернуть false")
	}

	select {
	case path := <-s.out:
		t.Fatalf("отменённый таймер сработал для %q", path)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestSettler_StopIdempotent(t *testing.T) {
	s := newSettler(time.Millisecond)
	s.arm("a")
	s.stop()
	s.stop()
	s.arm("b")
	if s.pending() != 0 {
		t.Error("после stop таймеры не должны создаваться")
	}
}
