//go:build !windows

package ownership

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func TestAcquire_Single(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir, testLogger())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	holder := Holder(dir)
	if !strings.Contains(holder, "pid="+strconv.Itoa(os.Getpid())) {
		t.Errorf("info-файл не содержит pid: %q", holder)
	}
}

// TestAcquire_SecondHolderLocked — flock привязан к открытому файлу,
// поэтому второй Acquire в том же процессе тоже получает отказ.
func TestAcquire_SecondHolderLocked(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir, testLogger())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer first.Release()

	second, err := Acquire(dir, testLogger())
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("ожидалась ErrLocked, получено %v", err)
	}
	if second != nil {
		t.Error("второй Lock должен быть nil")
	}
}

func TestRelease_AllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir, testLogger())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	first.Release()
	first.Release()

	if Holder(dir) != "" {
		t.Error("info-файл должен быть удалён после Release")
	}

	second, err := Acquire(dir, testLogger())
	if err != nil {
		t.Fatalf("повторный Acquire: %v", err)
	}
	second.Release()
}

func TestAcquire_MissingDir(t *testing.T) {
	if _, err := Acquire("/nonexistent/state/dir", testLogger()); err == nil {
		t.Fatal("ожидалась ошибка для несуществующей директории")
	}
}
