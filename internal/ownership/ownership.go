// Пакет ownership — эксклюзивное владение директорией состояния.
//
// Один экземпляр File Manager на директорию: экземпляр захватывает
// flock() на {stateDir}/.file-manager.lock и записывает в
// {stateDir}/.file-manager.info сведения о себе (hostname, pid, время).
// Второй экземпляр получает ErrLocked и не запускается: два Manager
// над одними директориями сверяли бы записи наперегонки.
package ownership

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	lockFile = ".file-manager.lock"
	infoFile = ".file-manager.info"
)

// ErrLocked — директорией владеет другой процесс.
var ErrLocked = errors.New("директория состояния занята другим экземпляром")

// Lock — захваченная блокировка директории состояния.
type Lock struct {
	dir    string
	logger *slog.Logger

	mu sync.Mutex
	f  *os.File
}

// Acquire пытается захватить блокировку без ожидания.
// Если блокировка занята, возвращает ошибку, обёртывающую ErrLocked,
// с содержимым info-файла текущего владельца.
func Acquire(dir string, logger *slog.Logger) (*Lock, error) {
	lockPath := filepath.Join(dir, lockFile)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть lock-файл %s: %w", lockPath, err)
	}

	if err := tryLock(f); err != nil {
		_ = f.Close()
		if errors.Is(err, errWouldBlock) {
			return nil, fmt.Errorf("%w (владелец: %s)", ErrLocked, Holder(dir))
		}
		return nil, fmt.Errorf("ошибка захвата lock-файла %s: %w", lockPath, err)
	}

	l := &Lock{
		dir:    dir,
		logger: logger.With(slog.String("component", "ownership")),
		f:      f,
	}

	info := buildInfo()
	if err := writeInfo(dir, info); err != nil {
		// Блокировка уже получена, info-файл только справочный
		l.logger.Warn("Ошибка записи info-файла", slog.String("error", err.Error()))
	}

	l.logger.Info("Директория состояния захвачена",
		slog.String("dir", dir),
		slog.String("holder", info),
	)
	return l, nil
}

// Release снимает блокировку. Повторный вызов безопасен.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return
	}
	_ = os.Remove(filepath.Join(l.dir, infoFile))
	_ = unlock(l.f)
	_ = l.f.Close()
	l.f = nil
	l.logger.Info("Lock освобождён")
}

// Holder возвращает сведения о текущем владельце директории.
// Пустая строка — info-файл отсутствует или не читается.
func Holder(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, infoFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func buildInfo() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return fmt.Sprintf("%s pid=%d since=%s", hostname, os.Getpid(), time.Now().UTC().Format(time.RFC3339))
}

// writeInfo записывает info-файл атомарно.
func writeInfo(dir, info string) error {
	infoPath := filepath.Join(dir, infoFile)
	tmpPath := infoPath + ".tmp"

	if err := os.WriteFile(tmpPath, []byte(info+"\n"), 0o640); err != nil {
		return fmt.Errorf("ошибка записи temp info-файла: %w", err)
	}
	if err := os.Rename(tmpPath, infoPath); err != nil {
		return fmt.Errorf("ошибка переименования info-файла: %w", err)
	}
	return nil
}
