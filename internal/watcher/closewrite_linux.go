//go:build linux

package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// uploadsMask — все изменения директории загрузок.
	uploadsMask = unix.IN_CREATE | unix.IN_MODIFY | unix.IN_CLOSE_WRITE |
		unix.IN_DELETE | unix.IN_MOVED_FROM | unix.IN_MOVED_TO
	// watchMask — только завершение записи в watch-директории.
	watchMask = unix.IN_CLOSE_WRITE | unix.IN_MOVED_TO
)

// closeWriteWatcher — отдельный дескриптор inotify, сообщающий
// IN_CLOSE_WRITE: файл закрыт после записи. Директория загрузок
// наблюдается целиком через него, поэтому порядок create → modify →
// close для одного файла сохраняется. Для watch-директории передаётся
// только завершение записи (IN_CLOSE_WRITE, IN_MOVED_TO).
type closeWriteWatcher struct {
	file       *os.File
	dirs       map[int32]string
	uploadsWd  int32
	notices    chan fileNotice
	errs       chan error
	done       chan struct{}
	closeOnce  sync.Once
	closeError error
}

func newCloseWriteWatcher(filesDir, watchDir string) (*closeWriteWatcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}
	// Неблокирующий дескриптор регистрируется в poller рантайма:
	// Close прерывает ожидающий Read.
	w := &closeWriteWatcher{
		file:    os.NewFile(uintptr(fd), "inotify"),
		dirs:    make(map[int32]string, 2),
		notices: make(chan fileNotice, 64),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}

	for _, d := range []struct {
		path string
		mask uint32
	}{{filesDir, uploadsMask}, {watchDir, watchMask}} {
		wd, err := unix.InotifyAddWatch(fd, d.path, d.mask|unix.IN_ONLYDIR)
		if err != nil {
			w.file.Close()
			return nil, fmt.Errorf("inotify_add_watch %s: %w", d.path, err)
		}
		w.dirs[int32(wd)] = d.path
		if d.path == filesDir {
			w.uploadsWd = int32(wd)
		}
	}

	go w.readLoop()
	return w, nil
}

// Notices возвращает уведомления; канал закрывается после Close.
func (w *closeWriteWatcher) Notices() <-chan fileNotice { return w.notices }

// Errors возвращает некритичные ошибки (переполнение очереди inotify).
func (w *closeWriteWatcher) Errors() <-chan error { return w.errs }

// Close освобождает дескриптор inotify. Повторный вызов безопасен.
func (w *closeWriteWatcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.closeError = w.file.Close()
	})
	return w.closeError
}

func (w *closeWriteWatcher) readLoop() {
	defer close(w.notices)

	var buf [unix.SizeofInotifyEvent * 4096]byte
	for {
		n, err := w.file.Read(buf[:])
		if err != nil {
			if !errors.Is(err, os.ErrClosed) {
				w.sendError(fmt.Errorf("чтение inotify: %w", err))
			}
			return
		}
		if !w.parse(buf[:n]) {
			return
		}
	}
}

// parse разбирает пакет событий inotify. Возвращает false после Close.
func (w *closeWriteWatcher) parse(buf []byte) bool {
	for offset := 0; offset+unix.SizeofInotifyEvent <= len(buf); {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		start := offset + unix.SizeofInotifyEvent
		end := start + int(raw.Len)
		if end > len(buf) {
			return true
		}
		name := strings.TrimRight(string(buf[start:end]), "\x00")
		offset = end

		if raw.Mask&unix.IN_Q_OVERFLOW != 0 {
			w.sendError(errors.New("очередь inotify переполнена, часть событий потеряна"))
			continue
		}
		dir, ok := w.dirs[raw.Wd]
		if !ok || name == "" || raw.Mask&unix.IN_ISDIR != 0 {
			continue
		}

		path := filepath.Join(dir, name)
		for _, op := range noticeOps(raw.Mask, raw.Wd == w.uploadsWd) {
			select {
			case w.notices <- fileNotice{Path: path, Op: op}:
			case <-w.done:
				return false
			}
		}
	}
	return true
}

// noticeOps переводит маску inotify в операции. Перемещённый в
// директорию файл уже записан: для загрузок это create и close подряд.
func noticeOps(mask uint32, uploads bool) []fileOp {
	if !uploads {
		if mask&(unix.IN_CLOSE_WRITE|unix.IN_MOVED_TO) != 0 {
			return []fileOp{opCloseWrite}
		}
		return nil
	}
	switch {
	case mask&unix.IN_CREATE != 0:
		return []fileOp{opCreate}
	case mask&unix.IN_MOVED_TO != 0:
		return []fileOp{opCreate, opCloseWrite}
	case mask&unix.IN_MODIFY != 0:
		return []fileOp{opWrite}
	case mask&unix.IN_CLOSE_WRITE != 0:
		return []fileOp{opCloseWrite}
	case mask&(unix.IN_DELETE|unix.IN_MOVED_FROM) != 0:
		return []fileOp{opRemove}
	}
	return nil
}

func (w *closeWriteWatcher) sendError(err error) {
	select {
	case w.errs <- err:
	default:
	}
}
