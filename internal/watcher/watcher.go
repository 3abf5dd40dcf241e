// Пакет watcher — наблюдение за директорией загрузок и watch-директорией.
//
// Watcher переводит уведомления fsnotify в события пакета event и
// отправляет их в queue.Sink. Работает в отдельном процессе ОС
// (подкоманда watch), Process управляет этим процессом со стороны Manager.
//
// Завершение записи на Linux определяется по IN_CLOSE_WRITE отдельного
// дескриптора inotify (fsnotify не предоставляет переносимого
// close-write). На остальных платформах, а также с SettleOnly, close
// выводится из тишины: SettleDelay без новых уведомлений о файле.
// В watch-директории тишина после close-write объединяет повторные
// закрытия в одно событие watch.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/event"
	"github.com/bigkaa/goartstore/file-manager/internal/queue"
)

// Options — параметры Watcher.
type Options struct {
	FilesDir     string
	WatchDir     string
	SettleDelay  time.Duration
	Matcher      Matcher
	ScanExisting bool
	// SettleOnly отключает close-write: завершение записи только по тишине.
	SettleOnly bool
	Logger     *slog.Logger
}

// Watcher наблюдает за двумя директориями.
type Watcher struct {
	filesDir string
	watchDir string
	matcher  Matcher
	scan     bool
	fsw      *fsnotify.Watcher
	cw       *closeWriteWatcher
	settle   *settler
	sink     queue.Sink
	logger   *slog.Logger
}

// New создаёт Watcher и подключает наблюдение за обеими директориями.
// После успешного возврата события файловой системы уже не теряются:
// они буферизуются до вызова Run.
func New(opts Options, sink queue.Sink) (*Watcher, error) {
	if opts.SettleDelay <= 0 {
		return nil, errors.New("SettleDelay должен быть положительным")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	filesDir, err := filepath.Abs(opts.FilesDir)
	if err != nil {
		return nil, fmt.Errorf("директория загрузок: %w", err)
	}
	watchDir, err := filepath.Abs(opts.WatchDir)
	if err != nil {
		return nil, fmt.Errorf("watch-директория: %w", err)
	}

	var cw *closeWriteWatcher
	if !opts.SettleOnly {
		cw, err = newCloseWriteWatcher(filesDir, watchDir)
		switch {
		case errors.Is(err, errors.ErrUnsupported):
			cw = nil
		case err != nil:
			return nil, fmt.Errorf("ошибка подключения close-write: %w", err)
		}
	}

	// Директорию загрузок fsnotify наблюдает только без close-write
	dirs := []string{watchDir}
	if cw == nil {
		dirs = append(dirs, filesDir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		if cw != nil {
			cw.Close()
		}
		return nil, fmt.Errorf("ошибка создания fsnotify: %w", err)
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			if cw != nil {
				cw.Close()
			}
			return nil, fmt.Errorf("ошибка подключения наблюдения за %s: %w", dir, err)
		}
	}

	return &Watcher{
		filesDir: filesDir,
		watchDir: watchDir,
		matcher:  opts.Matcher,
		scan:     opts.ScanExisting,
		fsw:      fsw,
		cw:       cw,
		settle:   newSettler(opts.SettleDelay),
		sink:     sink,
		logger:   logger.With(slog.String("component", "watcher")),
	}, nil
}

// Run отправляет сигнал alive и обрабатывает уведомления до отмены ctx.
// Ошибка отправки в очередь (потребитель исчез) завершает Run.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.settle.stop()
	defer w.fsw.Close()

	var (
		notices    <-chan fileNotice
		noticeErrs <-chan error
	)
	if w.cw != nil {
		defer w.cw.Close()
		notices = w.cw.Notices()
		noticeErrs = w.cw.Errors()
	}

	if err := w.sink.Put(event.Alive{}); err != nil {
		return fmt.Errorf("ошибка отправки alive: %w", err)
	}
	w.logger.Info("Watcher запущен",
		slog.String("files_dir", w.filesDir),
		slog.String("watch_dir", w.watchDir),
		slog.Bool("close_write", w.cw != nil),
	)

	if w.scan {
		w.scanWatchDir()
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Watcher остановлен")
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("канал событий fsnotify закрыт")
			}
			if err := w.handle(ev); err != nil {
				return err
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("канал ошибок fsnotify закрыт")
			}
			w.logger.Warn("Ошибка fsnotify", slog.String("error", err.Error()))

		case n, ok := <-notices:
			if !ok {
				return errors.New("канал уведомлений close-write закрыт")
			}
			if err := w.handleNotice(n); err != nil {
				return err
			}

		case err := <-noticeErrs:
			w.logger.Warn("Ошибка inotify", slog.String("error", err.Error()))

		case path := <-w.settle.out:
			if err := w.settled(path); err != nil {
				return err
			}
		}
	}
}

// scanWatchDir ставит на ожидание файлы прочтений, уже лежащие в watch-директории.
func (w *Watcher) scanWatchDir() {
	entries, err := os.ReadDir(w.watchDir)
	if err != nil {
		w.logger.Warn("Не удалось просканировать watch-директорию", slog.String("error", err.Error()))
		return
	}
	for _, de := range entries {
		if de.Type().IsRegular() && w.matcher.Match(de.Name()) {
			w.settle.arm(filepath.Join(w.watchDir, de.Name()))
		}
	}
}

// handle классифицирует уведомление fsnotify.
func (w *Watcher) handle(ev fsnotify.Event) error {
	switch filepath.Dir(ev.Name) {
	case w.filesDir:
		return w.handleUpload(ev)
	case w.watchDir:
		w.handleWatch(ev)
	}
	return nil
}

// handleUpload — директория загрузок без close-write: create, modify,
// delete сразу, close — по истечении тишины.
func (w *Watcher) handleUpload(ev fsnotify.Event) error {
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.settle.cancel(ev.Name)
		return w.upload(ev.Name, opRemove)
	case ev.Has(fsnotify.Create):
		w.settle.arm(ev.Name)
		return w.upload(ev.Name, opCreate)
	case ev.Has(fsnotify.Write):
		w.settle.arm(ev.Name)
		return w.upload(ev.Name, opWrite)
	}
	return nil
}

// handleWatch — watch-директория: только файлы прочтений, событие
// отправляется по завершении записи. С close-write таймер запускается
// уведомлением о закрытии, fsnotify только отменяет ожидание.
func (w *Watcher) handleWatch(ev fsnotify.Event) {
	if !w.matcher.Match(ev.Name) {
		return
	}

	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.settle.cancel(ev.Name)
	case w.cw != nil:
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		w.settle.arm(ev.Name)
	}
}

// handleNotice обрабатывает уведомление close-write.
func (w *Watcher) handleNotice(n fileNotice) error {
	switch filepath.Dir(n.Path) {
	case w.filesDir:
		return w.upload(n.Path, n.Op)
	case w.watchDir:
		if n.Op == opCloseWrite && w.matcher.Match(n.Path) {
			w.settle.arm(n.Path)
		}
	}
	return nil
}

// upload отправляет событие директории загрузок.
func (w *Watcher) upload(path string, op fileOp) error {
	if op == opRemove {
		return w.put(event.Delete{Filename: filepath.Base(path)})
	}
	f, ok := w.stat(path)
	if !ok {
		return nil
	}
	switch op {
	case opCreate:
		return w.put(event.Create{File: f})
	case opWrite:
		return w.put(event.Modify{File: f})
	default:
		return w.put(event.Close{File: f})
	}
}

// settled обрабатывает истечение тишины для пути.
func (w *Watcher) settled(path string) error {
	switch filepath.Dir(path) {
	case w.filesDir:
		return w.upload(path, opCloseWrite)
	case w.watchDir:
		f, ok := w.stat(path)
		if !ok {
			return nil
		}
		return w.put(event.Watch{File: f})
	}
	return nil
}

// stat возвращает описание обычного файла. Ошибки (файл исчез,
// нет прав) подавляются: уведомление не порождает события.
func (w *Watcher) stat(path string) (event.File, bool) {
	info, err := os.Stat(path)
	if err != nil {
		w.logger.Debug("Уведомление пропущено: ошибка stat",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return event.File{}, false
	}
	if !info.Mode().IsRegular() {
		return event.File{}, false
	}
	return event.File{
		Filename: filepath.Base(path),
		Size:     info.Size(),
		Modified: info.ModTime().UTC(),
	}, true
}

func (w *Watcher) put(ev event.Event) error {
	if err := w.sink.Put(ev); err != nil {
		return fmt.Errorf("ошибка отправки события %s: %w", ev.Action(), err)
	}
	w.logger.Debug("Событие отправлено",
		slog.String("action", string(ev.Action())),
		slog.String("filename", ev.Key()),
	)
	return nil
}
