// Пакет manager — потребитель событий Watcher.
//
// Manager запускает Watcher, дожидается сигнала alive, выполняет сверку
// и затем в фоне применяет события к хранилищу записей. Блокирующие
// операции (хранилище, перенос файлов) выполняются пулом воркеров;
// события одного файла обрабатываются строго в порядке поступления.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/event"
	"github.com/bigkaa/goartstore/file-manager/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/file-manager/internal/queue"
	"github.com/bigkaa/goartstore/file-manager/internal/reconcile"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/journal"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/store"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/uploads"
	"github.com/bigkaa/goartstore/file-manager/internal/worker"
)

// Ошибки Manager.
var (
	// ErrAlreadyStarted — Start уже вызывался.
	ErrAlreadyStarted = errors.New("manager уже запущен")
	// ErrClosed — Manager закрыт.
	ErrClosed = errors.New("manager закрыт")
	// ErrAliveTimeout — Watcher не прислал alive за отведённое время.
	ErrAliveTimeout = errors.New("watcher не сообщил о готовности")
	// ErrWatcherExited — процесс Watcher завершился.
	ErrWatcherExited = errors.New("watcher завершился")
)

const (
	defaultWorkers      = 4
	defaultQueueDepth   = 64
	defaultAliveTimeout = 10 * time.Second
)

// LaunchFunc запускает Watcher и возвращает потребительский конец очереди.
type LaunchFunc func(ctx context.Context) (queue.Source, error)

// Publisher — получатель уведомлений об изменении записей.
type Publisher interface {
	Publish(topic, operation string, data any)
}

// Reconciler — сверка, выполняемая при старте.
type Reconciler interface {
	Recover(ctx context.Context) (int, error)
	RunOnce(ctx context.Context) (*reconcile.Result, bool)
}

// Options — параметры Manager.
type Options struct {
	Store    store.Store
	Uploads  *uploads.Dir
	WatchDir string
	// Journal — журнал импорта. nil — импорт без журнала.
	Journal *journal.Journal
	Launch  LaunchFunc
	// Reconciler — nil отключает сверку при старте.
	Reconciler Reconciler
	// Publisher — nil отключает уведомления.
	Publisher    Publisher
	Workers      int
	AliveTimeout time.Duration
	Allocator    uploads.Allocator
	Now          func() time.Time
	Logger       *slog.Logger
}

// Manager — владелец потребительского конца очереди событий.
// Создаётся явно и передаётся слоям, которым он нужен; Start и Close —
// единственные точки изменения его состояния.
type Manager struct {
	store        store.Store
	uploads      *uploads.Dir
	watchDir     string
	journal      *journal.Journal
	launch       LaunchFunc
	reconciler   Reconciler
	publisher    Publisher
	workers      int
	aliveTimeout time.Duration
	allocator    uploads.Allocator
	now          func() time.Time
	logger       *slog.Logger

	sm    *lifecycle.StateMachine
	alive atomic.Bool

	mu          sync.Mutex
	started     bool
	closed      bool
	startCancel context.CancelFunc
	startDone   chan struct{}
	source      queue.Source
	pool        *worker.Pool
	loopCancel  context.CancelFunc
	loopDone    chan struct{}

	failed chan error
}

// New создаёт Manager. Watcher не запускается до вызова Start.
func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("не задано хранилище записей")
	}
	if opts.Uploads == nil {
		return nil, errors.New("не задана директория загрузок")
	}
	if opts.Launch == nil {
		return nil, errors.New("не задан запуск Watcher")
	}

	m := &Manager{
		store:        opts.Store,
		uploads:      opts.Uploads,
		watchDir:     opts.WatchDir,
		journal:      opts.Journal,
		launch:       opts.Launch,
		reconciler:   opts.Reconciler,
		publisher:    opts.Publisher,
		workers:      opts.Workers,
		aliveTimeout: opts.AliveTimeout,
		allocator:    opts.Allocator,
		now:          opts.Now,
		logger:       opts.Logger,
		sm:           lifecycle.NewStateMachine(),
		failed:       make(chan error, 1),
	}
	if m.workers <= 0 {
		m.workers = defaultWorkers
	}
	if m.aliveTimeout <= 0 {
		m.aliveTimeout = defaultAliveTimeout
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With(slog.String("component", "manager"))
	return m, nil
}

// Alive возвращает true между успешным Start и Close (или отказом Watcher).
func (m *Manager) Alive() bool {
	return m.alive.Load()
}

// State возвращает текущее состояние жизненного цикла.
func (m *Manager) State() lifecycle.State {
	return m.sm.Current()
}

// History возвращает историю переходов состояния.
func (m *Manager) History() []lifecycle.TransitionRecord {
	return m.sm.History()
}

// Failed возвращает канал, в который отправляется ошибка при
// неожиданном завершении Watcher после успешного старта.
func (m *Manager) Failed() <-chan error {
	return m.failed
}

// Start запускает Watcher, дожидается сигнала alive (не дольше
// AliveTimeout), выполняет сверку и запускает фоновую обработку событий.
// Повторный вызов возвращает ErrAlreadyStarted.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	startCtx, cancel := context.WithCancel(ctx)
	m.startCancel = cancel
	m.startDone = make(chan struct{})
	startDone := m.startDone
	m.mu.Unlock()

	defer close(startDone)
	defer cancel()

	if err := m.sm.TransitionTo(lifecycle.StateStarting, "start"); err != nil {
		return err
	}
	m.logger.Info("Запуск Watcher")

	src, err := m.launch(startCtx)
	if err != nil {
		m.failStart(nil, "ошибка запуска watcher")
		return fmt.Errorf("ошибка запуска Watcher: %w", err)
	}

	if err := m.waitAlive(startCtx, src); err != nil {
		m.failStart(src, err.Error())
		if m.isClosed() {
			return ErrClosed
		}
		return err
	}
	m.logger.Info("Watcher сообщил о готовности")

	m.runReconciler(startCtx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.source = src
		return ErrClosed
	}

	loopCtx, loopCancel := context.WithCancel(context.WithoutCancel(ctx))
	m.source = src
	m.pool = worker.NewPool(m.workers, defaultQueueDepth, m.logger)
	m.pool.Start()
	m.loopCancel = loopCancel
	m.loopDone = make(chan struct{})
	go m.consume(loopCtx, src, m.pool, m.loopDone)

	if err := m.sm.TransitionTo(lifecycle.StateAlive, "alive"); err != nil {
		return err
	}
	m.alive.Store(true)
	managerAlive.Set(1)

	m.logger.Info("Manager запущен", slog.Int("workers", m.workers))
	return nil
}

// waitAlive вычитывает очередь до сигнала alive.
func (m *Manager) waitAlive(ctx context.Context, src queue.Source) error {
	waitCtx, cancel := context.WithTimeout(ctx, m.aliveTimeout)
	defer cancel()

	for {
		ev, err := src.Get(waitCtx)
		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return fmt.Errorf("%w за %s", ErrAliveTimeout, m.aliveTimeout)
		case errors.Is(err, queue.ErrClosed):
			return fmt.Errorf("%w до сигнала alive: %w", ErrWatcherExited, err)
		default:
			return err
		}

		if _, ok := ev.(event.Alive); ok {
			return nil
		}
		m.logger.Warn("Событие до сигнала alive отброшено",
			slog.String("action", string(ev.Action())),
			slog.String("filename", ev.Key()),
		)
	}
}

// failStart закрывает очередь и переводит Manager в failed.
func (m *Manager) failStart(src queue.Source, reason string) {
	if src != nil {
		if err := src.Close(); err != nil {
			m.logger.Warn("Ошибка закрытия очереди", slog.String("error", err.Error()))
		}
	}
	if err := m.sm.TransitionTo(lifecycle.StateFailed, reason); err != nil {
		m.logger.Debug("Переход в failed пропущен", slog.String("error", err.Error()))
	}
	m.logger.Error("Запуск Manager не удался", slog.String("reason", reason))
}

func (m *Manager) runReconciler(ctx context.Context) {
	if m.reconciler == nil {
		return
	}
	if _, err := m.reconciler.Recover(ctx); err != nil {
		m.logger.Error("Ошибка восстановления импортов", slog.String("error", err.Error()))
	}
	if _, skipped := m.reconciler.RunOnce(ctx); skipped {
		m.logger.Warn("Сверка при старте пропущена: уже выполняется")
	}
}

// consume — цикл обработки событий.
func (m *Manager) consume(ctx context.Context, src queue.Source, pool *worker.Pool, done chan struct{}) {
	defer close(done)

	for {
		ev, err := src.Get(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.watcherFailed(err)
			return
		}
		m.dispatch(ctx, pool, ev)
	}
}

// dispatch передаёт событие в пул с ключом по имени файла.
func (m *Manager) dispatch(ctx context.Context, pool *worker.Pool, ev event.Event) {
	var job worker.Job
	switch e := ev.(type) {
	case event.Alive:
		m.logger.Debug("Повторный сигнал alive")
		return
	case event.Create:
		job = func(ctx context.Context) { m.handleCreate(ctx, e) }
	case event.Modify:
		job = func(ctx context.Context) { m.handleModify(ctx, e) }
	case event.Close:
		job = func(ctx context.Context) { m.handleClose(ctx, e) }
	case event.Delete:
		job = func(ctx context.Context) { m.handleDelete(ctx, e) }
	case event.Watch:
		job = func(ctx context.Context) { m.handleWatch(ctx, e) }
	default:
		m.logger.Error("Неизвестный тип события", slog.String("type", fmt.Sprintf("%T", ev)))
		return
	}

	if !pool.Submit(ctx, ev.Key(), job) {
		m.logger.Warn("Событие не принято: обработка остановлена",
			slog.String("action", string(ev.Action())),
			slog.String("filename", ev.Key()),
		)
	}
}

// watcherFailed фиксирует неожиданное завершение Watcher.
func (m *Manager) watcherFailed(cause error) {
	err := fmt.Errorf("%w: %w", ErrWatcherExited, cause)
	m.alive.Store(false)
	managerAlive.Set(0)
	if tErr := m.sm.TransitionTo(lifecycle.StateFailed, cause.Error()); tErr != nil {
		m.logger.Debug("Переход в failed пропущен", slog.String("error", tErr.Error()))
	}
	m.logger.Error("Watcher завершился, события больше не обрабатываются",
		slog.String("error", cause.Error()),
	)
	select {
	case m.failed <- err:
	default:
	}
}

// Close останавливает обработку событий, дожидается выполнения
// поставленных задач (не дольше, чем позволяет ctx) и завершает Watcher.
// Безопасен до Start, во время Start и при повторном вызове.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	startCancel, startDone := m.startCancel, m.startDone
	m.mu.Unlock()

	m.alive.Store(false)
	managerAlive.Set(0)

	// Прерываем Start, если он ещё выполняется
	if startCancel != nil {
		startCancel()
		<-startDone
	}

	m.mu.Lock()
	src, pool, loopCancel, loopDone := m.source, m.pool, m.loopCancel, m.loopDone
	m.mu.Unlock()

	if loopCancel != nil {
		loopCancel()
		<-loopDone
	}

	var errs []error
	if pool != nil {
		drained := make(chan struct{})
		go func() {
			pool.Shutdown()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
			m.logger.Warn("Таймаут ожидания задач, отмена")
			pool.Abort()
			<-drained
			errs = append(errs, ctx.Err())
		}
	}

	if src != nil {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ошибка остановки Watcher: %w", err))
		}
	}

	if err := m.sm.TransitionTo(lifecycle.StateClosed, "close"); err != nil {
		errs = append(errs, err)
	}
	m.logger.Info("Manager остановлен")
	return errors.Join(errs...)
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
