package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/event"
	"github.com/bigkaa/goartstore/file-manager/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/queue"
	"github.com/bigkaa/goartstore/file-manager/internal/reconcile"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/journal"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/memstore"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/store"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/uploads"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// notification — опубликованное уведомление.
type notification struct {
	topic, operation string
	data             any
}

// recorder запоминает опубликованные уведомления.
type recorder struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recorder) Publish(topic, operation string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{topic, operation, data})
}

func (r *recorder) all() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification(nil), r.sent...)
}

type testEnv struct {
	store    *memstore.Store
	uploads  *uploads.Dir
	watchDir string
	journal  *journal.Journal
	queue    *queue.Memory
	pub      *recorder
	mgr      *Manager
}

// setupEnv создаёт Manager над очередью в памяти.
func setupEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()

	dir, err := uploads.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка открытия директории загрузок: %v", err)
	}
	j, err := journal.New(filepath.Join(t.TempDir(), "journal"), testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания журнала: %v", err)
	}
	env := &testEnv{
		store:    memstore.New(),
		uploads:  dir,
		watchDir: t.TempDir(),
		journal:  j,
		queue:    queue.NewMemory(),
		pub:      &recorder{},
	}

	opts := Options{
		Store:    env.store,
		Uploads:  env.uploads,
		WatchDir: env.watchDir,
		Journal:  env.journal,
		Launch: func(context.Context) (queue.Source, error) {
			return env.queue, nil
		},
		Publisher:    env.pub,
		Workers:      4,
		AliveTimeout: 2 * time.Second,
		Allocator:    uploads.Allocator{Prefix: func() string { return "abcd1234" }, MaxAttempts: 1},
		Logger:       testLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}

	env.mgr, err = New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		env.mgr.Close(ctx)
	})
	return env
}

func (e *testEnv) put(t *testing.T, events ...event.Event) {
	t.Helper()
	for _, ev := range events {
		if err := e.queue.Put(ev); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	if err := e.mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (e *testEnv) get(id string) *model.FileRecord {
	rec, err := e.store.Get(context.Background(), id)
	if err != nil {
		return nil
	}
	return rec
}

func file(name string, size int64) event.File {
	return event.File{Filename: name, Size: size, Modified: time.Now().UTC()}
}

// TestCreateClose_Scenario: alive → create x (0) → close x (11) над
// заготовкой x даёт ready-запись размера 11 и одно уведомление.
func TestCreateClose_Scenario(t *testing.T) {
	env := setupEnv(t, nil)
	if err := env.store.Insert(context.Background(), model.NewPlaceholder("x", "x", nil, time.Now())); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	env.put(t,
		event.Alive{},
		event.Create{File: file("x", 0)},
		event.Close{File: file("x", 11)},
	)

	if env.mgr.Alive() {
		t.Fatal("Alive должен быть false до Start")
	}
	env.start(t)
	if !env.mgr.Alive() {
		t.Fatal("Alive должен быть true после Start")
	}

	require.Eventually(t, func() bool {
		rec := env.get("x")
		return rec != nil && rec.Ready
	}, 2*time.Second, 5*time.Millisecond)

	rec := env.get("x")
	if !rec.Created || rec.Size == nil || *rec.Size != 11 {
		t.Errorf("ожидалась запись created=true size=11: %+v", rec)
	}

	require.Eventually(t, func() bool { return len(env.pub.all()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	sent := env.pub.all()
	if len(sent) != 1 {
		t.Fatalf("ожидалось одно уведомление, получено %d", len(sent))
	}
	want := FileUpdate{ID: "x", Ready: true, Size: 11}
	if sent[0].topic != TopicFiles || sent[0].operation != OperationUpdate || sent[0].data != want {
		t.Errorf("неверное уведомление: %+v", sent[0])
	}
}

// TestDelete: событие delete удаляет запись.
func TestDelete(t *testing.T) {
	env := setupEnv(t, nil)
	rec := model.NewPlaceholder("a.dat", "a.dat", nil, time.Now())
	rec.MarkReady(3)
	if err := env.store.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := os.WriteFile(env.uploads.FullPath("a.dat"), []byte("abc"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	env.put(t, event.Alive{})
	env.start(t)
	env.put(t, event.Delete{Filename: "a.dat"})

	require.Eventually(t, func() bool { return env.get("a.dat") == nil }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(env.pub.all()) == 1 }, time.Second, 5*time.Millisecond)
	if n := env.pub.all()[0]; n.operation != OperationRemove || n.data != (FileRemove{ID: "a.dat"}) {
		t.Errorf("неверное уведомление: %+v", n)
	}
}

// TestUnknownRecordDropped: события без записи не создают записей и не публикуют уведомлений.
func TestUnknownRecordDropped(t *testing.T) {
	env := setupEnv(t, nil)
	env.put(t,
		event.Alive{},
		event.Create{File: file("ghost", 0)},
		event.Modify{File: file("ghost", 5)},
		event.Close{File: file("ghost", 10)},
		event.Delete{Filename: "ghost"},
		event.Alive{},
	)
	env.start(t)

	require.Eventually(t, func() bool { return env.queue.Len() == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	if env.store.Count() != 0 {
		t.Errorf("хранилище должно остаться пустым, записей: %d", env.store.Count())
	}
	if len(env.pub.all()) != 0 {
		t.Errorf("уведомления не ожидаются: %+v", env.pub.all())
	}
	if !env.mgr.Alive() {
		t.Error("отброшенные события не должны влиять на Alive")
	}
}

// TestModifyDoesNotMutate: modify не меняет запись.
func TestModifyDoesNotMutate(t *testing.T) {
	env := setupEnv(t, nil)
	if err := env.store.Insert(context.Background(), model.NewPlaceholder("m", "m", nil, time.Now())); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	env.put(t, event.Alive{}, event.Modify{File: file("m", 100)})
	env.start(t)

	require.Eventually(t, func() bool { return env.queue.Len() == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	rec := env.get("m")
	if rec.Created || rec.Ready || rec.Size != nil {
		t.Errorf("modify не должен менять запись: %+v", rec)
	}
}

// TestWatchImport: watch создаёт запись reads и переносит файл.
func TestWatchImport(t *testing.T) {
	env := setupEnv(t, nil)
	src := filepath.Join(env.watchDir, "sample.fq")
	if err := os.WriteFile(src, []byte("@r\nACGT\n+\nIIII\n"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	env.put(t, event.Alive{}, event.Watch{File: file("sample.fq", 15)})
	env.start(t)

	const id = "abcd1234-sample.fq"
	require.Eventually(t, func() bool {
		rec := env.get(id)
		return rec != nil && rec.Ready
	}, 2*time.Second, 5*time.Millisecond)

	rec := env.get(id)
	if rec.Type != model.TypeReads || rec.Name != "sample.fq" || !rec.Created {
		t.Errorf("неверная запись импорта: %+v", rec)
	}
	if rec.Size == nil || *rec.Size != 15 {
		t.Errorf("ожидался размер 15: %+v", rec.Size)
	}
	if rec.Reserved || rec.ExpiresAt != nil || rec.User != nil {
		t.Errorf("reserved/expires_at/user должны быть пустыми: %+v", rec)
	}
	if env.store.Count() != 1 {
		t.Errorf("ожидалась одна запись, получено %d", env.store.Count())
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("исходный файл должен исчезнуть из watch-директории: %v", err)
	}
	if ok, _ := env.uploads.Exists(id); !ok {
		t.Error("файл должен появиться в директории загрузок")
	}

	pending, err := env.journal.Pending()
	if err != nil || len(pending) != 0 {
		t.Errorf("не должно остаться pending записей журнала: %v %v", pending, err)
	}
}

// TestWatchImport_RenamesOnCollision: занятое имя не перезаписывается.
func TestWatchImport_RenamesOnCollision(t *testing.T) {
	var calls atomic.Int32
	env := setupEnv(t, func(o *Options) {
		o.Allocator = uploads.Allocator{
			Prefix: func() string {
				if calls.Add(1) == 1 {
					return "aaaaaaaa"
				}
				return "bbbbbbbb"
			},
		}
	})
	existing := model.NewPlaceholder("aaaaaaaa-r.fq", "r.fq", nil, time.Now())
	existing.MarkReady(1)
	if err := env.store.Insert(context.Background(), existing); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := os.WriteFile(env.uploads.FullPath("aaaaaaaa-r.fq"), []byte("x"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(env.watchDir, "r.fq"), []byte("ACGT"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	env.put(t, event.Alive{}, event.Watch{File: file("r.fq", 4)})
	env.start(t)

	require.Eventually(t, func() bool {
		rec := env.get("bbbbbbbb-r.fq")
		return rec != nil && rec.Ready
	}, 2*time.Second, 5*time.Millisecond)

	old := env.get("aaaaaaaa-r.fq")
	if old == nil || *old.Size != 1 {
		t.Errorf("существующая запись не должна меняться: %+v", old)
	}
	data, err := os.ReadFile(env.uploads.FullPath("aaaaaaaa-r.fq"))
	if err != nil || string(data) != "x" {
		t.Errorf("существующий файл не должен перезаписываться: %q %v", data, err)
	}
}

// TestWatchImport_SourceMissing: событие для исчезнувшего файла ничего не создаёт.
func TestWatchImport_SourceMissing(t *testing.T) {
	env := setupEnv(t, nil)
	env.put(t, event.Alive{}, event.Watch{File: file("gone.fq", 4)})
	env.start(t)

	require.Eventually(t, func() bool { return env.queue.Len() == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	if env.store.Count() != 0 {
		t.Errorf("запись не должна создаваться: %d", env.store.Count())
	}
}

// TestPerFileOrdering: для каждого файла create применяется раньше close.
func TestPerFileOrdering(t *testing.T) {
	env := setupEnv(t, nil)
	ctx := context.Background()
	const n = 50
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("f%02d", i)
		if err := env.store.Insert(ctx, model.NewPlaceholder(name, name, nil, time.Now())); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	env.put(t, event.Alive{})
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("f%02d", i)
		env.put(t,
			event.Create{File: file(name, 0)},
			event.Modify{File: file(name, int64(i))},
			event.Close{File: file(name, int64(i+1))},
		)
	}
	env.start(t)

	require.Eventually(t, func() bool { return len(env.pub.all()) == n }, 3*time.Second, 10*time.Millisecond)
	for i := 0; i < n; i++ {
		rec := env.get(fmt.Sprintf("f%02d", i))
		if rec == nil || !rec.Ready || !rec.Created || *rec.Size != int64(i+1) {
			t.Errorf("неверная запись %d: %+v", i, rec)
		}
	}
}

// TestEventsBeforeAliveDropped: события до alive отбрасываются.
func TestEventsBeforeAliveDropped(t *testing.T) {
	env := setupEnv(t, nil)
	if err := env.store.Insert(context.Background(), model.NewPlaceholder("early", "early", nil, time.Now())); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	env.put(t, event.Close{File: file("early", 5)}, event.Alive{})
	env.start(t)
	time.Sleep(50 * time.Millisecond)

	if rec := env.get("early"); rec.Ready {
		t.Errorf("событие до alive не должно применяться: %+v", rec)
	}
}

// TestAliveTimeout: без сигнала alive Start завершается ошибкой, Alive=false.
func TestAliveTimeout(t *testing.T) {
	env := setupEnv(t, func(o *Options) { o.AliveTimeout = 50 * time.Millisecond })

	err := env.mgr.Start(context.Background())
	if !errors.Is(err, ErrAliveTimeout) {
		t.Fatalf("ожидалась ErrAliveTimeout, получено %v", err)
	}
	if env.mgr.Alive() {
		t.Error("Alive должен оставаться false")
	}
	if env.mgr.State() != lifecycle.StateFailed {
		t.Errorf("ожидалось состояние failed, получено %s", env.mgr.State())
	}
	if err := env.queue.Put(event.Alive{}); !errors.Is(err, queue.ErrClosed) {
		t.Errorf("очередь должна быть закрыта после неудачного старта: %v", err)
	}
	if err := env.mgr.Close(context.Background()); err != nil {
		t.Errorf("Close после неудачного старта: %v", err)
	}
}

// TestWatcherExitedBeforeAlive: закрытая очередь до alive — ошибка старта.
func TestWatcherExitedBeforeAlive(t *testing.T) {
	env := setupEnv(t, nil)
	env.queue.Close()

	if err := env.mgr.Start(context.Background()); !errors.Is(err, ErrWatcherExited) {
		t.Fatalf("ожидалась ErrWatcherExited, получено %v", err)
	}
}

// TestLaunchError: ошибка запуска Watcher возвращается из Start.
func TestLaunchError(t *testing.T) {
	env := setupEnv(t, func(o *Options) {
		o.Launch = func(context.Context) (queue.Source, error) {
			return nil, errors.New("exec: not found")
		}
	})
	if err := env.mgr.Start(context.Background()); err == nil {
		t.Fatal("ожидалась ошибка запуска")
	}
	if env.mgr.Alive() {
		t.Error("Alive должен оставаться false")
	}
}

// TestWatcherExitAfterStart: завершение Watcher сообщается через Failed.
func TestWatcherExitAfterStart(t *testing.T) {
	env := setupEnv(t, nil)
	env.put(t, event.Alive{})
	env.start(t)

	env.queue.Close()

	select {
	case err := <-env.mgr.Failed():
		if !errors.Is(err, ErrWatcherExited) {
			t.Errorf("ожидалась ErrWatcherExited, получено %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Failed не получил ошибку")
	}
	if env.mgr.Alive() {
		t.Error("Alive должен стать false")
	}
	if env.mgr.State() != lifecycle.StateFailed {
		t.Errorf("ожидалось состояние failed, получено %s", env.mgr.State())
	}
}

// TestStartTwice: повторный Start возвращает ErrAlreadyStarted.
func TestStartTwice(t *testing.T) {
	env := setupEnv(t, nil)
	env.put(t, event.Alive{})
	env.start(t)
	if err := env.mgr.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("ожидалась ErrAlreadyStarted, получено %v", err)
	}
}

// TestClose_BeforeStart: Close без Start безопасен и идемпотентен.
func TestClose_BeforeStart(t *testing.T) {
	env := setupEnv(t, nil)
	if err := env.mgr.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := env.mgr.Close(context.Background()); err != nil {
		t.Fatalf("повторный Close: %v", err)
	}
	if env.mgr.State() != lifecycle.StateClosed {
		t.Errorf("ожидалось состояние closed, получено %s", env.mgr.State())
	}
	if err := env.mgr.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start после Close: ожидалась ErrClosed, получено %v", err)
	}
}

// TestClose_AfterStart: Close останавливает обработку и закрывает очередь.
func TestClose_AfterStart(t *testing.T) {
	env := setupEnv(t, nil)
	env.put(t, event.Alive{})
	env.start(t)

	if err := env.mgr.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if env.mgr.Alive() {
		t.Error("Alive должен быть false после Close")
	}
	if err := env.queue.Put(event.Alive{}); !errors.Is(err, queue.ErrClosed) {
		t.Errorf("очередь должна быть закрыта: %v", err)
	}
	select {
	case err := <-env.mgr.Failed():
		t.Errorf("штатная остановка не должна сообщаться как отказ: %v", err)
	default:
	}
}

// TestClose_DuringStart: Close прерывает ожидание alive.
func TestClose_DuringStart(t *testing.T) {
	env := setupEnv(t, func(o *Options) { o.AliveTimeout = time.Minute })

	startErr := make(chan error, 1)
	go func() { startErr <- env.mgr.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		return env.mgr.State() == lifecycle.StateStarting
	}, time.Second, time.Millisecond)

	if err := env.mgr.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-startErr:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("ожидалась ErrClosed, получено %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start не прервался")
	}
	if env.mgr.Alive() {
		t.Error("Alive должен быть false")
	}
}

// fakeReconciler фиксирует вызовы сверки.
type fakeReconciler struct {
	mgr       *Manager
	recovered atomic.Bool
	ran       atomic.Bool
	aliveSeen atomic.Bool
}

func (f *fakeReconciler) Recover(context.Context) (int, error) {
	f.recovered.Store(true)
	return 0, nil
}

func (f *fakeReconciler) RunOnce(context.Context) (*reconcile.Result, bool) {
	f.ran.Store(true)
	f.aliveSeen.Store(f.mgr.Alive())
	return &reconcile.Result{}, false
}

// TestStart_RunsReconcilerBeforeAlive: сверка выполняется до перехода в alive.
func TestStart_RunsReconcilerBeforeAlive(t *testing.T) {
	rec := &fakeReconciler{}
	env := setupEnv(t, func(o *Options) { o.Reconciler = rec })
	rec.mgr = env.mgr
	env.put(t, event.Alive{})
	env.start(t)

	if !rec.recovered.Load() || !rec.ran.Load() {
		t.Fatal("сверка должна выполниться при старте")
	}
	if rec.aliveSeen.Load() {
		t.Error("во время сверки Alive должен быть false")
	}
}

// TestStart_WithReconcileService: полная сверка при старте с реальным сервисом.
func TestStart_WithReconcileService(t *testing.T) {
	env := setupEnv(t, func(o *Options) {
		o.Reconciler = reconcile.New(reconcile.Options{
			Store:    o.Store,
			Uploads:  o.Uploads,
			WatchDir: o.WatchDir,
			Journal:  o.Journal,
			Logger:   testLogger(),
		})
	})
	stale := model.NewPlaceholder("a.dat", "a.dat", nil, time.Now())
	stale.Created = true
	if err := env.store.Insert(context.Background(), stale); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := os.WriteFile(env.uploads.FullPath("b.dat"), []byte("orphan"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	env.put(t, event.Alive{})
	env.start(t)

	if _, err := env.store.Get(context.Background(), "a.dat"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("запись без файла должна быть удалена к завершению Start: %v", err)
	}
	if ok, _ := env.uploads.Exists("b.dat"); ok {
		t.Error("файл без записи должен быть удалён к завершению Start")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("ожидалась ошибка без хранилища")
	}
	if _, err := New(Options{Store: memstore.New()}); err == nil {
		t.Error("ожидалась ошибка без директории загрузок")
	}
}
