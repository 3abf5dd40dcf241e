// Пакет reconcile — сверка директории загрузок с хранилищем записей.
//
// Сверка устраняет расхождения, накопленные за время простоя или после
// аварийного завершения:
//   - recovery: незавершённые импорты из журнала доводятся или откатываются
//   - expiry: записи с истёкшим expires_at (не reserved) удаляются вместе с файлом
//   - orphan_file: файл на диске без записи или с записью created=false
//   - stale_record: запись без файла на диске (включая created=false)
//
// Обе чистки — разности множеств и идемпотентны.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/atomicfile"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/journal"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/store"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/uploads"
)

// Prometheus метрики сверки
var (
	// reconcileRunsTotal — количество запусков сверки.
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_reconcile_runs_total",
		Help: "Общее количество запусков сверки",
	})

	// reconcileRemovedTotal — количество устранённых расхождений по типу.
	reconcileRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fm_reconcile_removed_total",
		Help: "Общее количество расхождений, устранённых сверкой",
	}, []string{"kind"})

	// reconcileDurationSeconds — длительность сверки.
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fm_reconcile_duration_seconds",
		Help:    "Длительность выполнения сверки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// Типы расхождений (значения метки kind).
const (
	KindExpired     = "expired"
	KindOrphanFile  = "orphan_file"
	KindStaleRecord = "stale_record"
)

// Result — результат одного запуска сверки.
type Result struct {
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	// FilesChecked — количество файлов в директории загрузок
	FilesChecked int `json:"files_checked"`
	// RecordsChecked — количество записей в хранилище
	RecordsChecked int `json:"records_checked"`
	// Expired — удалено записей с истёкшим сроком
	Expired int `json:"expired"`
	// OrphanFiles — удалено файлов без подтверждённой записи
	OrphanFiles int `json:"orphan_files"`
	// StaleRecords — удалено записей без файла
	StaleRecords int `json:"stale_records"`
	// Errors — количество ошибок (сверка продолжается)
	Errors int `json:"errors"`
}

// Changed сообщает, изменила ли сверка что-либо.
func (r *Result) Changed() bool {
	return r.Expired+r.OrphanFiles+r.StaleRecords > 0
}

// Options — параметры сервиса сверки.
type Options struct {
	Store   store.Store
	Uploads *uploads.Dir
	// WatchDir — watch-директория; нужна для восстановления импортов.
	WatchDir string
	// Journal — журнал импорта. nil — восстановление не выполняется.
	Journal *journal.Journal
	// Interval — период фоновой сверки; 0 — только по запросу.
	Interval time.Duration
	// Grace — файлы моложе Grace не считаются осиротевшими.
	Grace  time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

// Service — сервис сверки.
type Service struct {
	store    store.Store
	uploads  *uploads.Dir
	watchDir string
	journal  *journal.Journal
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu        sync.Mutex
	inProcess bool
	last      *Result
	cancel    context.CancelFunc
	done      chan struct{}
}

// New создаёт сервис сверки.
func New(opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    opts.Store,
		uploads:  opts.Uploads,
		watchDir: opts.WatchDir,
		journal:  opts.Journal,
		interval: opts.Interval,
		grace:    opts.Grace,
		now:      now,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую сверку с периодом Interval.
// При Interval <= 0 ничего не делает.
func (s *Service) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.run(runCtx, done)

	s.logger.Info("Фоновая сверка запущена",
		slog.String("interval", s.interval.String()),
	)
}

// Stop останавливает фоновую сверку и дожидается текущего запуска.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Фоновая сверка остановлена")
}

func (s *Service) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// IsInProgress возвращает true, если сверка выполняется.
func (s *Service) IsInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inProcess
}

// Last возвращает результат последней завершённой сверки или nil.
func (s *Service) Last() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

// RunOnce выполняет один цикл сверки.
// Если сверка уже выполняется, возвращает nil, true.
func (s *Service) RunOnce(ctx context.Context) (*Result, bool) {
	s.mu.Lock()
	if s.inProcess {
		s.mu.Unlock()
		s.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true
	}
	s.inProcess = true
	s.mu.Unlock()

	result := s.reconcile(ctx)

	s.mu.Lock()
	s.inProcess = false
	s.last = result
	s.mu.Unlock()

	return result, false
}

func (s *Service) reconcile(ctx context.Context) *Result {
	result := &Result{StartedAt: s.now()}
	started := time.Now()

	// Файлы импортов в процессе не трогаем
	inFlight := s.inFlight()

	s.expire(ctx, result, inFlight)
	s.cleanDirectory(ctx, result, inFlight)
	s.cleanRecords(ctx, result, inFlight)

	result.CompletedAt = s.now()
	duration := time.Since(started)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	reconcileRemovedTotal.WithLabelValues(KindExpired).Add(float64(result.Expired))
	reconcileRemovedTotal.WithLabelValues(KindOrphanFile).Add(float64(result.OrphanFiles))
	reconcileRemovedTotal.WithLabelValues(KindStaleRecord).Add(float64(result.StaleRecords))

	s.logger.Info("Сверка завершена",
		slog.Int("files_checked", result.FilesChecked),
		slog.Int("records_checked", result.RecordsChecked),
		slog.Int("expired", result.Expired),
		slog.Int("orphan_files", result.OrphanFiles),
		slog.Int("stale_records", result.StaleRecords),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", duration),
	)
	return result
}

// inFlight возвращает id записей незавершённых импортов.
func (s *Service) inFlight() map[string]bool {
	ids := make(map[string]bool)
	if s.journal == nil {
		return ids
	}
	pending, err := s.journal.Pending()
	if err != nil {
		s.logger.Warn("Не удалось прочитать журнал импорта", slog.String("error", err.Error()))
		return ids
	}
	for _, e := range pending {
		ids[e.FileID] = true
	}
	return ids
}

// expire удаляет записи с истёкшим сроком хранения вместе с файлами.
func (s *Service) expire(ctx context.Context, result *Result, inFlight map[string]bool) {
	records, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error("Ошибка получения списка записей", slog.String("error", err.Error()))
		result.Errors++
		return
	}

	now := s.now()
	for _, rec := range records {
		if inFlight[rec.ID] || rec.Reserved || !rec.IsExpired(now) {
			continue
		}
		if err := s.uploads.Remove(rec.ID); err != nil {
			s.logger.Error("Ошибка удаления файла с истёкшим сроком",
				slog.String("id", rec.ID),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		if err := s.store.Delete(ctx, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("Ошибка удаления записи с истёкшим сроком",
				slog.String("id", rec.ID),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		result.Expired++
		s.logger.Info("Удалён файл с истёкшим сроком хранения", slog.String("id", rec.ID))
	}
}

// cleanDirectory удаляет файлы без записи или с записью created=false.
func (s *Service) cleanDirectory(ctx context.Context, result *Result, inFlight map[string]bool) {
	entries, err := s.uploads.List()
	if err != nil {
		s.logger.Error("Ошибка чтения директории загрузок", slog.String("error", err.Error()))
		result.Errors++
		return
	}
	result.FilesChecked = len(entries)

	cutoff := s.now().Add(-s.grace)
	for _, entry := range entries {
		id := strings.TrimSuffix(entry.Name, atomicfile.TempSuffix)
		if inFlight[id] {
			continue
		}
		if s.grace > 0 && entry.ModTime.After(cutoff) {
			continue
		}

		rec, err := s.store.Get(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			s.logger.Error("Ошибка чтения записи",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		case rec.Created && !uploads.IsTemp(entry.Name):
			continue
		}

		if err := s.uploads.Remove(entry.Name); err != nil {
			s.logger.Error("Ошибка удаления осиротевшего файла",
				slog.String("file", entry.Name),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		result.OrphanFiles++
		s.logger.Info("Удалён осиротевший файл", slog.String("file", entry.Name))
	}
}

// cleanRecords удаляет записи, для которых нет файла, в том числе
// placeholder (created=false). С grace свежие записи пропускаются:
// загрузка могла ещё не начаться.
func (s *Service) cleanRecords(ctx context.Context, result *Result, inFlight map[string]bool) {
	records, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error("Ошибка получения списка записей", slog.String("error", err.Error()))
		result.Errors++
		return
	}
	result.RecordsChecked = len(records)

	cutoff := s.now().Add(-s.grace)
	for _, rec := range records {
		if inFlight[rec.ID] {
			continue
		}
		if s.grace > 0 && rec.UploadedAt.After(cutoff) {
			continue
		}
		exists, err := s.uploads.Exists(rec.ID)
		if err != nil {
			s.logger.Error("Ошибка проверки файла",
				slog.String("id", rec.ID),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		if exists {
			continue
		}
		if err := s.store.Delete(ctx, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("Ошибка удаления записи без файла",
				slog.String("id", rec.ID),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		result.StaleRecords++
		s.logger.Info("Удалена запись без файла", slog.String("id", rec.ID))
	}
}

// Recover обрабатывает незавершённые импорты из журнала. Вызывается при
// старте, до начала обработки событий: импорт, дошедший до переноса файла,
// завершается, остальные откатываются (исходный файл остаётся в
// watch-директории). Возвращает количество обработанных записей журнала.
func (s *Service) Recover(ctx context.Context) (int, error) {
	if s.journal == nil {
		return 0, nil
	}
	pending, err := s.journal.Pending()
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения журнала импорта: %w", err)
	}

	var errs []error
	for _, entry := range pending {
		if err := s.recoverEntry(ctx, entry); err != nil {
			s.logger.Error("Ошибка восстановления импорта",
				slog.String("tx_id", entry.TransactionID),
				slog.String("file_id", entry.FileID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}

	if cleaned, err := s.journal.CleanCompleted(); err != nil {
		errs = append(errs, err)
	} else if cleaned > 0 {
		s.logger.Debug("Удалены завершённые записи журнала", slog.Int("count", cleaned))
	}

	if len(pending) > 0 {
		s.logger.Info("Восстановление импортов завершено",
			slog.Int("pending", len(pending)),
			slog.Int("errors", len(errs)),
		)
	}
	return len(pending), errors.Join(errs...)
}

func (s *Service) recoverEntry(ctx context.Context, entry *journal.Entry) error {
	rec, err := s.store.Get(ctx, entry.FileID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if rec != nil && rec.Ready {
		return s.journal.Commit(entry.TransactionID)
	}

	// Файл перенесён (исходного больше нет) — импорт можно завершить
	if rec != nil && s.moved(entry) {
		size, err := s.uploads.Size(entry.FileID)
		if err != nil {
			return err
		}
		_, err = s.store.Update(ctx, entry.FileID, func(r *model.FileRecord) error {
			r.MarkReady(size)
			return nil
		})
		if err != nil {
			return err
		}
		s.logger.Info("Импорт завершён при восстановлении",
			slog.String("file_id", entry.FileID),
			slog.Int64("size", size),
		)
		return s.journal.Commit(entry.TransactionID)
	}

	if rec != nil {
		if err := s.store.Delete(ctx, entry.FileID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	if err := s.uploads.RemovePartial(entry.FileID); err != nil {
		return err
	}
	s.logger.Info("Импорт откатан при восстановлении",
		slog.String("file_id", entry.FileID),
		slog.String("source", entry.Source),
	)
	return s.journal.Rollback(entry.TransactionID)
}

// moved проверяет, что файл импорта уже в директории загрузок,
// а исходного файла в watch-директории нет.
func (s *Service) moved(entry *journal.Entry) bool {
	exists, err := s.uploads.Exists(entry.FileID)
	if err != nil || !exists {
		return false
	}
	if s.watchDir == "" {
		return false
	}
	_, err = os.Stat(filepath.Join(s.watchDir, entry.Source))
	return errors.Is(err, os.ErrNotExist)
}
