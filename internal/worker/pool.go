// Пакет worker — пул воркеров с упорядочиванием по ключу.
//
// Каждый воркер владеет собственной FIFO-очередью. Задача направляется
// воркеру по FNV-хэшу ключа, поэтому задачи с одним ключом выполняются
// строго в порядке постановки, а задачи с разными ключами — параллельно.
package worker

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
)

// Job — задача пула.
type Job func(ctx context.Context)

type task struct {
	key string
	job Job
}

// Pool — пул воркеров с очередью на каждый воркер.
type Pool struct {
	queues []chan task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool создаёт пул из workers воркеров; depth — ёмкость очереди воркера.
// Переполненная очередь блокирует Submit (backpressure).
func NewPool(workers, depth int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queues: make([]chan task, workers),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(slog.String("component", "worker_pool")),
	}
	for i := range p.queues {
		p.queues[i] = make(chan task, depth)
	}
	return p
}

// Start запускает воркеры.
func (p *Pool) Start() {
	for i := range p.queues {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit ставит задачу в очередь воркера, соответствующего ключу.
// Блокируется при переполнении очереди. Возвращает false, если пул
// закрыт или ctx отменён до постановки.
func (p *Pool) Submit(ctx context.Context, key string, job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}

	select {
	case p.queues[p.slot(key)] <- task{key: key, job: job}:
		return true
	case <-ctx.Done():
		return false
	case <-p.ctx.Done():
		return false
	}
}

// Shutdown прекращает приём задач, дожидается выполнения уже поставленных
// и останавливает воркеры. Повторный вызов — no-op.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

// Abort отменяет контекст задач и останавливает пул без ожидания очереди.
func (p *Pool) Abort() {
	p.cancel()
	p.Shutdown()
}

// Size возвращает количество воркеров.
func (p *Pool) Size() int {
	return len(p.queues)
}

func (p *Pool) slot(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.queues)))
}

// worker выполняет задачи своей очереди до её закрытия.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for t := range p.queues[id] {
		if p.ctx.Err() != nil {
			p.logger.Debug("Задача пропущена: пул остановлен",
				slog.Int("worker_id", id),
				slog.String("key", t.key),
			)
			continue
		}
		p.run(id, t)
	}
}

// run выполняет задачу, перехватывая панику, чтобы не потерять воркер.
func (p *Pool) run(id int, t task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Паника в задаче",
				slog.Int("worker_id", id),
				slog.String("key", t.key),
				slog.Any("panic", r),
			)
		}
	}()
	t.job(p.ctx)
}
