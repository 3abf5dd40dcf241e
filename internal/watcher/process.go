package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/event"
	"github.com/bigkaa/goartstore/file-manager/internal/queue"
)

// defaultStopTimeout — ожидание штатного завершения процесса до SIGKILL.
const defaultStopTimeout = 5 * time.Second

// ProcessOptions — параметры запуска процесса Watcher.
type ProcessOptions struct {
	// Path — исполняемый файл (обычно os.Executable()).
	Path string
	// Args — аргументы без имени программы (обычно "watch").
	Args []string
	// Env — дополнительные переменные окружения поверх окружения родителя.
	Env []string
	// Stderr — куда направить журнал процесса. nil — os.Stderr.
	Stderr io.Writer
	// StopTimeout — ожидание каждого этапа остановки.
	StopTimeout time.Duration
	Logger      *slog.Logger
}

// Process — процесс Watcher со стороны Manager.
// Реализует queue.Source: события читаются из stdout процесса.
//
// Процесс завершается сам при закрытии stdin, поэтому аварийное
// завершение родителя не оставляет осиротевший Watcher.
type Process struct {
	cmd         *exec.Cmd
	stream      *queue.Stream
	stdin       *os.File
	stopTimeout time.Duration
	logger      *slog.Logger

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

var _ queue.Source = (*Process)(nil)

// StartProcess запускает процесс Watcher.
func StartProcess(opts ProcessOptions) (*Process, error) {
	if opts.Path == "" {
		return nil, errors.New("не задан исполняемый файл Watcher")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stopTimeout := opts.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	// os.Pipe вместо StdoutPipe: Wait закрывает StdoutPipe, и
	// последние строки могли бы потеряться до их чтения.
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("ошибка создания pipe stdout: %w", err)
	}
	inR, inW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("ошибка создания pipe stdin: %w", err)
	}

	cmd := exec.Command(opts.Path, opts.Args...)
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = stderr
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		inR.Close()
		inW.Close()
		return nil, fmt.Errorf("ошибка запуска Watcher: %w", err)
	}
	// Концы, унаследованные дочерним процессом, родителю не нужны
	outW.Close()
	inR.Close()

	p := &Process{
		cmd:         cmd,
		stdin:       inW,
		stopTimeout: stopTimeout,
		logger:      logger.With(slog.String("component", "watcher_process"), slog.Int("pid", cmd.Process.Pid)),
		done:        make(chan struct{}),
	}
	p.stream = queue.NewStream(outR, outR, logger)

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
		if p.waitErr != nil {
			p.logger.Info("Процесс Watcher завершён", slog.String("status", p.waitErr.Error()))
		} else {
			p.logger.Info("Процесс Watcher завершён")
		}
	}()

	p.logger.Info("Процесс Watcher запущен")
	return p, nil
}

// Get возвращает следующее событие из stdout процесса.
// После завершения процесса и вычитывания stdout — queue.ErrClosed.
func (p *Process) Get(ctx context.Context) (event.Event, error) {
	return p.stream.Get(ctx)
}

// Pid возвращает идентификатор процесса.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done закрывается после завершения процесса.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err возвращает результат Wait. Допустим только после закрытия Done.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}

// Close останавливает процесс: закрытие stdin, затем SIGTERM группе,
// затем SIGKILL. Каждый этап ожидает не дольше StopTimeout.
// Stdout закрывается первым: процесс, заблокированный записью
// в заполненный pipe, получает EPIPE.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		var streamErr error
		if err := p.stream.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			streamErr = err
		}
		p.closeErr = errors.Join(p.stop(), streamErr)
	})
	return p.closeErr
}

func (p *Process) stop() error {
	p.stdin.Close()
	if p.wait(p.stopTimeout) {
		return nil
	}

	p.logger.Warn("Watcher не завершился по закрытию stdin, отправка SIGTERM")
	if err := terminate(p.cmd.Process); err != nil {
		p.logger.Warn("Ошибка отправки SIGTERM", slog.String("error", err.Error()))
	}
	if p.wait(p.stopTimeout) {
		return nil
	}

	p.logger.Warn("Watcher не завершился по SIGTERM, отправка SIGKILL")
	killErr := kill(p.cmd.Process)
	if p.wait(p.stopTimeout) {
		return nil
	}
	return errors.Join(fmt.Errorf("процесс Watcher %d не завершился", p.Pid()), killErr)
}

func (p *Process) wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	}
}
