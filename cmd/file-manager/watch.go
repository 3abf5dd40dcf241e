package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bigkaa/goartstore/file-manager/internal/config"
	"github.com/bigkaa/goartstore/file-manager/internal/queue"
	"github.com/bigkaa/goartstore/file-manager/internal/watcher"
)

// runWatch — процесс Watcher. События пишутся в stdout построчным JSON,
// журнал — в stderr. Процесс завершается при закрытии stdin (родитель
// закрыл pipe или завершился), по SIGINT/SIGTERM или при ошибке записи.
func runWatch() int {
	cfg, err := config.LoadWatcher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации Watcher: %v\n", err)
		return 1
	}
	logger := config.SetupLogger(cfg, os.Stderr).With(slog.String("process", "watcher"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_, _ = io.Copy(io.Discard, os.Stdin)
		logger.Info("stdin закрыт, завершение")
		cancel()
	}()

	w, err := watcher.New(watcher.Options{
		FilesDir:     cfg.FilesDir,
		WatchDir:     cfg.WatchDir,
		SettleDelay:  cfg.SettleDelay,
		Matcher:      watcher.NewMatcher(cfg.ReadExtensions),
		ScanExisting: cfg.ScanExisting,
		SettleOnly:   cfg.SettleOnly,
		Logger:       logger,
	}, queue.NewWriter(os.Stdout))
	if err != nil {
		logger.Error("Ошибка запуска Watcher", slog.String("error", err.Error()))
		return 1
	}

	if err := w.Run(ctx); err != nil {
		logger.Error("Watcher завершился с ошибкой", slog.String("error", err.Error()))
		return 1
	}
	return 0
}
