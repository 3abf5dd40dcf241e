//go:build !linux

package watcher

import "errors"

// closeWriteWatcher недоступен вне Linux: завершение записи
// определяется тишиной (settler).
type closeWriteWatcher struct{}

func newCloseWriteWatcher(string, string) (*closeWriteWatcher, error) {
	return nil, errors.ErrUnsupported
}

func (*closeWriteWatcher) Notices() <-chan fileNotice { return nil }

func (*closeWriteWatcher) Errors() <-chan error { return nil }

func (*closeWriteWatcher) Close() error { return nil }
