//go:build linux

package watcher

import "syscall"

// sysProcAttr: своя группа процессов; SIGTERM при завершении родителя.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
