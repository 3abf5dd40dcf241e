//go:build !windows

package watcher

import (
	"errors"
	"os"
	"syscall"
)

// terminate отправляет SIGTERM группе процесса.
func terminate(proc *os.Process) error {
	return signalGroup(proc.Pid, syscall.SIGTERM)
}

// kill отправляет SIGKILL группе процесса.
func kill(proc *os.Process) error {
	return signalGroup(proc.Pid, syscall.SIGKILL)
}

// signalGroup сигналит группе процессов; процесс запускается с Setpgid,
// поэтому pgid совпадает с pid.
func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
