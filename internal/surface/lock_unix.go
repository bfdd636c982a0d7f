//go:build darwin || linux

package surface

import (
	"fmt"
	"os"
	"syscall"
)

// acquireFileLock takes an exclusive advisory lock on path, blocking until
// other processes release it.
func acquireFileLock(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("cannot open lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		file.Close()
		return nil, fmt.Errorf("cannot acquire lock: %w", err)
	}
	return file, nil
}

func releaseFileLock(file *os.File) {
	if file != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
	}
}
