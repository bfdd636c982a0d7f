//go:build !darwin && !linux

package surface

import (
	"os"
)

// acquireFileLock opens the lock file without an OS lock; only the
// in-process mutex serializes writers on these platforms.
func acquireFileLock(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
}

func releaseFileLock(file *os.File) {
	if file != nil {
		file.Close()
	}
}
