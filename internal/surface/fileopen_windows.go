//go:build windows

package surface

import (
	"os"
)

// openFileNoFollow opens a surface file for writing.
// O_NOFOLLOW is not available on Windows.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}

func readFileNoFollow(path string) ([]byte, error) {
	return os.ReadFile(path)
}
