// Package filehelper holds the buffered stream helpers used to read and write
// volumes: word streams, chunked readers and the 64-bit trailer fields.
package filehelper

import (
	"errors"
	"io/fs"
	"os"

	rserr "alexhalogen/rsraid/internal/errors"
)

// FileSize returns the size of path, or -1 when it does not exist.
func FileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return -1, nil
	}
	if err != nil {
		return 0, rserr.NewFileError("stat", path, err)
	}
	return fi.Size(), nil
}

// Truncate cuts n bytes off the end of path.
func Truncate(path string, n int64) error {
	size, err := FileSize(path)
	if err != nil {
		return err
	}
	if size < n {
		return rserr.NewFileError("truncate", path, rserr.ErrBadTrailer)
	}
	if err := os.Truncate(path, size-n); err != nil {
		return rserr.NewFileError("truncate", path, err)
	}
	return nil
}

// RemoveAll removes the listed files, ignoring ones that do not exist.
func RemoveAll(paths ...string) {
	for _, p := range paths {
		os.Remove(p)
	}
}
