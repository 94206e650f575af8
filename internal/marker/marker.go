// Package marker clears the run marker file before a pipeline run.
package marker

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// MarkerFileError means the marker could not be confirmed absent.
type MarkerFileError struct {
	Path string
	Err  error
}

func (e *MarkerFileError) Error() string {
	return fmt.Sprintf("clear marker %s: %v", e.Path, e.Err)
}

func (e *MarkerFileError) Unwrap() error { return e.Err }

// Clear removes the marker at path. A missing file is success. An empty
// path disables the marker.
func Clear(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return &MarkerFileError{Path: path, Err: err}
}

// Exists reports whether a marker is present.
func Exists(path string) (bool, error) {
	if strings.TrimSpace(path) == "" {
		return false, nil
	}
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
