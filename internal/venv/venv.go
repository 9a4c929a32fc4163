// Package venv locates the isolated Python environment a bot runs in.
package venv

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when no environment directory sits next to the entry point.
var ErrNotFound = errors.New("virtual environment not found")

// Names are the directory names probed, in order, next to the entry point.
var Names = []string{"venv", ".venv", "env", ".env"}

// Locate returns the first directory in Names that exists beside entryPoint.
// It does not check that an interpreter lives inside it.
func Locate(entryPoint string) (string, error) {
	dir := filepath.Dir(entryPoint)
	for _, name := range Names {
		p := filepath.Join(dir, name)
		if fi, err := os.Stat(p); err == nil && fi.IsDir() {
			return p, nil
		}
	}
	return "", ErrNotFound
}

// Interpreter returns the expected interpreter path inside envDir.
func Interpreter(envDir string) string {
	return filepath.Join(envDir, interpreterRel)
}
