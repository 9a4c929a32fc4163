//go:build windows

package venv

import "path/filepath"

var interpreterRel = filepath.Join("Scripts", "python.exe")
