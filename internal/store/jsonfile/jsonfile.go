// Package jsonfile stores bot descriptors as an indented JSON array in one file.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/loykin/botvisor/internal/bot"
)

// File is a JSON file store. Saves go through a temp file in the same
// directory followed by a rename, so readers never see a partial file.
type File struct {
	path string
	mu   sync.Mutex
}

// New returns a store backed by path. The file need not exist yet.
func New(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("empty store path")
	}
	return &File{path: filepath.Clean(path)}, nil
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

func (f *File) Load(_ context.Context) ([]bot.Bot, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []bot.Bot{}, nil
		}
		return nil, err
	}
	var bots []bot.Bot
	if err := json.Unmarshal(b, &bots); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	if bots == nil {
		bots = []bot.Bot{}
	}
	return bots, nil
}

func (f *File) Save(_ context.Context, bots []bot.Bot) error {
	if bots == nil {
		bots = []bot.Bot{}
	}
	data, err := json.MarshalIndent(bots, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func (f *File) Close() error { return nil }
