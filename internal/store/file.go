package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

const slotExt = ".json"

// File keeps one JSON file per slot under a directory.
type File struct {
	fs  afero.Fs
	dir string
	mu  sync.Mutex
}

// NewFile creates dir on fs if needed. Pass afero.NewOsFs() for real disks.
func NewFile(fs afero.Fs, dir string) (*File, error) {
	if dir == "" {
		return nil, errors.New("file store dir required")
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create slot dir: %w", err)
	}
	return &File{fs: fs, dir: dir}, nil
}

func (f *File) Driver() Driver { return DriverFile }

func (f *File) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("invalid slot key %q", key)
	}
	return filepath.Join(f.dir, key+slotExt), nil
}

func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(f.fs, p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Put writes to a temp file and renames it over the slot.
func (f *File) Put(_ context.Context, key string, payload []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tmp := p + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, payload, 0o644); err != nil {
		return err
	}
	if err := f.fs.Rename(tmp, p); err != nil {
		_ = f.fs.Remove(tmp)
		return err
	}
	return nil
}

func (f *File) Delete(_ context.Context, key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (f *File) Keys(_ context.Context) ([]string, error) {
	entries, err := afero.ReadDir(f.fs, f.dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, slotExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, slotExt))
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *File) Close() error { return nil }
