package cache

import (
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// fileExt marks files owned by the mirror inside its directory.
const fileExt = ".cache.json"

// FileMirror is a Mirror persisted as one file per key under a directory.
// Several processes pointed at the same directory behave like sibling tabs:
// they share entries and observe each other's clear signal.
type FileMirror struct {
	dir string
}

// NewFileMirror creates the directory if needed and returns a mirror over it.
func NewFileMirror(dir string) (*FileMirror, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileMirror{dir: dir}, nil
}

// path encodes the key so arbitrary cache keys map to safe file names.
func (fm *FileMirror) path(key string) string {
	return filepath.Join(fm.dir, hex.EncodeToString([]byte(key))+fileExt)
}

func (fm *FileMirror) Get(key string) ([]byte, bool) {
	buf, err := os.ReadFile(fm.path(key))
	if err != nil {
		return nil, false
	}
	return buf, true
}

func (fm *FileMirror) Set(key string, value []byte) error {
	// Write-then-rename so readers never see a torn entry.
	tmp, err := os.CreateTemp(fm.dir, "mirror-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), fm.path(key))
}

func (fm *FileMirror) Delete(key string) {
	err := os.Remove(fm.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		// Missing keys are a no-op; anything else is quota/permission noise
		// the cache already tolerates.
		return
	}
}

func (fm *FileMirror) Clear() error {
	entries, err := os.ReadDir(fm.dir)
	if err != nil {
		return err
	}
	var firstErr error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		if err := os.Remove(filepath.Join(fm.dir, e.Name())); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
