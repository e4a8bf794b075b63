// Package scratch manages the per-request temp files uploads are staged in.
//
// A File is acquired, written, read back and released in one handler:
//
//	f, err := scratch.Acquire(dir, header.Filename)
//	if err != nil { ... }
//	defer f.Release()
//
// Names are temp_<32 hex chars><ext>, created with O_EXCL, so concurrent
// requests can never share a file. Release is idempotent and safe to defer
// on every path.
package scratch

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Brownie44l1/hazard-services/internal/metrics"
)

// Prefix and Glob identify scratch files in a directory.
const (
	Prefix = "temp_"
	Glob   = Prefix + "*"
)

const defaultExt = ".jpg"

var allowedExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
}

// File is one scratch file on disk.
type File struct {
	path string
	file *os.File

	once sync.Once
	err  error
}

// Acquire creates a new empty scratch file in dir. The extension is taken
// from filename when it is a known image type, else .jpg.
func Acquire(dir, filename string) (*File, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExt[ext] {
		ext = defaultExt
	}

	name := Prefix + strings.ReplaceAll(uuid.NewString(), "-", "") + ext
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch file: %w", err)
	}
	metrics.ScratchFilesInFlight.Inc()
	return &File{path: path, file: f}, nil
}

// Path is the file's location on disk.
func (f *File) Path() string { return f.path }

// Fill copies src into the file and rewinds it for reading.
func (f *File) Fill(src io.Reader) (int64, error) {
	n, err := io.Copy(f.file, src)
	if err != nil {
		return n, fmt.Errorf("failed to write scratch file: %w", err)
	}
	if _, err := f.file.Seek(0, io.SeekStart); err != nil {
		return n, fmt.Errorf("failed to rewind scratch file: %w", err)
	}
	return n, nil
}

// Read reads from the file's current offset.
func (f *File) Read(p []byte) (int, error) { return f.file.Read(p) }

// Release closes and deletes the file. Only the first call does any work.
func (f *File) Release() error {
	f.once.Do(func() {
		closeErr := f.file.Close()
		removeErr := os.Remove(f.path)
		if errors.Is(removeErr, fs.ErrNotExist) {
			removeErr = nil
		}
		metrics.ScratchFilesInFlight.Dec()
		f.err = errors.Join(closeErr, removeErr)
	})
	return f.err
}

// Sweep deletes scratch files in dir last modified before now-maxAge and
// returns how many it removed. Non-scratch files are never touched.
func Sweep(dir string, maxAge time.Duration) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, Glob))
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	metrics.ScratchFilesSwept.Add(float64(removed))
	return removed, errors.Join(errs...)
}
