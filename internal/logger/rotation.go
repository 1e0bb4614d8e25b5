package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RotatingWriter appends to a log file and rolls it over by size. Rolled
// files are optionally gzipped and removed after maxAge days.
type RotatingWriter struct {
	mu          sync.Mutex
	filename    string
	maxSize     int64
	maxAge      int
	compress    bool
	currentFile *os.File
	currentSize int64
	background  sync.WaitGroup
}

// NewRotatingWriter opens filename for appending
func NewRotatingWriter(filename string, maxSizeMB int, maxAge int, compress bool) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	w := &RotatingWriter{
		filename:    filename,
		maxSize:     int64(maxSizeMB) * 1024 * 1024,
		maxAge:      maxAge,
		compress:    compress,
		currentFile: file,
		currentSize: info.Size(),
	}
	w.cleanup()
	return w, nil
}

// Write appends p, rotating first when it would exceed the size limit
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return 0, os.ErrClosed
	}
	if w.maxSize > 0 && w.currentSize > 0 && w.currentSize+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.currentFile.Write(p)
	w.currentSize += int64(n)
	return n, err
}

// Close closes the current file and waits for pending compression
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	var err error
	if w.currentFile != nil {
		err = w.currentFile.Close()
		w.currentFile = nil
	}
	w.mu.Unlock()

	w.background.Wait()
	return err
}

// Rotate forces a rollover
func (w *RotatingWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return os.ErrClosed
	}
	return w.rotate()
}

func (w *RotatingWriter) rotate() error {
	if err := w.currentFile.Close(); err != nil {
		return err
	}

	rotated := fmt.Sprintf("%s.%s", w.filename, time.Now().Format("20060102-150405.000000"))
	if err := os.Rename(w.filename, rotated); err != nil {
		return err
	}

	if w.compress {
		w.background.Add(1)
		go func() {
			defer w.background.Done()
			_ = compressFile(rotated)
		}()
	}

	file, err := os.OpenFile(w.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	w.currentFile = file
	w.currentSize = 0

	w.cleanup()
	return nil
}

func compressFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		gzw.Close()
		dst.Close()
		return err
	}
	if err := gzw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(filename)
}

// cleanup removes rolled files older than maxAge days
func (w *RotatingWriter) cleanup() {
	if w.maxAge <= 0 {
		return
	}

	files, err := filepath.Glob(w.filename + ".*")
	if err != nil {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -w.maxAge)
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		os.Remove(file)
		if !strings.HasSuffix(file, ".gz") {
			os.Remove(file + ".gz")
		}
	}
}
