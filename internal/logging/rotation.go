package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig holds configuration for log rotation.
type RotationConfig struct {
	// MaxSizeMB is the size at which the file is rotated. 0 disables rotation.
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated files.
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// DefaultRotationConfig returns the rotation settings used when none are configured.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 50, MaxBackups: 5}
}

// RotatingWriter is an io.WriteCloser over a file that is rotated once it
// would exceed a size limit. It is safe for concurrent use.
type RotatingWriter struct {
	mu   sync.Mutex
	path string
	cfg  RotationConfig
	file *os.File
	size int64

	// compressing tracks background gzip jobs so Close can wait for them.
	compressing sync.WaitGroup
}

// NewRotatingWriter opens (or creates) path for appending.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	rw := &RotatingWriter{path: path, cfg: cfg}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(rw.path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rw.file, rw.size = f, info.Size()
	return nil
}

func (rw *RotatingWriter) limit() int64 {
	return int64(rw.cfg.MaxSizeMB) << 20
}

// Write appends p, rotating first if p would push the file over the limit.
// A failed rotation is reported on stderr and the write still goes to the
// current file.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, os.ErrClosed
	}
	if max := rw.limit(); max > 0 && rw.size > 0 && rw.size+int64(len(p)) > max {
		if err := rw.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "wamux: log rotation failed: %v\n", err)
		}
	}

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// Rotate forces a rotation regardless of size.
func (rw *RotatingWriter) Rotate() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return os.ErrClosed
	}
	return rw.rotate()
}

// rotate must be called with mu held.
func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	rw.file = nil

	rw.shiftBackups()

	if rw.cfg.MaxBackups > 0 {
		first := rw.backup(1)
		if err := os.Rename(rw.path, first); err != nil {
			if openErr := rw.open(); openErr != nil {
				return fmt.Errorf("failed to rename log file and reopen: %w", openErr)
			}
			return fmt.Errorf("failed to rename log file: %w", err)
		}
		if rw.cfg.Compress {
			rw.compressing.Add(1)
			go func() {
				defer rw.compressing.Done()
				if err := gzipFile(first); err != nil {
					fmt.Fprintf(os.Stderr, "wamux: failed to compress %s: %v\n", first, err)
				}
			}()
		}
	} else if err := os.Remove(rw.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to discard log file: %w", err)
	}

	return rw.open()
}

// shiftBackups renames .N-1 to .N down to .1 to .2, dropping the oldest.
func (rw *RotatingWriter) shiftBackups() {
	if rw.cfg.MaxBackups <= 0 {
		return
	}
	oldest := rw.backup(rw.cfg.MaxBackups)
	_ = os.Remove(oldest)
	_ = os.Remove(oldest + ".gz")

	for i := rw.cfg.MaxBackups - 1; i >= 1; i-- {
		from, to := rw.backup(i), rw.backup(i+1)
		for _, ext := range []string{".gz", ""} {
			if _, err := os.Stat(from + ext); err == nil {
				_ = os.Rename(from+ext, to+ext)
				break
			}
		}
	}
}

func (rw *RotatingWriter) backup(n int) string {
	return fmt.Sprintf("%s.%d", rw.path, n)
}

// gzipFile writes path.gz and removes path once the archive is complete.
func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	zw := gzip.NewWriter(dst)
	_, copyErr := io.Copy(zw, src)
	closeErr := zw.Close()
	fileErr := dst.Close()
	if err := firstErr(copyErr, closeErr, fileErr); err != nil {
		_ = os.Remove(path + ".gz")
		return err
	}
	return os.Remove(path)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Size returns the current file size in bytes.
func (rw *RotatingWriter) Size() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.size
}

// Path returns the active log file path.
func (rw *RotatingWriter) Path() string { return rw.path }

// Close syncs and closes the file and waits for pending compression.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	f := rw.file
	rw.file = nil
	rw.mu.Unlock()

	var err error
	if f != nil {
		if syncErr := f.Sync(); syncErr != nil {
			err = fmt.Errorf("failed to sync log file: %w", syncErr)
		}
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close log file: %w", closeErr)
		}
	}
	rw.compressing.Wait()
	return err
}
