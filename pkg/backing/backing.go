// Package backing is the OS-file side of a random file: one append-only
// write handle plus an independent read handle used for length queries and
// memory mapping, so the mapping never contends with the writer's cursor.
package backing

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	// ErrNotFound is returned by Open when the path does not exist.
	// Store never creates files.
	ErrNotFound = errors.New("file not found")

	// ErrIO marks every OS-level failure. Match it with errors.Is; the
	// concrete error is an *IOError carrying the OS message.
	ErrIO = errors.New("i/o error")

	errClosed = errors.New("store is closed")
)

// IOError records the failed operation, the path and the OS error.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes both ErrIO and the underlying OS error.
func (e *IOError) Unwrap() []error {
	return []error{ErrIO, e.Err}
}

// Store owns the two handles. Write, GrowTo and Sync are not synchronized
// with each other; callers serialize them (the random file holds a write
// lock around every one of them).
type Store struct {
	path      string
	readWrite bool

	wf *os.File

	mu     sync.Mutex // guards rf and closed
	rf     *os.File
	closed bool
}

// Open binds path and opens the write handle in append mode.
// readWrite selects an O_RDWR read handle so writable mappings can be made.
func Open(path string, readWrite bool) (*Store, error) {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, &IOError{Op: "stat", Path: path, Err: err}
	}
	if st.IsDir() {
		return nil, &IOError{Op: "open", Path: path, Err: fmt.Errorf("is a directory")}
	}

	// #nosec G304 -- the path is bound by the owner of the store.
	wf, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}
	return &Store{path: path, readWrite: readWrite, wf: wf}, nil
}

// Path returns the bound path.
func (s *Store) Path() string { return s.path }

// WithReadFile runs fn with the handle used for length queries and
// mapping, opening it on first use. The handle cannot be closed while fn
// runs, so its descriptor stays bound to this file for the whole call.
// fn must not retain the handle.
func (s *Store) WithReadFile(fn func(f *os.File) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.readHandleLocked()
	if err != nil {
		return err
	}
	return fn(f)
}

// readHandleLocked opens the read handle once. s.mu must be held.
func (s *Store) readHandleLocked() (*os.File, error) {
	if s.closed {
		return nil, &IOError{Op: "open", Path: s.path, Err: errClosed}
	}
	if s.rf != nil {
		return s.rf, nil
	}
	flag := os.O_RDONLY
	if s.readWrite {
		flag = os.O_RDWR
	}
	// #nosec G304 -- see Open.
	f, err := os.OpenFile(s.path, flag, 0)
	if err != nil {
		return nil, &IOError{Op: "open", Path: s.path, Err: err}
	}
	s.rf = f
	return f, nil
}

// Length returns the file size as reported by the OS. It may lag behind
// writes still sitting in a queue; it never runs ahead of them.
func (s *Store) Length() (int64, error) {
	var size int64
	err := s.WithReadFile(func(f *os.File) error {
		var err error
		size, err = fstatSize(s.path, f)
		return err
	})
	return size, err
}

// LengthOf is Length for callers already inside WithReadFile.
func (s *Store) LengthOf(f *os.File) (int64, error) {
	return fstatSize(s.path, f)
}

func fstatSize(path string, f *os.File) (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return 0, &IOError{Op: "fstat", Path: path, Err: err}
	}
	return st.Size, nil
}

// GrowTo extends the file to at least n bytes. The new region is zero
// filled by ftruncate. A file already at or past n is left alone. The
// resulting length is returned.
func (s *Store) GrowTo(n int64) (int64, error) {
	cur, err := s.Length()
	if err != nil {
		return 0, err
	}
	if cur >= n {
		return cur, nil
	}
	if err := unix.Ftruncate(int(s.wf.Fd()), n); err != nil {
		return 0, &IOError{Op: "ftruncate", Path: s.path, Err: err}
	}
	return n, nil
}

// Write appends p at the end of the file.
func (s *Store) Write(p []byte) (int, error) {
	n, err := s.wf.Write(p)
	if err != nil {
		return n, &IOError{Op: "write", Path: s.path, Err: err}
	}
	return n, nil
}

// Writer exposes Write as an io.Writer for stream-style callers.
func (s *Store) Writer() io.Writer { return writerFunc(s.Write) }

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// Sync flushes the write handle to stable storage.
func (s *Store) Sync() error {
	if err := s.wf.Sync(); err != nil {
		return &IOError{Op: "fsync", Path: s.path, Err: err}
	}
	return nil
}

// Close closes both handles. Mappings made from the read handle stay valid.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.wf.Close(); err != nil {
		errs = append(errs, &IOError{Op: "close", Path: s.path, Err: err})
	}
	if s.rf != nil {
		if err := s.rf.Close(); err != nil {
			errs = append(errs, &IOError{Op: "close", Path: s.path, Err: err})
		}
		s.rf = nil
	}
	return errors.Join(errs...)
}
