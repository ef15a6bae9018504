// Package mmap hands out reference-counted memory mappings of a file and
// aliased views into them. A view keeps its mapping alive until the view is
// released, so replacing the current mapping never invalidates bytes a
// reader is still holding.
package mmap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/fluxorio/randomfile/pkg/backing"
	"github.com/fluxorio/randomfile/pkg/core/failfast"
)

var (
	// ErrEmpty is returned when asked to map zero bytes.
	ErrEmpty = errors.New("mmap: cannot map empty file")

	// ErrRange is returned when a view would extend past its mapping.
	ErrRange = errors.New("mmap: view exceeds mapping")

	// ErrReleased is returned when viewing a mapping that is already unmapped.
	ErrReleased = errors.New("mmap: mapping released")
)

// Mapping is one mmap(2) region over [0, Len()) of a file. It starts with
// one reference owned by whoever created it; the region is unmapped when
// the last reference is released.
type Mapping struct {
	data     []byte
	gen      uint64
	path     string
	writable bool
	refs     atomic.Int64

	// called once, after munmap, with the unmapped length
	onUnmap func(length int64)
}

// Map maps the first length bytes of f. MAP_SHARED is always used, so
// writes through a writable mapping reach the file.
func Map(f *os.File, length int64, writable bool) (*Mapping, error) {
	return mapFile(f, length, writable, 0, nil)
}

func mapFile(f *os.File, length int64, writable bool, gen uint64, onUnmap func(int64)) (*Mapping, error) {
	if length <= 0 {
		return nil, &backing.IOError{Op: "mmap", Path: f.Name(), Err: ErrEmpty}
	}
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(length), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, &backing.IOError{Op: "mmap", Path: f.Name(), Err: err}
	}
	m := &Mapping{
		data:     data,
		gen:      gen,
		path:     f.Name(),
		writable: writable,
		onUnmap:  onUnmap,
	}
	m.refs.Store(1)
	return m, nil
}

// Len is the number of bytes the mapping covers. It does not change after
// the region is unmapped.
func (m *Mapping) Len() int64 { return int64(len(m.data)) }

// Generation numbers mappings made by the same Provider, starting at 1.
func (m *Mapping) Generation() uint64 { return m.gen }

// Writable reports whether views may be written through.
func (m *Mapping) Writable() bool { return m.writable }

// Refs is the current reference count. Zero means unmapped.
func (m *Mapping) Refs() int64 { return m.refs.Load() }

// Retain adds a reference. It fails once the mapping has been unmapped.
func (m *Mapping) Retain() bool {
	for {
		n := m.refs.Load()
		if n <= 0 {
			return false
		}
		if m.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference and unmaps the region when it was the last.
// Releasing more references than were taken panics.
func (m *Mapping) Release() error {
	n := m.refs.Add(-1)
	failfast.If(n >= 0, "mmap: release of unreferenced mapping (gen %d)", m.gen)
	if n > 0 {
		return nil
	}
	// data is never cleared; refs == 0 is what marks it unmapped.
	err := unix.Munmap(m.data)
	if m.onUnmap != nil {
		m.onUnmap(int64(len(m.data)))
	}
	if err != nil {
		return &backing.IOError{Op: "munmap", Path: m.path, Err: err}
	}
	return nil
}

// View returns an aliased view of [offset, offset+size). The view holds its
// own reference, independent of the caller's.
func (m *Mapping) View(offset, size int64) (*View, error) {
	if !m.Retain() {
		return nil, ErrReleased
	}
	if offset < 0 || size < 0 || offset > m.Len()-size {
		err := fmt.Errorf("%w: [%d, %d) of %d bytes", ErrRange, offset, offset+size, m.Len())
		return nil, errors.Join(err, m.Release())
	}
	return &View{m: m, off: offset, n: size}, nil
}

// Sync flushes a writable mapping to the file.
func (m *Mapping) Sync() error {
	if !m.writable {
		return nil
	}
	if !m.Retain() {
		return ErrReleased
	}
	defer func() { _ = m.Release() }()
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return &backing.IOError{Op: "msync", Path: m.path, Err: err}
	}
	return nil
}

// View is (mapping, offset, length). Bytes stay valid, at the same
// addresses, until Release is called, regardless of later remaps.
type View struct {
	m        *Mapping
	off      int64
	n        int64
	released atomic.Bool
}

// Bytes returns the viewed region, or nil after Release. The slice aliases
// the mapping; do not retain it past Release.
func (v *View) Bytes() []byte {
	if v.released.Load() {
		return nil
	}
	end := v.off + v.n
	return v.m.data[v.off:end:end]
}

// Offset is the view's start within the file.
func (v *View) Offset() int64 { return v.off }

// Len is the view's size in bytes.
func (v *View) Len() int64 { return v.n }

// Generation of the mapping this view aliases.
func (v *View) Generation() uint64 { return v.m.gen }

// Writable reports whether Bytes may be written to.
func (v *View) Writable() bool { return v.m.writable }

// ReadAt implements io.ReaderAt relative to the start of the view.
func (v *View) ReadAt(p []byte, off int64) (int, error) {
	b := v.Bytes()
	if b == nil {
		return 0, ErrReleased
	}
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrRange, off)
	}
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Release drops the view's reference. Safe to call more than once.
func (v *View) Release() error {
	if !v.released.CompareAndSwap(false, true) {
		return nil
	}
	return v.m.Release()
}

var _ io.ReaderAt = (*View)(nil)
