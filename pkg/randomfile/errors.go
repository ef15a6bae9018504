package randomfile

import (
	"errors"

	"github.com/fluxorio/randomfile/pkg/backing"
	"github.com/fluxorio/randomfile/pkg/mmap"
	"github.com/fluxorio/randomfile/pkg/writequeue"
)

// Errors. Match with errors.Is; most are re-exported from the packages
// that produce them.
var (
	// ErrNotFound: Open was given a path that does not exist.
	ErrNotFound = backing.ErrNotFound
	// ErrIO: an OS-level open/stat/write/truncate/map failure.
	ErrIO = backing.ErrIO
	// ErrOutOfRange: PolicyThrow read past the durable length.
	ErrOutOfRange = errors.New("randomfile: range beyond durable length")
	// ErrRange: a view would exceed the mapping it was cut from. Seeing
	// this from Get means the growth bookkeeping is wrong.
	ErrRange = mmap.ErrRange
	// ErrClosed: the file was closed.
	ErrClosed = errors.New("randomfile: closed")
	// ErrBackpressure: the queued-append byte budget is exhausted.
	ErrBackpressure = writequeue.ErrBackpressure
	// ErrPoisoned: an earlier queued write failed; wraps that failure.
	ErrPoisoned = writequeue.ErrPoisoned
	// ErrInvalidArgument: negative offset or size, or an offset+size overflow.
	ErrInvalidArgument = errors.New("randomfile: invalid argument")
)
