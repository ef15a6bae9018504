// Package randomfile is a single-file append store with zero-copy random
// reads. Appends are queued and written by one background goroutine in
// submission order; AppendDirect writes synchronously. Get hands out
// memory-mapped views that stay valid while the file grows and is remapped.
package randomfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/randomfile/pkg/backing"
	"github.com/fluxorio/randomfile/pkg/core"
	"github.com/fluxorio/randomfile/pkg/mmap"
	"github.com/fluxorio/randomfile/pkg/writequeue"
)

const tracerName = "github.com/fluxorio/randomfile/pkg/randomfile"

// File is an open random file. All methods are safe for concurrent use.
type File struct {
	id     string
	opts   Options
	logger core.Logger
	obs    Observer
	tracer trace.Tracer

	store *backing.Store
	views *mmap.Provider
	queue *writequeue.Queue

	// writeMu serializes every mutation of the file: queued writes,
	// AppendDirect, grow, sync and closing the handles.
	writeMu sync.Mutex
	// mapMu serializes remaps. Never held while waiting.
	mapMu sync.Mutex

	bytesWritten atomic.Int64

	growthMu sync.Mutex
	growth   chan struct{}

	closed    atomic.Bool
	closing   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Stats is a snapshot of a File.
type Stats struct {
	FileID       string
	Path         string
	BytesWritten int64
	Queue        writequeue.Stats
	Mappings     mmap.ProviderStats
}

// Open binds an existing file. It never creates one: a missing path fails
// with ErrNotFound. The write cursor starts at the current file length.
func Open(path string, opts ...Option) (*File, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = core.NewNopLogger()
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	tp := o.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	store, err := backing.Open(path, o.WritableViews)
	if err != nil {
		return nil, err
	}
	length, err := store.Length()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	f := &File{
		id:      core.NewID(),
		opts:    o,
		logger:  o.Logger,
		obs:     o.Observer,
		tracer:  tp.Tracer(tracerName),
		store:   store,
		views:   mmap.NewProvider(),
		growth:  make(chan struct{}),
		closing: make(chan struct{}),
	}
	f.bytesWritten.Store(length)
	f.queue = writequeue.New(f.writeQueued, writequeue.Options{
		MaxQueuedBytes: o.MaxQueuedBytes,
		OnWritten:      f.persisted,
		OnError:        f.writerFailed,
		Logger:         o.Logger,
	})

	f.logger.Infof("opened %s (id %s, %d bytes)", path, f.id, length)
	return f, nil
}

// ID identifies this open instance in logs, metrics and events.
func (f *File) ID() string { return f.id }

// Path returns the bound path.
func (f *File) Path() string { return f.store.Path() }

// BytesWritten returns the write cursor: bytes appended or grown so far.
// Bytes counted here are already in the file.
func (f *File) BytesWritten() int64 { return f.bytesWritten.Load() }

// Len returns the file length reported by the OS.
func (f *File) Len() (int64, error) {
	if f.closed.Load() {
		return 0, ErrClosed
	}
	return f.store.Length()
}

// Append queues p to be written after every previously queued append.
// It returns once p is queued, not once it is written. p is copied unless
// the file was opened WithNoCopy. Appending nothing is a no-op.
func (f *File) Append(p []byte) error {
	if f.closed.Load() {
		f.obs.OnAppendRejected(RejectInfo{FileID: f.id, Bytes: len(p), Err: ErrClosed})
		return ErrClosed
	}
	if len(p) == 0 {
		return nil
	}
	buf := p
	if !f.opts.NoCopy {
		buf = make([]byte, len(p))
		copy(buf, p)
	}
	if err := f.queue.Enqueue(buf); err != nil {
		if errors.Is(err, writequeue.ErrClosed) {
			err = ErrClosed
		}
		f.obs.OnAppendRejected(RejectInfo{FileID: f.id, Bytes: len(p), Err: err})
		return err
	}
	f.obs.OnAppendEnqueued(AppendInfo{FileID: f.id, Bytes: len(p)})
	return nil
}

// AppendDirect runs fn with a writer positioned at the end of the file,
// bypassing the queue. No queued write or grow runs while fn does, but
// there is no ordering with appends still queued.
func (f *File) AppendDirect(ctx context.Context, fn func(w io.Writer) error) (err error) {
	_, span := f.tracer.Start(ctx, "randomfile.AppendDirect",
		trace.WithAttributes(attribute.String("randomfile.id", f.id)))
	defer func() { endSpan(span, err) }()

	if id := core.RequestID(ctx); id != "" {
		span.SetAttributes(attribute.String("request.id", id))
	}
	if fn == nil {
		return fmt.Errorf("%w: nil append function", ErrInvalidArgument)
	}

	f.writeMu.Lock()
	if f.closed.Load() {
		f.writeMu.Unlock()
		return ErrClosed
	}
	cw := &countingWriter{w: f.store.Writer()}
	err = fn(cw)
	f.bytesWritten.Add(cw.n)
	f.writeMu.Unlock()

	span.SetAttributes(attribute.Int64("randomfile.bytes", cw.n))
	if cw.n > 0 {
		f.broadcastGrowth()
	}
	f.obs.OnDirectAppend(AppendInfo{FileID: f.id, Bytes: int(cw.n)})
	return err
}

// Get returns a view of [offset, offset+size). policy decides what happens
// when the range is not durable yet. The caller must Release the view.
func (f *File) Get(ctx context.Context, offset, size int64, policy Policy) (v *mmap.View, err error) {
	start := time.Now()
	ctx, span := f.tracer.Start(ctx, "randomfile.Get", trace.WithAttributes(
		attribute.String("randomfile.id", f.id),
		attribute.Int64("randomfile.offset", offset),
		attribute.Int64("randomfile.size", size),
		attribute.String("randomfile.policy", policy.String()),
	))
	defer func() {
		f.obs.OnGet(GetInfo{
			FileID:   f.id,
			Offset:   offset,
			Size:     size,
			Policy:   policy,
			Duration: time.Since(start),
			Err:      err,
		})
		endSpan(span, err)
	}()

	if id := core.RequestID(ctx); id != "" {
		span.SetAttributes(attribute.String("request.id", id))
	}

	if offset < 0 || size < 0 || offset > math.MaxInt64-size {
		return nil, fmt.Errorf("%w: offset %d size %d", ErrInvalidArgument, offset, size)
	}
	if f.closed.Load() {
		return nil, ErrClosed
	}

	end := offset + size
	if !f.views.Covers(end) {
		if err := f.ensureDurable(ctx, offset, end, policy); err != nil {
			return nil, err
		}
		if err := f.remapFor(end); err != nil {
			return nil, err
		}
	}

	v, err = f.views.View(offset, size)
	if err != nil {
		if errors.Is(err, mmap.ErrReleased) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("randomfile: view [%d, %d): %w", offset, end, err)
	}
	return v, nil
}

// ensureDurable makes [0, end) part of the file according to policy.
func (f *File) ensureDurable(ctx context.Context, offset, end int64, policy Policy) error {
	switch policy {
	case PolicyThrow:
		length, err := f.length()
		if err != nil {
			return err
		}
		if end > length {
			return fmt.Errorf("%w: [%d, %d) with %d bytes durable", ErrOutOfRange, offset, end, length)
		}
		return nil
	case PolicyGrow:
		length, err := f.length()
		if err != nil {
			return err
		}
		if end > length {
			return f.grow(end)
		}
		return nil
	case PolicyWait:
		return f.waitFor(ctx, end)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidArgument, policy)
	}
}

func (f *File) length() (int64, error) {
	n, err := f.store.Length()
	if err != nil && f.closed.Load() {
		return 0, ErrClosed
	}
	return n, err
}

// grow extends the file with zeros to end and moves the write cursor past
// the grown region.
func (f *File) grow(end int64) error {
	f.writeMu.Lock()
	if f.closed.Load() {
		f.writeMu.Unlock()
		return ErrClosed
	}
	from, err := f.store.Length()
	if err != nil {
		f.writeMu.Unlock()
		return err
	}
	to, err := f.store.GrowTo(end)
	if err != nil {
		f.writeMu.Unlock()
		return err
	}
	for {
		cur := f.bytesWritten.Load()
		if cur >= to || f.bytesWritten.CompareAndSwap(cur, to) {
			break
		}
	}
	f.writeMu.Unlock()

	if to > from {
		f.logger.Debugf("grew %s from %d to %d bytes", f.store.Path(), from, to)
		f.obs.OnGrow(GrowInfo{FileID: f.id, From: from, To: to})
		f.broadcastGrowth()
	}
	return nil
}

// waitFor blocks until the file is at least end bytes long.
func (f *File) waitFor(ctx context.Context, end int64) error {
	for {
		// Take the signal before reading the length so a growth between
		// the two is not missed.
		sig := f.growthSignal()
		length, err := f.length()
		if err != nil {
			return err
		}
		if end <= length {
			return nil
		}
		select {
		case <-sig:
		case <-ctx.Done():
			return ctx.Err()
		case <-f.closing:
			return ErrClosed
		}
	}
}

// remapFor replaces the current mapping with one over the whole durable
// length, unless a concurrent remap already covers end.
func (f *File) remapFor(end int64) error {
	f.mapMu.Lock()
	defer f.mapMu.Unlock()

	if f.closed.Load() {
		return ErrClosed
	}
	if f.views.Covers(end) {
		return nil
	}
	// Map inside WithReadFile so Close cannot release the descriptor
	// between fstat and mmap.
	var m *mmap.Mapping
	err := f.store.WithReadFile(func(rf *os.File) error {
		length, err := f.store.LengthOf(rf)
		if err != nil {
			return err
		}
		var relErr error
		m, relErr = f.views.Remap(rf, length, f.opts.WritableViews)
		if relErr != nil && m != nil {
			f.logger.Warnf("releasing previous mapping of %s: %v", f.store.Path(), relErr)
			return nil
		}
		return relErr
	})
	if err != nil {
		if f.closed.Load() {
			return ErrClosed
		}
		return err
	}
	f.logger.Debugf("mapped %s: generation %d, %d bytes", f.store.Path(), m.Generation(), m.Len())
	f.obs.OnRemap(RemapInfo{FileID: f.id, Generation: m.Generation(), Length: m.Len()})
	return nil
}

// Sync waits for every append queued before the call to be written, then
// fsyncs the file.
func (f *File) Sync(ctx context.Context) error {
	if f.closed.Load() {
		return ErrClosed
	}
	if err := f.queue.Flush(ctx); err != nil {
		if errors.Is(err, writequeue.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if f.closed.Load() {
		return ErrClosed
	}
	return f.store.Sync()
}

// Stats snapshots counters.
func (f *File) Stats() Stats {
	return Stats{
		FileID:       f.id,
		Path:         f.store.Path(),
		BytesWritten: f.bytesWritten.Load(),
		Queue:        f.queue.Stats(),
		Mappings:     f.views.Stats(),
	}
}

// Close stops accepting appends, wakes readers waiting on growth with
// ErrClosed, writes every append already queued and closes the file.
// Views handed out earlier stay valid until released. If a queued write
// failed, Close returns that failure. Calling Close again returns the
// same result.
func (f *File) Close() error {
	f.closeOnce.Do(func() { f.closeErr = f.close() })
	return f.closeErr
}

func (f *File) close() error {
	f.closed.Store(true)
	close(f.closing)

	var errs []error
	if err := f.queue.Close(); err != nil {
		errs = append(errs, err)
	}

	f.writeMu.Lock()
	if f.opts.SyncOnClose {
		if err := f.store.Sync(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := f.store.Close(); err != nil {
		errs = append(errs, err)
	}
	f.writeMu.Unlock()

	f.mapMu.Lock()
	if err := f.views.Close(); err != nil {
		errs = append(errs, err)
	}
	f.mapMu.Unlock()

	f.logger.Infof("closed %s (%d bytes written)", f.store.Path(), f.bytesWritten.Load())
	return errors.Join(errs...)
}

// writeQueued is the queue's write function. The cursor moves under
// writeMu so a concurrent grow never double counts.
func (f *File) writeQueued(p []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	n, err := f.store.Write(p)
	f.bytesWritten.Add(int64(n))
	return err
}

func (f *File) persisted(n int) {
	cursor := f.bytesWritten.Load()
	f.broadcastGrowth()
	f.obs.OnAppendPersisted(PersistInfo{FileID: f.id, Bytes: n, Cursor: cursor})
}

func (f *File) writerFailed(err error) {
	f.obs.OnWriterError(WriterErrorInfo{FileID: f.id, Err: err})
}

func (f *File) growthSignal() <-chan struct{} {
	f.growthMu.Lock()
	defer f.growthMu.Unlock()
	return f.growth
}

// broadcastGrowth wakes every waiter by closing the current channel.
func (f *File) broadcastGrowth() {
	f.growthMu.Lock()
	close(f.growth)
	f.growth = make(chan struct{})
	f.growthMu.Unlock()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
