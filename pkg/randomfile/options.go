package randomfile

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/randomfile/pkg/core"
)

// Options configures a File. Build one with DefaultOptions and the With
// functions, or from a Config.
type Options struct {
	// MaxQueuedBytes bounds bytes accepted by Append but not yet written.
	// Append fails fast with ErrBackpressure past it. 0 means unbounded.
	MaxQueuedBytes int64

	// SyncOnClose fsyncs the file after the queue drains on Close.
	SyncOnClose bool

	// WritableViews maps the file read-write; writes through a view's
	// bytes reach the file.
	WritableViews bool

	// NoCopy makes Append keep the caller's slice instead of copying it.
	// The caller must not modify it until the append is written.
	NoCopy bool

	Logger         core.Logger
	Observer       Observer
	TracerProvider trace.TracerProvider
}

// Option mutates Options.
type Option func(*Options)

// DefaultOptions returns unbounded, read-only, copying options with a
// nop logger and observer.
func DefaultOptions() Options {
	return Options{
		Logger:   core.NewNopLogger(),
		Observer: NopObserver{},
	}
}

func WithMaxQueuedBytes(n int64) Option {
	return func(o *Options) { o.MaxQueuedBytes = n }
}

func WithSyncOnClose(sync bool) Option {
	return func(o *Options) { o.SyncOnClose = sync }
}

func WithWritableViews(writable bool) Option {
	return func(o *Options) { o.WritableViews = writable }
}

func WithNoCopy(noCopy bool) Option {
	return func(o *Options) { o.NoCopy = noCopy }
}

func WithLogger(l core.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithObserver adds obs; repeated calls fan out in call order.
func WithObserver(obs Observer) Option {
	return func(o *Options) {
		switch cur := o.Observer.(type) {
		case nil, NopObserver:
			o.Observer = obs
		case MultiObserver:
			// Copy so Options values sharing cur never see each other's additions.
			o.Observer = append(append(make(MultiObserver, 0, len(cur)+1), cur...), obs)
		default:
			o.Observer = MultiObserver{cur, obs}
		}
	}
}

// WithTracerProvider overrides the global otel tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) { o.TracerProvider = tp }
}

// WithOptions replaces every setting at once.
func WithOptions(opts Options) Option {
	return func(o *Options) { *o = opts }
}
