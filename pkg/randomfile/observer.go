package randomfile

import "time"

// Observer receives store events. Callbacks run inline on the goroutine
// that caused them (the writer goroutine for persists and writer errors)
// and must not block.
type Observer interface {
	OnAppendEnqueued(AppendInfo)
	OnAppendPersisted(PersistInfo)
	OnAppendRejected(RejectInfo)
	OnDirectAppend(AppendInfo)
	OnGrow(GrowInfo)
	OnRemap(RemapInfo)
	OnGet(GetInfo)
	OnWriterError(WriterErrorInfo)
}

type AppendInfo struct {
	FileID string
	Bytes  int
}

type PersistInfo struct {
	FileID string
	Bytes  int
	// Cursor is bytes written after this job.
	Cursor int64
}

type RejectInfo struct {
	FileID string
	Bytes  int
	Err    error
}

type GrowInfo struct {
	FileID string
	From   int64
	To     int64
}

type RemapInfo struct {
	FileID     string
	Generation uint64
	Length     int64
}

type GetInfo struct {
	FileID   string
	Offset   int64
	Size     int64
	Policy   Policy
	Duration time.Duration
	Err      error
}

type WriterErrorInfo struct {
	FileID string
	Err    error
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnAppendEnqueued(AppendInfo)   {}
func (NopObserver) OnAppendPersisted(PersistInfo) {}
func (NopObserver) OnAppendRejected(RejectInfo)   {}
func (NopObserver) OnDirectAppend(AppendInfo)     {}
func (NopObserver) OnGrow(GrowInfo)               {}
func (NopObserver) OnRemap(RemapInfo)             {}
func (NopObserver) OnGet(GetInfo)                 {}
func (NopObserver) OnWriterError(WriterErrorInfo) {}

// MultiObserver fans every event out, in order.
type MultiObserver []Observer

func (m MultiObserver) OnAppendEnqueued(i AppendInfo) {
	for _, o := range m {
		o.OnAppendEnqueued(i)
	}
}

func (m MultiObserver) OnAppendPersisted(i PersistInfo) {
	for _, o := range m {
		o.OnAppendPersisted(i)
	}
}

func (m MultiObserver) OnAppendRejected(i RejectInfo) {
	for _, o := range m {
		o.OnAppendRejected(i)
	}
}

func (m MultiObserver) OnDirectAppend(i AppendInfo) {
	for _, o := range m {
		o.OnDirectAppend(i)
	}
}

func (m MultiObserver) OnGrow(i GrowInfo) {
	for _, o := range m {
		o.OnGrow(i)
	}
}

func (m MultiObserver) OnRemap(i RemapInfo) {
	for _, o := range m {
		o.OnRemap(i)
	}
}

func (m MultiObserver) OnGet(i GetInfo) {
	for _, o := range m {
		o.OnGet(i)
	}
}

func (m MultiObserver) OnWriterError(i WriterErrorInfo) {
	for _, o := range m {
		o.OnWriterError(i)
	}
}
