package randomfile

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func createFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func openFile(t *testing.T, content []byte, opts ...Option) *File {
	t.Helper()
	f, err := Open(createFile(t, content), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func syncFile(t *testing.T, f *File) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.bin"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Open missing = %v, want ErrNotFound", err)
	}
}

func TestOpen_CursorStartsAtLength(t *testing.T) {
	f := openFile(t, []byte("existing"))
	if got := f.BytesWritten(); got != 8 {
		t.Fatalf("BytesWritten = %d, want 8", got)
	}
	if f.ID() == "" {
		t.Fatal("expected an instance id")
	}
}

func TestAppend_FIFOWithConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 250
	path := createFile(t, nil)
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			rec := make([]byte, 8)
			for seq := 0; seq < perProducer; seq++ {
				binary.BigEndian.PutUint32(rec[0:4], uint32(p))
				binary.BigEndian.PutUint32(rec[4:8], uint32(seq))
				// rec is reused: Append must have copied it.
				if err := f.Append(rec); err != nil {
					t.Errorf("Append: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != producers*perProducer*8 {
		t.Fatalf("file has %d bytes, want %d", len(data), producers*perProducer*8)
	}
	next := make([]uint32, producers)
	for i := 0; i < len(data); i += 8 {
		p := binary.BigEndian.Uint32(data[i : i+4])
		seq := binary.BigEndian.Uint32(data[i+4 : i+8])
		if int(p) >= producers {
			t.Fatalf("record %d: bad producer %d", i/8, p)
		}
		if seq != next[p] {
			t.Fatalf("producer %d: got seq %d, want %d", p, seq, next[p])
		}
		next[p]++
	}
}

func TestGet_ThrowOnlyReturnsDurableBytes(t *testing.T) {
	f := openFile(t, nil)

	_, err := f.Get(context.Background(), 0, 5, PolicyThrow)
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Get on empty = %v, want ErrOutOfRange", err)
	}

	if err := f.Append([]byte("hello")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	syncFile(t, f)

	v, err := f.Get(context.Background(), 1, 4, PolicyThrow)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer v.Release()
	if string(v.Bytes()) != "ello" {
		t.Fatalf("Bytes = %q, want %q", v.Bytes(), "ello")
	}

	if _, err := f.Get(context.Background(), 1, 5, PolicyThrow); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Get past end = %v, want ErrOutOfRange", err)
	}
}

func TestGet_InvalidArguments(t *testing.T) {
	f := openFile(t, []byte("abc"))
	tests := []struct {
		name         string
		offset, size int64
		policy       Policy
	}{
		{"negative offset", -1, 1, PolicyThrow},
		{"negative size", 0, -1, PolicyThrow},
		{"overflow", 1, 1<<63 - 1, PolicyGrow},
		{"unknown policy", 0, 10, Policy(42)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Get(context.Background(), tt.offset, tt.size, tt.policy)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("Get = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestGet_ZeroSizeOnEmptyFileIsIOError(t *testing.T) {
	f := openFile(t, nil)
	_, err := f.Get(context.Background(), 0, 0, PolicyThrow)
	if !errors.Is(err, ErrIO) {
		t.Fatalf("Get = %v, want ErrIO", err)
	}
}

func TestGet_GrowExtendsWithZerosAndNeverShrinks(t *testing.T) {
	path := createFile(t, []byte("abc"))
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	v, err := f.Get(context.Background(), 10, 5, PolicyGrow)
	if err != nil {
		t.Fatalf("Get grow: %v", err)
	}
	if !bytes.Equal(v.Bytes(), make([]byte, 5)) {
		t.Fatalf("grown bytes = %v, want zeros", v.Bytes())
	}
	v.Release()

	if n, _ := f.Len(); n != 15 {
		t.Fatalf("Len = %d, want 15", n)
	}
	if got := f.BytesWritten(); got != 15 {
		t.Fatalf("BytesWritten = %d, want 15", got)
	}

	// Already covered: no shrink, no further growth.
	v, err = f.Get(context.Background(), 0, 2, PolicyGrow)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	v.Release()
	if n, _ := f.Len(); n != 15 {
		t.Fatalf("Len after covered grow = %d, want 15", n)
	}

	if err := f.Append([]byte("xyz")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := append(append([]byte("abc"), make([]byte, 12)...), "xyz"...)
	if !bytes.Equal(data, want) {
		t.Fatalf("file = %q, want %q", data, want)
	}
}

func TestGet_WaitReturnsOnceAppended(t *testing.T) {
	f := openFile(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		v, err := f.Get(ctx, 2, 4, PolicyWait)
		if err != nil {
			done <- result{err: err}
			return
		}
		defer v.Release()
		done <- result{data: append([]byte(nil), v.Bytes()...)}
	}()

	select {
	case r := <-done:
		t.Fatalf("Get returned before data existed: %v", r)
	case <-time.After(50 * time.Millisecond):
	}

	if err := f.Append([]byte("ab")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := f.Append([]byte("cdef")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	r := <-done
	if r.err != nil {
		t.Fatalf("Get wait: %v", r.err)
	}
	if string(r.data) != "cdef" {
		t.Fatalf("waited bytes = %q, want %q", r.data, "cdef")
	}
}

func TestGet_WaitWakesOnDirectAppend(t *testing.T) {
	f := openFile(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		v, err := f.Get(ctx, 0, 3, PolicyWait)
		if err == nil {
			v.Release()
		}
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	err := f.AppendDirect(ctx, func(w io.Writer) error {
		_, err := w.Write([]byte("abc"))
		return err
	})
	if err != nil {
		t.Fatalf("AppendDirect: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Get wait: %v", err)
	}
}

func TestGet_WaitHonorsContext(t *testing.T) {
	f := openFile(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := f.Get(ctx, 0, 1, PolicyWait)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Get = %v, want DeadlineExceeded", err)
	}
}

func TestClose_ReleasesWaiters(t *testing.T) {
	f, err := Open(createFile(t, nil))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := f.Get(context.Background(), 0, 1<<20, PolicyWait)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("waiter got %v, want ErrClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not released by Close")
	}
}

// Waiters poll the file length while Close tears the handles down; run
// with -race to catch any use of a descriptor after it was closed.
func TestClose_RacesWaitingReaders(t *testing.T) {
	for round := 0; round < 20; round++ {
		f, err := Open(createFile(t, []byte("seed")))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.Get(context.Background(), 0, 1<<20, PolicyWait)
				if !errors.Is(err, ErrClosed) {
					t.Errorf("waiter got %v, want ErrClosed", err)
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if err := f.Append([]byte("0123456789abcdef")); err != nil {
					return
				}
			}
		}()

		if err := f.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		wg.Wait()
	}
}

func TestView_SurvivesRemap(t *testing.T) {
	first := bytes.Repeat([]byte{'a'}, 4096)
	f := openFile(t, first)

	v1, err := f.Get(context.Background(), 0, 4096, PolicyThrow)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	gen1 := v1.Generation()

	if err := f.Append(bytes.Repeat([]byte{'b'}, 4*4096)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	syncFile(t, f)

	v2, err := f.Get(context.Background(), 4096, 4*4096, PolicyThrow)
	if err != nil {
		t.Fatalf("Get after growth: %v", err)
	}
	defer v2.Release()
	if v2.Generation() == gen1 {
		t.Fatalf("expected a remap, both views at generation %d", gen1)
	}
	if st := f.Stats().Mappings; st.LiveMappings != 2 {
		t.Fatalf("LiveMappings = %d, want 2 while the old view is held", st.LiveMappings)
	}

	if !bytes.Equal(v1.Bytes(), first) {
		t.Fatal("old view bytes changed after remap")
	}
	if err := v1.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if st := f.Stats().Mappings; st.LiveMappings != 1 {
		t.Fatalf("LiveMappings = %d, want 1 after releasing the old view", st.LiveMappings)
	}
}

func TestClose_KeepsOutstandingViews(t *testing.T) {
	f, err := Open(createFile(t, []byte("persist")))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	v, err := f.Get(context.Background(), 0, 7, PolicyThrow)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if string(v.Bytes()) != "persist" {
		t.Fatalf("view after Close = %q", v.Bytes())
	}
	v.Release()

	if _, err := f.Get(context.Background(), 0, 1, PolicyThrow); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get after Close = %v, want ErrClosed", err)
	}
}

func TestClose_DrainsQueue(t *testing.T) {
	path := createFile(t, nil)
	f, err := Open(path, WithSyncOnClose(true))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	chunk := bytes.Repeat([]byte{'z'}, 1000)
	for i := 0; i < 200; i++ {
		if err := f.Append(chunk); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Size() != 200*1000 {
		t.Fatalf("size = %d, want %d", st.Size(), 200*1000)
	}
	if got := f.Stats().Queue.WrittenJobs; got != 200 {
		t.Fatalf("WrittenJobs = %d, want 200", got)
	}

	if err := f.Append(chunk); !errors.Is(err, ErrClosed) {
		t.Fatalf("Append after Close = %v, want ErrClosed", err)
	}
	if err := f.AppendDirect(context.Background(), func(io.Writer) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("AppendDirect after Close = %v, want ErrClosed", err)
	}
}

func TestAppend_EmptyIsNoop(t *testing.T) {
	f := openFile(t, nil)
	if err := f.Append(nil); err != nil {
		t.Fatalf("Append(nil): %v", err)
	}
	syncFile(t, f)
	if st := f.Stats().Queue; st.WrittenJobs != 0 {
		t.Fatalf("WrittenJobs = %d, want 0", st.WrittenJobs)
	}
}

func TestAppend_Backpressure(t *testing.T) {
	f := openFile(t, nil, WithMaxQueuedBytes(16))

	// Stall the writer so queued bytes stay accounted.
	f.writeMu.Lock()
	if err := f.Append(make([]byte, 10)); err != nil {
		f.writeMu.Unlock()
		t.Fatalf("Append: %v", err)
	}
	err := f.Append(make([]byte, 10))
	f.writeMu.Unlock()
	if !errors.Is(err, ErrBackpressure) {
		t.Fatalf("Append over budget = %v, want ErrBackpressure", err)
	}

	syncFile(t, f)
	if err := f.Append(make([]byte, 10)); err != nil {
		t.Fatalf("Append after drain: %v", err)
	}
	if got := f.Stats().Queue.RejectedJobs; got != 1 {
		t.Fatalf("RejectedJobs = %d, want 1", got)
	}
}

func TestAppend_WriterFailurePoisons(t *testing.T) {
	const full = "/dev/full"
	if _, err := os.Stat(full); err != nil {
		t.Skip("/dev/full not available")
	}
	obs := &recordingObserver{}
	f, err := Open(full, WithObserver(obs))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := f.Append([]byte("doomed")); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.Sync(ctx); !errors.Is(err, ErrPoisoned) {
		t.Fatalf("Sync = %v, want ErrPoisoned", err)
	}

	err = f.Append([]byte("more"))
	if !errors.Is(err, ErrPoisoned) || !errors.Is(err, ErrIO) {
		t.Fatalf("Append after failure = %v, want ErrPoisoned wrapping ErrIO", err)
	}
	if err := f.Close(); !errors.Is(err, ErrPoisoned) {
		t.Fatalf("Close = %v, want ErrPoisoned", err)
	}
	if obs.count("writer_error") != 1 {
		t.Fatalf("writer errors observed = %d, want 1", obs.count("writer_error"))
	}
}

func TestAppendDirect(t *testing.T) {
	f := openFile(t, []byte("head:"))

	err := f.AppendDirect(context.Background(), func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s-%d", "frame", 7)
		return err
	})
	if err != nil {
		t.Fatalf("AppendDirect: %v", err)
	}
	if got := f.BytesWritten(); got != 12 {
		t.Fatalf("BytesWritten = %d, want 12", got)
	}

	// Synchronous: readable without waiting for the queue.
	v, err := f.Get(context.Background(), 5, 7, PolicyThrow)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer v.Release()
	if string(v.Bytes()) != "frame-7" {
		t.Fatalf("Bytes = %q", v.Bytes())
	}

	boom := errors.New("boom")
	err = f.AppendDirect(context.Background(), func(w io.Writer) error {
		_, _ = w.Write([]byte("x"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("AppendDirect = %v, want callback error", err)
	}
	if got := f.BytesWritten(); got != 13 {
		t.Fatalf("BytesWritten = %d, want partial write counted", got)
	}
	if err := f.AppendDirect(context.Background(), nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("AppendDirect(nil) = %v", err)
	}
}

func TestWritableViews(t *testing.T) {
	path := createFile(t, []byte("........"))
	f, err := Open(path, WithWritableViews(true))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	v, err := f.Get(context.Background(), 2, 4, PolicyThrow)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !v.Writable() {
		t.Fatal("expected a writable view")
	}
	copy(v.Bytes(), "DATA")
	v.Release()
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "..DATA.." {
		t.Fatalf("file = %q", data)
	}
}

// Many fixed-size buffers appended from one producer, read back through
// waiting views while the writer is still catching up.
func TestScenario_AppendThenReadBack(t *testing.T) {
	const buffers, size = 1000, 1024
	f := openFile(t, nil)

	buf := make([]byte, size)
	for i := 0; i < buffers; i++ {
		for j := range buf {
			buf[j] = byte(i)
		}
		if err := f.Append(buf); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := 0; i < buffers; i++ {
		v, err := f.Get(ctx, int64(i)*size, size, PolicyWait)
		if err != nil {
			t.Fatalf("Get %d: %v", i, err)
		}
		b := v.Bytes()
		if b[0] != byte(i) || b[size-1] != byte(i) {
			t.Fatalf("buffer %d holds %d..%d", i, b[0], b[size-1])
		}
		v.Release()
	}
	if got := f.BytesWritten(); got != buffers*size {
		t.Fatalf("BytesWritten = %d, want %d", got, buffers*size)
	}
}

func fillBuffer(size, i int) []byte {
	return bytes.Repeat([]byte{byte(i + 1)}, size)
}

func TestScenario_ReadAcrossBufferBoundary(t *testing.T) {
	const size = 1 << 20
	ctx := context.Background()
	f := openFile(t, nil)

	if err := f.Append(fillBuffer(size, 0)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	syncFile(t, f)

	// Only one buffer has landed: the straddling read must not succeed.
	if _, err := f.Get(ctx, size-6, 12, PolicyThrow); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Get across boundary with one buffer = %v, want ErrOutOfRange", err)
	}

	if err := f.Append(fillBuffer(size, 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	syncFile(t, f)

	v, err := f.Get(ctx, size-6, 12, PolicyThrow)
	if err != nil {
		t.Fatalf("Get across boundary: %v", err)
	}
	defer v.Release()
	want := append(bytes.Repeat([]byte{1}, 6), bytes.Repeat([]byte{2}, 6)...)
	if !bytes.Equal(v.Bytes(), want) {
		t.Fatalf("straddling bytes = %v, want %v", v.Bytes(), want)
	}
}

func TestScenario_ReopenAfterClose(t *testing.T) {
	const buffers, size = 4, 1 << 20
	path := createFile(t, nil)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < buffers; i++ {
		if err := f.Append(fillBuffer(size, i)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()

	n, err := f.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != buffers*size {
		t.Fatalf("Len after reopen = %d, want %d", n, buffers*size)
	}

	ctx := context.Background()
	head, err := f.Get(ctx, 0, 10, PolicyThrow)
	if err != nil {
		t.Fatalf("Get head: %v", err)
	}
	defer head.Release()
	if !bytes.Equal(head.Bytes(), bytes.Repeat([]byte{1}, 10)) {
		t.Fatalf("head = %v", head.Bytes())
	}

	for i := 1; i < buffers; i++ {
		v, err := f.Get(ctx, int64(i)*size-6, 12, PolicyThrow)
		if err != nil {
			t.Fatalf("Get boundary %d: %v", i, err)
		}
		b := v.Bytes()
		if b[5] != byte(i) || b[6] != byte(i+1) {
			t.Fatalf("boundary %d: got %d|%d, want %d|%d", i, b[5], b[6], i, i+1)
		}
		v.Release()
	}

	if _, err := f.Get(ctx, buffers*size-6, 12, PolicyThrow); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Get past end = %v, want ErrOutOfRange", err)
	}
}

func TestGet_ConcurrentReadersDuringAppends(t *testing.T) {
	const records, size = 200, 64
	f := openFile(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := records - 1; i >= 0; i -= 7 {
				v, err := f.Get(ctx, int64(i)*size, size, PolicyWait)
				if err != nil {
					t.Errorf("Get %d: %v", i, err)
					return
				}
				if v.Bytes()[0] != byte(i) {
					t.Errorf("record %d starts with %d", i, v.Bytes()[0])
				}
				v.Release()
			}
		}()
	}
	rec := make([]byte, size)
	for i := 0; i < records; i++ {
		rec[0] = byte(i)
		if err := f.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	wg.Wait()
}

func TestObserver_ReceivesEvents(t *testing.T) {
	obs := &recordingObserver{}
	f := openFile(t, nil, WithObserver(obs))

	if err := f.Append([]byte("abcd")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	syncFile(t, f)
	v, err := f.Get(context.Background(), 0, 8, PolicyGrow)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	v.Release()
	_, _ = f.Get(context.Background(), 0, 100, PolicyThrow)

	for name, want := range map[string]int{
		"enqueued":  1,
		"persisted": 1,
		"grow":      1,
		"remap":     1,
		"get":       2,
		"get_error": 1,
	} {
		if got := obs.count(name); got != want {
			t.Errorf("%s events = %d, want %d", name, got, want)
		}
	}
	if c := obs.lastCursor(); c != 4 {
		t.Errorf("persisted cursor = %d, want 4", c)
	}
}

func TestWithObserver_FansOut(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	f := openFile(t, nil, WithObserver(a), WithObserver(b))
	if err := f.Append([]byte("x")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if a.count("enqueued") != 1 || b.count("enqueued") != 1 {
		t.Fatalf("fan out: a=%d b=%d", a.count("enqueued"), b.count("enqueued"))
	}
}

func TestWithObserver_CopiedOptionsStayIndependent(t *testing.T) {
	a, b, c, d := &recordingObserver{}, &recordingObserver{}, &recordingObserver{}, &recordingObserver{}
	base := DefaultOptions()
	multi := make(MultiObserver, 0, 8)
	base.Observer = append(multi, a, b)

	x, y := base, base
	WithObserver(c)(&x)
	WithObserver(d)(&y)

	xs, ys := x.Observer.(MultiObserver), y.Observer.(MultiObserver)
	if len(xs) != 3 || xs[2] != Observer(c) {
		t.Fatalf("x observers = %v, want [a b c]", xs)
	}
	if len(ys) != 3 || ys[2] != Observer(d) {
		t.Fatalf("y observers = %v, want [a b d]", ys)
	}
	if len(base.Observer.(MultiObserver)) != 2 {
		t.Fatalf("base observers changed: %v", base.Observer)
	}
}

type recordingObserver struct {
	NopObserver
	mu     sync.Mutex
	counts map[string]int
	cursor int64
}

func (r *recordingObserver) inc(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[name]++
}

func (r *recordingObserver) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

func (r *recordingObserver) lastCursor() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

func (r *recordingObserver) OnAppendEnqueued(AppendInfo) { r.inc("enqueued") }

func (r *recordingObserver) OnAppendPersisted(i PersistInfo) {
	r.inc("persisted")
	r.mu.Lock()
	r.cursor = i.Cursor
	r.mu.Unlock()
}

func (r *recordingObserver) OnGrow(GrowInfo)               { r.inc("grow") }
func (r *recordingObserver) OnRemap(RemapInfo)             { r.inc("remap") }
func (r *recordingObserver) OnWriterError(WriterErrorInfo) { r.inc("writer_error") }

func (r *recordingObserver) OnGet(i GetInfo) {
	r.inc("get")
	if i.Err != nil {
		r.inc("get_error")
	}
}
