package blockio_test

import (
	"errors"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"testing"
	"time"

	"github.com/calvinalkan/pagecache/pager/internal/blockio"
)

func writeTempFile(t *testing.T, contents []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "backing.bin")
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	return path
}

type completion struct {
	buf *blockio.Buffer
	err error
}

func waitComplete(t *testing.T, ch <-chan completion) completion {
	t.Helper()

	select {
	case c := <-ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for read completion")
	}

	return completion{}
}

func Test_Read_Delivers_The_Exact_Requested_Bytes(t *testing.T) {
	t.Parallel()

	contents := make([]byte, 4096)
	for i := range contents {
		contents[i] = byte(i)
	}

	path := writeTempFile(t, contents)

	r, err := blockio.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	defer func() { _ = r.Close() }()

	done := make(chan completion, 1)

	err = r.Read(0, len(contents), blockio.CallbackFunc(func(buf *blockio.Buffer, err error, _ any) {
		done <- completion{buf, err}
	}), nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	c := waitComplete(t, done)
	if c.err != nil {
		t.Fatalf("completion error = %v", c.err)
	}

	if len(c.buf.Bytes) != len(contents) {
		t.Fatalf("len(buf) = %d, want %d", len(c.buf.Bytes), len(contents))
	}

	for i := range contents {
		if c.buf.Bytes[i] != contents[i] {
			t.Fatalf("byte %d = %d, want %d", i, c.buf.Bytes[i], contents[i])
		}
	}
}

func Test_Read_At_An_Offset_Skips_The_Leading_Bytes(t *testing.T) {
	t.Parallel()

	contents := []byte("0123456789abcdef")
	path := writeTempFile(t, contents)

	r, err := blockio.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	defer func() { _ = r.Close() }()

	done := make(chan completion, 1)

	err = r.Read(10, 6, blockio.CallbackFunc(func(buf *blockio.Buffer, err error, _ any) {
		done <- completion{buf, err}
	}), nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	c := waitComplete(t, done)
	if c.err != nil {
		t.Fatalf("completion error = %v", c.err)
	}

	if string(c.buf.Bytes) != "abcdef" {
		t.Fatalf("buf = %q, want %q", c.buf.Bytes, "abcdef")
	}
}

func Test_Read_At_EOF_Completes_With_ErrEndOfFile(t *testing.T) {
	t.Parallel()

	path := writeTempFile(t, []byte("short"))

	r, err := blockio.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	defer func() { _ = r.Close() }()

	done := make(chan completion, 1)

	err = r.Read(5, 10, blockio.CallbackFunc(func(buf *blockio.Buffer, err error, _ any) {
		done <- completion{buf, err}
	}), nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	c := waitComplete(t, done)
	if !errors.Is(c.err, blockio.ErrEndOfFile) {
		t.Fatalf("completion error = %v, want ErrEndOfFile", c.err)
	}

	if c.buf != nil {
		t.Fatalf("buf should be nil on ErrEndOfFile")
	}
}

func Test_Read_Past_Partial_Data_Delivers_A_Short_Buffer_Instead_Of_An_Error(t *testing.T) {
	t.Parallel()

	contents := []byte("only-ten!!")
	if len(contents) != 10 {
		t.Fatalf("fixture length = %d, want 10", len(contents))
	}

	path := writeTempFile(t, contents)

	r, err := blockio.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	defer func() { _ = r.Close() }()

	done := make(chan completion, 1)

	// Request 4096 bytes from a 10-byte file: pread returns the 10 bytes it
	// has, then 0 on the next call. §4.2's short-read continuation should
	// hand back exactly what was read rather than treating it as an error,
	// since some data was returned before EOF.
	err = r.Read(0, 4096, blockio.CallbackFunc(func(buf *blockio.Buffer, err error, _ any) {
		done <- completion{buf, err}
	}), nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	c := waitComplete(t, done)
	if c.err != nil {
		t.Fatalf("completion error = %v", c.err)
	}

	if string(c.buf.Bytes) != string(contents) {
		t.Fatalf("buf = %q, want %q", c.buf.Bytes, contents)
	}

	// Free must unmap the full 4096-byte region that was originally
	// mmap'd, not just the 10-byte prefix Bytes was truncated to.
	if err := c.buf.Free(); err != nil {
		t.Fatalf("Free() on a short buffer = %v, want nil", err)
	}
}

func Test_Full_Length_Read_Marks_The_Buffer_Read_Only(t *testing.T) {
	t.Parallel()

	contents := make([]byte, 4096)
	path := writeTempFile(t, contents)

	r, err := blockio.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	defer func() { _ = r.Close() }()

	done := make(chan completion, 1)

	err = r.Read(0, len(contents), blockio.CallbackFunc(func(buf *blockio.Buffer, err error, _ any) {
		done <- completion{buf, err}
	}), nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	c := waitComplete(t, done)
	if c.err != nil {
		t.Fatalf("completion error = %v", c.err)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("writing to a read-only full-read buffer should segfault, not succeed")
		}
	}()

	debug.SetPanicOnFault(true)

	c.buf.Bytes[0] = 1
}

func Test_Read_Invokes_The_Callback_Exactly_Once_Per_Request(t *testing.T) {
	t.Parallel()

	contents := make([]byte, 1024)
	path := writeTempFile(t, contents)

	r, err := blockio.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	defer func() { _ = r.Close() }()

	var mu sync.Mutex

	var calls int

	var wg sync.WaitGroup

	const n = 20

	wg.Add(n)

	for i := 0; i < n; i++ {
		err := r.Read(0, len(contents), blockio.CallbackFunc(func(_ *blockio.Buffer, _ error, _ any) {
			mu.Lock()
			calls++
			mu.Unlock()
			wg.Done()
		}), nil)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()

	if calls != n {
		t.Fatalf("calls = %d, want %d", calls, n)
	}
}

func Test_Read_After_Close_Fails_With_ErrClosed(t *testing.T) {
	t.Parallel()

	path := writeTempFile(t, []byte("data"))

	r, err := blockio.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err = r.Read(0, 4, blockio.CallbackFunc(func(_ *blockio.Buffer, _ error, _ any) {}), nil)
	if !errors.Is(err, blockio.ErrClosed) {
		t.Fatalf("Read after Close = %v, want ErrClosed", err)
	}
}

func Test_Close_Waits_For_Queued_Reads_To_Complete(t *testing.T) {
	t.Parallel()

	contents := make([]byte, 1024)
	path := writeTempFile(t, contents)

	r, err := blockio.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var fired bool

	done := make(chan struct{})

	err = r.Read(0, len(contents), blockio.CallbackFunc(func(_ *blockio.Buffer, _ error, _ any) {
		fired = true
		close(done)
	}), nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !fired {
		t.Fatalf("callback never fired before Close returned")
	}

	<-done
}

func Test_Open_On_A_Missing_File_Fails(t *testing.T) {
	t.Parallel()

	_, err := blockio.Open(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatalf("Open() on a missing file should fail")
	}
}

func Test_Open_On_A_Directory_Fails_With_ErrNotRegularFile(t *testing.T) {
	t.Parallel()

	_, err := blockio.Open(t.TempDir())
	if !errors.Is(err, blockio.ErrNotRegularFile) {
		t.Fatalf("Open() on a directory = %v, want ErrNotRegularFile", err)
	}
}

func Test_Open_Reports_The_Files_Size_As_Observed_By_Fstat(t *testing.T) {
	t.Parallel()

	path := writeTempFile(t, make([]byte, 1234))

	r, err := blockio.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	defer func() { _ = r.Close() }()

	if got := r.Size(); got != 1234 {
		t.Fatalf("Size() = %d, want 1234", got)
	}
}
