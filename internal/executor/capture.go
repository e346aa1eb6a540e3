package executor

import "sync"

// captureBuffer is a thread-safe output accumulator with a byte cap. It
// grows on demand and, once the cap is exceeded, retains only the most
// recent cap bytes, sliding a window over the stream the way a terminal
// scrollback does.
//
// Each stream of each execution owns its own buffer; the mutex exists only
// because the drain goroutine and the collecting goroutine touch it from
// different sides of the completion barrier.
type captureBuffer struct {
	mu        sync.Mutex
	data      []byte
	limit     int
	truncated bool
}

// newCaptureBuffer creates a buffer retaining at most limit bytes.
func newCaptureBuffer(limit int) *captureBuffer {
	if limit <= 0 {
		limit = DefaultMaxCaptureBytes
	}
	return &captureBuffer{limit: limit}
}

// Write implements io.Writer. It never returns an error: overflow drops the
// oldest bytes rather than failing the stream.
func (b *captureBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) >= b.limit {
		// Incoming chunk alone fills the window.
		if len(p) > b.limit || len(b.data) > 0 {
			b.truncated = true
		}
		b.data = append(b.data[:0], p[len(p)-b.limit:]...)
		return len(p), nil
	}

	b.data = append(b.data, p...)
	if overflow := len(b.data) - b.limit; overflow > 0 {
		b.data = b.data[overflow:]
		b.truncated = true
	}
	return len(p), nil
}

// String returns the captured bytes as a string.
func (b *captureBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

// Len returns the number of retained bytes.
func (b *captureBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Truncated reports whether any bytes were dropped to honor the cap.
func (b *captureBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
