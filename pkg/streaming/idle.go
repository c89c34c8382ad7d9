package streaming

import (
	"io"
	"sync"
	"time"
)

// idleTimeoutReader closes the underlying body when no bytes arrive within
// the configured window, so a silent connection cannot hang a stream
// forever. Closing the body makes the blocked Read return an error, which
// the normalizer converts into a terminal error chunk.
type idleTimeoutReader struct {
	body    io.ReadCloser
	timeout time.Duration

	mu    sync.Mutex
	timer *time.Timer
	fired bool
}

func newIdleTimeoutReader(body io.ReadCloser, timeout time.Duration) *idleTimeoutReader {
	r := &idleTimeoutReader{body: body, timeout: timeout}
	r.timer = time.AfterFunc(timeout, r.expire)
	return r
}

func (r *idleTimeoutReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)

	r.mu.Lock()
	if r.fired {
		r.mu.Unlock()
		return n, errIdleTimeout
	}
	r.timer.Reset(r.timeout)
	r.mu.Unlock()

	return n, err
}

func (r *idleTimeoutReader) expire() {
	r.mu.Lock()
	r.fired = true
	r.mu.Unlock()
	r.body.Close()
}

func (r *idleTimeoutReader) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timer.Stop()
}

type idleTimeoutError struct{}

func (idleTimeoutError) Error() string { return "stream idle timeout" }
func (idleTimeoutError) Timeout() bool { return true }

var errIdleTimeout = idleTimeoutError{}
