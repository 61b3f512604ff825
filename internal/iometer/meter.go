// Package iometer wraps readers and writers with byte counting, rate limiting
// and context cancellation.
package iometer

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const burstLimit = 1024 * 1024 * 1024 // 1GB

// newLimiter returns a limiter of bytesPerSec with its initial burst already
// spent, so the limit applies from the first byte. A non-positive rate means
// no limit.
func newLimiter(bytesPerSec float64) (limiter *rate.Limiter) {
	if bytesPerSec <= 0 {
		return nil
	}
	limiter = rate.NewLimiter(rate.Limit(bytesPerSec), burstLimit)
	limiter.AllowN(time.Now(), burstLimit)
	return
}

// waitN waits for n tokens, splitting requests larger than the burst.
func waitN(ctx context.Context, limiter *rate.Limiter, n int) (err error) {
	if limiter == nil {
		return
	}
	for n > 0 {
		step := min(n, burstLimit)
		if err = limiter.WaitN(ctx, step); err != nil {
			return
		}
		n -= step
	}
	return
}

// Reader wraps an io.Reader and counts the bytes read from it.
type Reader struct {
	ctx     context.Context
	reader  io.Reader
	limiter *rate.Limiter

	// counter is shared by every meter reporting into the same total
	counter *atomic.Int64

	closed bool
}

// NewReader constructs a Reader. counter may be nil.
func NewReader(ctx context.Context, reader io.Reader, counter *atomic.Int64) (r *Reader) {
	if counter == nil {
		counter = new(atomic.Int64)
	}
	r = &Reader{
		ctx:     ctx,
		reader:  reader,
		counter: counter,
	}
	return
}

// Read reads from the underlying reader, waits for the rate limiter and
// increments the counter.
func (r *Reader) Read(p []byte) (n int, err error) {
	if err = r.ctx.Err(); err != nil {
		return
	}
	n, err = r.reader.Read(p)
	if n > 0 {
		r.counter.Add(int64(n))
		if waitErr := waitN(r.ctx, r.limiter, n); waitErr != nil {
			err = waitErr
		}
	}
	return
}

// Close closes the underlying reader if it implements io.Closer.
func (r *Reader) Close() (err error) {
	if r.closed {
		return
	}
	if closer, ok := r.reader.(io.Closer); ok {
		err = closer.Close()
	}
	r.closed = true
	return
}

// Transferred returns the value of the counter.
func (r *Reader) Transferred() int64 {
	return r.counter.Load()
}

// SetRateLimit sets the rate limit in bytes/sec, zero removes it.
func (r *Reader) SetRateLimit(bytesPerSec float64) {
	r.limiter = newLimiter(bytesPerSec)
}

// Writer wraps an io.Writer and counts the bytes written to it.
type Writer struct {
	ctx     context.Context
	writer  io.Writer
	limiter *rate.Limiter
	counter *atomic.Int64
}

// NewWriter constructs a Writer. counter may be nil.
func NewWriter(ctx context.Context, writer io.Writer, counter *atomic.Int64) (w *Writer) {
	if counter == nil {
		counter = new(atomic.Int64)
	}
	w = &Writer{
		ctx:     ctx,
		writer:  writer,
		counter: counter,
	}
	return
}

// Write waits for the rate limiter, writes p and increments the counter.
func (w *Writer) Write(p []byte) (n int, err error) {
	if err = w.ctx.Err(); err != nil {
		return
	}
	if err = waitN(w.ctx, w.limiter, len(p)); err != nil {
		return
	}
	n, err = w.writer.Write(p)
	if n > 0 {
		w.counter.Add(int64(n))
	}
	return
}

// Transferred returns the value of the counter.
func (w *Writer) Transferred() int64 {
	return w.counter.Load()
}

// SetRateLimit sets the rate limit in bytes/sec, zero removes it.
func (w *Writer) SetRateLimit(bytesPerSec float64) {
	w.limiter = newLimiter(bytesPerSec)
}
