// Package ratelimit provides a token bucket rate limiter for bandwidth
// throttling of FTP data connections.
package ratelimit

import (
	"io"
	"sync"
	"time"
)

// maxWait caps a single sleep so a large chunk never stalls a transfer
// for long; the bucket simply runs a little in debt instead.
const maxWait = time.Second

// Limiter is a token bucket limiting throughput to a fixed number of bytes
// per second, with a burst of one second's worth of data. A nil *Limiter
// does not limit.
type Limiter struct {
	mu     sync.Mutex
	rate   float64 // bytes per second
	tokens float64 // available bytes, capped at rate
	last   time.Time

	// sleep is replaceable in tests
	sleep func(time.Duration)
}

// New returns a limiter for bytesPerSecond, or nil when bytesPerSecond <= 0.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	rate := float64(bytesPerSecond)
	return &Limiter{rate: rate, tokens: rate, last: time.Now(), sleep: time.Sleep}
}

// Rate returns the configured bytes per second, or 0 for a nil limiter.
func (l *Limiter) Rate() int64 {
	if l == nil {
		return 0
	}
	return int64(l.rate)
}

// refill adds the tokens earned since the last call. l.mu must be held.
func (l *Limiter) refill(now time.Time) {
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	if l.tokens > l.rate {
		l.tokens = l.rate
	}
	l.last = now
}

// Wait blocks until n bytes may be transferred.
func (l *Limiter) Wait(n int) {
	if l == nil || n <= 0 {
		return
	}

	l.mu.Lock()
	l.refill(time.Now())
	l.tokens -= float64(n)
	debt := -l.tokens
	l.mu.Unlock()

	if debt <= 0 {
		return
	}
	wait := time.Duration(debt / l.rate * float64(time.Second))
	l.sleep(min(wait, maxWait))
}

// chunk bounds each read or write so the limiter is consulted often.
const chunk = 16 * 1024

type reader struct {
	r io.Reader
	l *Limiter
}

// NewReader returns r throttled by l. A nil limiter returns r unchanged.
func NewReader(r io.Reader, l *Limiter) io.Reader {
	if l == nil {
		return r
	}
	return &reader{r: r, l: l}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) > chunk {
		p = p[:chunk]
	}
	n, err := r.r.Read(p)
	r.l.Wait(n)
	return n, err
}

type writer struct {
	w io.Writer
	l *Limiter
}

// NewWriter returns w throttled by l. A nil limiter returns w unchanged.
func NewWriter(w io.Writer, l *Limiter) io.Writer {
	if l == nil {
		return w
	}
	return &writer{w: w, l: l}
}

func (w *writer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		end := min(written+chunk, len(p))
		w.l.Wait(end - written)
		n, err := w.w.Write(p[written:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
