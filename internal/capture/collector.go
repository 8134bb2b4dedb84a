package capture

import (
	"encoding/binary"
	"sync"
	"time"
)

// collector buffers samples pushed by a capture callback until the session
// worker reads them. When the worker falls behind by more than capacity
// samples the oldest samples are overwritten.
type collector struct {
	mu      sync.Mutex
	buf     []int16 // ring
	head    int
	n       int
	dropped int64
	stopped bool
	ready   chan struct{}
	timeout time.Duration
}

func newCollector(capacity int, timeout time.Duration) *collector {
	return &collector{
		buf:     make([]int16, capacity),
		ready:   make(chan struct{}, 1),
		timeout: timeout,
	}
}

// Format reports little-endian int16, the only sample format requested
// from PulseAudio.
func (c *collector) Format() byte {
	return pulseFormatS16LE
}

// Write accepts little-endian int16 bytes. An odd trailing byte is ignored.
func (c *collector) Write(p []byte) (int, error) {
	c.mu.Lock()
	for i := 0; i+1 < len(p); i += 2 {
		c.putLocked(int16(binary.LittleEndian.Uint16(p[i:])))
	}
	c.mu.Unlock()
	c.notify()
	return len(p), nil
}

func (c *collector) putLocked(s int16) {
	tail := (c.head + c.n) % len(c.buf)
	c.buf[tail] = s
	if c.n == len(c.buf) {
		c.head = (c.head + 1) % len(c.buf)
		c.dropped++
		return
	}
	c.n++
}

func (c *collector) notify() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// Read copies up to len(dst) buffered samples, waiting up to the read
// timeout for the first one. Once stopped and drained it returns ErrStopped.
func (c *collector) Read(dst []int16) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()
	for {
		c.mu.Lock()
		if c.n > 0 {
			n := c.takeLocked(dst)
			c.mu.Unlock()
			return n, nil
		}
		stopped := c.stopped
		c.mu.Unlock()
		if stopped {
			return 0, ErrStopped
		}
		select {
		case <-c.ready:
		case <-deadline.C:
			return 0, nil
		}
	}
}

func (c *collector) takeLocked(dst []int16) int {
	n := min(len(dst), c.n)
	for i := range n {
		dst[i] = c.buf[(c.head+i)%len(c.buf)]
	}
	c.head = (c.head + n) % len(c.buf)
	c.n -= n
	return n
}

func (c *collector) stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.notify()
}

func (c *collector) overwritten() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
