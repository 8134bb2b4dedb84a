package recorder

import (
	"errors"
	"sync"
	"time"

	"github.com/satindergrewal/duorec/internal/capture"
	"github.com/satindergrewal/duorec/internal/codec"
	"github.com/satindergrewal/duorec/internal/mux"
)

type written struct {
	data []byte
	info codec.BufferInfo
}

type fakeMuxer struct {
	mu       sync.Mutex
	format   codec.Format
	added    int
	started  int
	stopped  int
	released int
	samples  []written

	releasedCh chan struct{}
}

func newFakeMuxer() *fakeMuxer {
	return &fakeMuxer{releasedCh: make(chan struct{})}
}

func (m *fakeMuxer) AddTrack(f codec.Format) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added++
	m.format = f
	return 0, nil
}

func (m *fakeMuxer) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.added == 0 {
		return mux.ErrNoTrack
	}
	m.started++
	return nil
}

func (m *fakeMuxer) WriteSample(track int, data []byte, info codec.BufferInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started == 0 {
		return mux.ErrNotStarted
	}
	m.samples = append(m.samples, written{append([]byte(nil), data...), info})
	return nil
}

func (m *fakeMuxer) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped++
	if m.started == 0 {
		return mux.ErrNotStarted
	}
	return nil
}

func (m *fakeMuxer) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
	if m.released == 1 {
		close(m.releasedCh)
	}
	return nil
}

func (m *fakeMuxer) payload() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []byte
	for _, s := range m.samples {
		out = append(out, s.data...)
	}
	return out
}

// eosCounter wraps a real codec and counts end-of-stream inputs.
type eosCounter struct {
	codec.Codec
	mu  sync.Mutex
	eos int
}

func (c *eosCounter) QueueInput(in *codec.InputBuffer, size int, pts int64, flags codec.Flags) error {
	if flags.Has(codec.FlagEndOfStream) {
		c.mu.Lock()
		c.eos++
		c.mu.Unlock()
	}
	return c.Codec.QueueInput(in, size, pts, flags)
}

type queued struct {
	size  int
	pts   int64
	flags codec.Flags
	data  []byte
}

// scriptCodec hands out a fixed number of input buffers and returns
// scripted outputs, each either an error or a packet.
type scriptCodec struct {
	inputs   int // remaining input buffers, -1 for unlimited
	slotSize int
	queued   []queued
	outputs  []any
	format   codec.Format
}

func (c *scriptCodec) Start() error { return nil }

func (c *scriptCodec) DequeueInput(time.Duration) (*codec.InputBuffer, error) {
	if c.inputs == 0 {
		return nil, codec.ErrTryAgainLater
	}
	if c.inputs > 0 {
		c.inputs--
	}
	return &codec.InputBuffer{Data: make([]byte, c.slotSize)}, nil
}

func (c *scriptCodec) QueueInput(in *codec.InputBuffer, size int, pts int64, flags codec.Flags) error {
	c.queued = append(c.queued, queued{size, pts, flags, append([]byte(nil), in.Data[:size]...)})
	return nil
}

func (c *scriptCodec) DequeueOutput(time.Duration) (*codec.OutputBuffer, error) {
	if len(c.outputs) == 0 {
		return nil, codec.ErrTryAgainLater
	}
	next := c.outputs[0]
	c.outputs = c.outputs[1:]
	if err, ok := next.(error); ok {
		return nil, err
	}
	return next.(*codec.OutputBuffer), nil
}

func (c *scriptCodec) ReleaseOutput(*codec.OutputBuffer) error { return nil }
func (c *scriptCodec) OutputFormat() codec.Format              { return c.format }
func (c *scriptCodec) Stop() error                             { return nil }
func (c *scriptCodec) Release() error                          { return nil }

func packet(data []byte, pts int64, flags codec.Flags) *codec.OutputBuffer {
	return &codec.OutputBuffer{
		Data: data,
		Info: codec.BufferInfo{Size: len(data), PresentationTimeUs: pts, Flags: flags},
	}
}

// blockingSource never delivers and ignores Stop until unblock is closed.
type blockingSource struct {
	unblock chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newBlockingSource() *blockingSource {
	return &blockingSource{unblock: make(chan struct{}), closed: make(chan struct{})}
}

func (s *blockingSource) Start() error { return nil }

func (s *blockingSource) Read([]int16) (int, error) {
	<-s.unblock
	return 0, capture.ErrStopped
}

func (s *blockingSource) Stop() error { return nil }

func (s *blockingSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

var errOpen = errors.New("device busy")
