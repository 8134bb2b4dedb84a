package codec

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

const (
	inputSlotCount   = 4
	inputSlotBytes   = 8192
	maxQueuedPackets = 64
)

// frameEncoder turns one frame of samples into a packet. pcm is shorter than
// a full frame only for the final flush at end of stream.
type frameEncoder interface {
	Encode(pcm []int16, dst []byte) (int, error)
	MaxPacketBytes() int
}

// blockCodec adapts a synchronous frame encoder to the Codec model. Input is
// accumulated until a whole frame is available and encoded inside
// QueueInput, so packets never appear while the caller waits: DequeueOutput
// returns immediately. DequeueInput applies backpressure once
// maxQueuedPackets encoded packets are waiting to be drained.
type blockCodec struct {
	name   string
	enc    frameEncoder
	out    Format
	config []byte // emitted once as a codec-config packet

	mu        sync.Mutex
	sig       *signal
	slots     *inputSlots
	queue     *outQueue
	maxQueued int
	scratch   []byte
	pending   []int16
	basePTS   int64
	haveBase  bool
	encoded   int64 // samples encoded since basePTS
	started   bool
	eos       bool
	released  bool
}

func newBlockCodec(name string, enc frameEncoder, out Format, config []byte) *blockCodec {
	return &blockCodec{
		name:      name,
		enc:       enc,
		out:       out,
		config:    config,
		sig:       newSignal(),
		slots:     newInputSlots(inputSlotCount, inputSlotBytes),
		queue:     newOutQueue(),
		maxQueued: maxQueuedPackets,
		scratch:   make([]byte, enc.MaxPacketBytes()),
	}
}

func (c *blockCodec) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrReleased
	}
	if c.started {
		return nil
	}
	c.started = true
	if c.config != nil {
		c.queue.push(c.config, 0, FlagCodecConfig)
	}
	return nil
}

func (c *blockCodec) usableLocked() error {
	if c.released {
		return ErrReleased
	}
	if !c.started {
		return ErrNotStarted
	}
	return nil
}

func (c *blockCodec) DequeueInput(timeout time.Duration) (*InputBuffer, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		c.mu.Lock()
		if err := c.usableLocked(); err != nil {
			c.mu.Unlock()
			return nil, err
		}
		if c.eos {
			c.mu.Unlock()
			return nil, ErrEndOfStream
		}
		if c.slots.available() && c.queue.len() < c.maxQueued {
			in := c.slots.take()
			c.mu.Unlock()
			return in, nil
		}
		ch := c.sig.ch
		c.mu.Unlock()
		if !wait(ch, timer) {
			return nil, ErrTryAgainLater
		}
	}
}

func (c *blockCodec) QueueInput(in *InputBuffer, size int, ptsUs int64, flags Flags) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return err
	}
	if c.eos {
		return ErrEndOfStream
	}
	if err := c.slots.give(in); err != nil {
		return err
	}
	if size < 0 || size > len(in.Data) {
		return fmt.Errorf("codec: %s input size %d out of range [0, %d]", c.name, size, len(in.Data))
	}
	defer c.sig.notify()

	if !c.haveBase {
		c.basePTS = ptsUs
		c.haveBase = true
	}
	for i := 0; i+1 < size; i += 2 {
		c.pending = append(c.pending, int16(binary.LittleEndian.Uint16(in.Data[i:])))
	}

	eos := flags.Has(FlagEndOfStream)
	if err := c.encodeLocked(eos); err != nil {
		return err
	}
	if eos {
		c.queue.push(nil, c.ptsLocked(), FlagEndOfStream)
		c.eos = true
	}
	return nil
}

// encodeLocked encodes every whole frame in pending, plus the partial tail
// when flush is set.
func (c *blockCodec) encodeLocked(flush bool) error {
	frame := c.out.FrameSamples
	done := 0
	for len(c.pending)-done >= frame || (flush && len(c.pending) > done) {
		end := min(done+frame, len(c.pending))
		n, err := c.enc.Encode(c.pending[done:end], c.scratch)
		if err != nil {
			return fmt.Errorf("codec: %s encode: %w", c.name, err)
		}
		pkt := make([]byte, n)
		copy(pkt, c.scratch[:n])
		c.queue.push(pkt, c.ptsLocked(), FlagKeyFrame)
		c.encoded += int64(end - done)
		done = end
	}
	c.pending = append(c.pending[:0], c.pending[done:]...)
	return nil
}

func (c *blockCodec) ptsLocked() int64 {
	return c.basePTS + c.encoded*1_000_000/int64(c.out.SampleRate)
}

func (c *blockCodec) DequeueOutput(time.Duration) (*OutputBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, ErrReleased
	}
	out, err := c.queue.pop()
	if err == nil || err == ErrFormatChanged {
		c.sig.notify()
	}
	return out, err
}

func (c *blockCodec) ReleaseOutput(out *OutputBuffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.release(out)
}

func (c *blockCodec) OutputFormat() Format {
	return c.out
}

func (c *blockCodec) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrReleased
	}
	c.started = false
	c.pending = c.pending[:0]
	c.queue.reset()
	c.sig.notify()
	return nil
}

func (c *blockCodec) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil
	}
	c.released = true
	c.queue.reset()
	c.sig.notify()
	return nil
}
