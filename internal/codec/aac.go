package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

const (
	aacFrameSamples = 1024
	aacStopTimeout  = 2 * time.Second
)

// aacCodec encodes AAC-LC by piping PCM through an FFmpeg process and
// splitting its ADTS output into raw access units. Packets arrive
// asynchronously; DequeueOutput only waits for them while the end of stream
// is being flushed.
type aacCodec struct {
	in     Format
	ffmpeg string

	mu         sync.Mutex
	sig        *signal
	slots      *inputSlots
	queue      *outQueue
	maxQueued  int
	out        Format
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	readerDone chan struct{}
	readErr    error
	readerEOF  bool
	basePTS    int64
	haveBase   bool
	frames     int64
	started    bool
	eos        bool
	waited     bool
	released   bool
}

// NewAAC returns an AAC-LC codec backed by the ffmpeg binary on PATH.
func NewAAC(in Format) (Codec, error) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("codec: aac needs ffmpeg: %w", err)
	}
	if in.SampleRate <= 0 {
		return nil, fmt.Errorf("codec: aac sample rate %d", in.SampleRate)
	}
	return &aacCodec{
		in:        in,
		ffmpeg:    path,
		sig:       newSignal(),
		slots:     newInputSlots(inputSlotCount, inputSlotBytes),
		queue:     newOutQueue(),
		maxQueued: maxQueuedPackets,
		out: Format{
			Mime:         MimeAAC,
			SampleRate:   in.SampleRate,
			Channels:     1,
			BitRate:      in.BitRate,
			FrameSamples: aacFrameSamples,
		},
	}, nil
}

func (c *aacCodec) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrReleased
	}
	if c.started {
		return nil
	}

	args := []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(c.in.SampleRate),
		"-ac", "1",
		"-i", "pipe:0",
		"-c:a", "aac",
	}
	if c.in.BitRate > 0 {
		args = append(args, "-b:a", strconv.Itoa(c.in.BitRate))
	}
	args = append(args, "-f", "adts", "-loglevel", "error", "pipe:1")
	cmd := exec.Command(c.ffmpeg, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("codec: aac stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("codec: aac stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("codec: aac start ffmpeg: %w", err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.readerDone = make(chan struct{})
	c.started = true
	go c.readLoop(stdout)
	return nil
}

func (c *aacCodec) readLoop(r io.Reader) {
	defer close(c.readerDone)
	br := bufio.NewReader(r)
	for {
		h, au, err := readADTSFrame(br)

		c.mu.Lock()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if c.eos {
					c.queue.push(nil, c.ptsLocked(), FlagEndOfStream)
				}
			} else if !c.released {
				c.readErr = fmt.Errorf("codec: aac read: %w", err)
			}
			c.readerEOF = true
			c.sig.notify()
			c.mu.Unlock()
			return
		}
		if c.frames == 0 {
			c.out.SampleRate = h.sampleRate()
			c.out.Channels = h.channelConfig
			c.out.Config = h.audioSpecificConfig()
		}
		c.queue.push(au, c.ptsLocked(), FlagKeyFrame)
		c.frames++
		c.sig.notify()
		c.mu.Unlock()
	}
}

func (c *aacCodec) ptsLocked() int64 {
	return c.basePTS + c.frames*aacFrameSamples*1_000_000/int64(c.out.SampleRate)
}

func (c *aacCodec) usableLocked() error {
	if c.released {
		return ErrReleased
	}
	if !c.started {
		return ErrNotStarted
	}
	if c.readErr != nil {
		return c.readErr
	}
	return nil
}

func (c *aacCodec) DequeueInput(timeout time.Duration) (*InputBuffer, error) {
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

func (c *aacCodec) QueueInput(in *InputBuffer, size int, ptsUs int64, flags Flags) error {
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.eos {
		c.mu.Unlock()
		return ErrEndOfStream
	}
	if in == nil || size < 0 || size > len(in.Data) {
		c.mu.Unlock()
		return ErrBadBuffer
	}
	if !c.haveBase {
		c.basePTS = ptsUs
		c.haveBase = true
	}
	stdin := c.stdin
	c.mu.Unlock()

	// The pipe write may block until ffmpeg catches up; the reader goroutine
	// needs the lock meanwhile.
	var werr error
	if size > 0 {
		_, werr = stdin.Write(in.Data[:size])
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.slots.give(in); err != nil {
		return err
	}
	if werr != nil {
		return fmt.Errorf("codec: aac write: %w", werr)
	}
	if flags.Has(FlagEndOfStream) {
		c.eos = true
		if err := stdin.Close(); err != nil {
			return fmt.Errorf("codec: aac close input: %w", err)
		}
	}
	return nil
}

func (c *aacCodec) DequeueOutput(timeout time.Duration) (*OutputBuffer, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		c.mu.Lock()
		if c.released {
			c.mu.Unlock()
			return nil, ErrReleased
		}
		out, err := c.queue.pop()
		if err != ErrTryAgainLater {
			c.sig.notify()
			c.mu.Unlock()
			return out, err
		}
		if c.readErr != nil {
			err := c.readErr
			c.mu.Unlock()
			return nil, err
		}
		if !c.eos || c.readerEOF {
			c.mu.Unlock()
			return nil, ErrTryAgainLater
		}
		ch := c.sig.ch
		c.mu.Unlock()
		if !wait(ch, timer) {
			return nil, ErrTryAgainLater
		}
	}
}

func (c *aacCodec) ReleaseOutput(out *OutputBuffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.release(out)
}

func (c *aacCodec) OutputFormat() Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out
}

// Stop closes ffmpeg's input and waits for it to exit, killing it if it
// does not finish within aacStopTimeout.
func (c *aacCodec) Stop() error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return ErrReleased
	}
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	if !c.eos {
		c.eos = true
		c.stdin.Close()
	}
	done := c.readerDone
	c.mu.Unlock()

	select {
	case <-done:
	case <-time.After(aacStopTimeout):
		c.kill()
	}
	return c.waitProcess()
}

func (c *aacCodec) Release() error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil
	}
	c.released = true
	c.queue.reset()
	c.sig.notify()
	c.mu.Unlock()

	c.kill()
	return c.waitProcess()
}

func (c *aacCodec) kill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd != nil && !c.waited && c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
}

func (c *aacCodec) waitProcess() error {
	c.mu.Lock()
	if c.cmd == nil || c.waited {
		c.mu.Unlock()
		return nil
	}
	c.waited = true
	cmd := c.cmd
	c.mu.Unlock()

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && !exitErr.Exited() {
			// killed by us
			return nil
		}
		return fmt.Errorf("codec: aac ffmpeg: %w", err)
	}
	return nil
}
