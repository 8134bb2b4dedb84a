// Package codec provides block audio encoders behind a queue/dequeue model:
// callers borrow input buffers, queue PCM into them with a presentation
// timestamp, and poll encoded packets back out.
//
// The model is built for a single driving goroutine. DequeueInput and
// DequeueOutput wait at most the given timeout and report ErrTryAgainLater
// when nothing is available; the first DequeueOutput that would return a
// packet reports ErrFormatChanged instead so the caller can register the
// output format before any data arrives.
package codec

import (
	"errors"
	"fmt"
	"time"
)

// Mime types of the supported output formats.
const (
	MimeAAC  = "audio/mp4a-latm"
	MimeOpus = "audio/opus"
	MimeRaw  = "audio/raw"
)

var (
	ErrTryAgainLater = errors.New("codec: try again later")
	ErrFormatChanged = errors.New("codec: output format changed")
	ErrNotStarted    = errors.New("codec: not started")
	ErrReleased      = errors.New("codec: released")
	ErrEndOfStream   = errors.New("codec: input queued after end of stream")
	ErrBadBuffer     = errors.New("codec: buffer not owned by caller")
)

// Flags describe an input or output buffer.
type Flags uint32

const (
	FlagKeyFrame Flags = 1 << iota
	FlagCodecConfig
	FlagEndOfStream
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// Format describes the PCM a codec accepts or the packets it produces.
type Format struct {
	Mime         string
	SampleRate   int
	Channels     int
	BitRate      int
	FrameSamples int    // samples per channel in one encoded packet
	Config       []byte // codec specific data, e.g. AudioSpecificConfig
}

// FrameDuration returns the duration of one encoded packet.
func (f Format) FrameDuration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(f.FrameSamples) * time.Second / time.Duration(f.SampleRate)
}

func (f Format) String() string {
	return fmt.Sprintf("%s; rate=%d; channels=%d; bitrate=%d", f.Mime, f.SampleRate, f.Channels, f.BitRate)
}

// BufferInfo is the metadata of an encoded packet.
type BufferInfo struct {
	Offset             int
	Size               int
	PresentationTimeUs int64
	Flags              Flags
}

// InputBuffer is a free slot lent to the caller. Data has the slot's full
// capacity; the caller fills a prefix and passes its length to QueueInput.
type InputBuffer struct {
	Index int
	Data  []byte
}

// OutputBuffer is an encoded packet. Data[Info.Offset:Info.Offset+Info.Size]
// holds the payload until the buffer is handed back with ReleaseOutput.
type OutputBuffer struct {
	Index int
	Data  []byte
	Info  BufferInfo
}

// Payload returns the packet bytes.
func (o *OutputBuffer) Payload() []byte {
	return o.Data[o.Info.Offset : o.Info.Offset+o.Info.Size]
}

// Codec is a stateful block encoder.
type Codec interface {
	Start() error
	DequeueInput(timeout time.Duration) (*InputBuffer, error)
	QueueInput(in *InputBuffer, size int, ptsUs int64, flags Flags) error
	DequeueOutput(timeout time.Duration) (*OutputBuffer, error)
	ReleaseOutput(out *OutputBuffer) error
	// OutputFormat is valid once DequeueOutput has reported ErrFormatChanged.
	OutputFormat() Format
	Stop() error
	Release() error
}

// New configures the named codec ("aac", "opus" or "pcm") for mono 16-bit
// input at in.SampleRate.
func New(name string, in Format) (Codec, error) {
	switch name {
	case "aac":
		return NewAAC(in)
	case "opus":
		return NewOpus(in)
	case "pcm":
		return NewPCM(in)
	}
	return nil, fmt.Errorf("codec: unknown codec %q", name)
}
