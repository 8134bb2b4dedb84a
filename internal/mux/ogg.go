package mux

import (
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/satindergrewal/duorec/internal/codec"
)

const (
	opusClockRate   = 48000
	opusPayloadType = 111
)

// Ogg writes Opus packets into an Ogg container. Packets are wrapped in RTP
// headers because that is what the pion writer consumes; the RTP timestamp
// carries the granule position at the 48kHz Opus clock.
type Ogg struct {
	path string
	f    *os.File
	w    *oggwriter.OggWriter
	lifecycle

	seq  uint16
	ssrc uint32
}

// NewOgg creates the output file. The Ogg headers are written when the
// track is added.
func NewOgg(path string) (*Ogg, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("mux: create %s: %w", path, err)
	}
	return &Ogg{path: path, f: f, ssrc: rand.Uint32()}, nil
}

func (o *Ogg) AddTrack(format codec.Format) (int, error) {
	if format.Mime != codec.MimeOpus {
		return -1, fmt.Errorf("%w: %s in ogg", ErrUnsupportedCodec, format.Mime)
	}
	if err := o.lifecycle.addTrack(); err != nil {
		return -1, err
	}
	w, err := oggwriter.NewWith(o.f, uint32(format.SampleRate), uint16(format.Channels))
	if err != nil {
		o.hasTrack = false
		return -1, fmt.Errorf("mux: ogg headers: %w", err)
	}
	o.w = w
	return 0, nil
}

func (o *Ogg) Start() error {
	return o.lifecycle.start()
}

func (o *Ogg) WriteSample(track int, data []byte, info codec.BufferInfo) error {
	if err := o.lifecycle.writable(track); err != nil {
		return err
	}
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: o.seq,
			Timestamp:      uint32(info.PresentationTimeUs * opusClockRate / 1_000_000),
			SSRC:           o.ssrc,
		},
		Payload: data,
	}
	o.seq++
	if err := o.w.WriteRTP(pkt); err != nil {
		return fmt.Errorf("mux: ogg write: %w", err)
	}
	return nil
}

// Stop flushes the Ogg stream. The pion writer closes the file with it.
func (o *Ogg) Stop() error {
	wasStarted := o.started
	if !o.lifecycle.stop() {
		return nil
	}
	if o.w != nil {
		err := o.w.Close()
		o.w = nil
		o.f = nil
		if err != nil {
			return fmt.Errorf("mux: ogg close: %w", err)
		}
	}
	if !wasStarted {
		return ErrNotStarted
	}
	return nil
}

// Release closes the file if Stop did not. A file that never received a
// track is removed.
func (o *Ogg) Release() error {
	if o.f == nil {
		return nil
	}
	err := o.f.Close()
	o.f = nil
	if !o.hasTrack {
		os.Remove(o.path)
	}
	return err
}
