package codec

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

const (
	opusFrameDivisor = 50   // 20ms frames
	opusMaxPacket    = 4000 // bytes
	opusPreSkip      = 312
)

type opusEncoder struct {
	enc     *opus.Encoder
	frame   []int16 // zero-padded final frame
	samples int
}

func (e *opusEncoder) Encode(pcm []int16, dst []byte) (int, error) {
	if len(pcm) < e.samples {
		copy(e.frame, pcm)
		clear(e.frame[len(pcm):])
		pcm = e.frame
	}
	return e.enc.Encode(pcm, dst)
}

func (e *opusEncoder) MaxPacketBytes() int { return opusMaxPacket }

// NewOpus returns a mono Opus codec with 20ms frames. Opus only runs at 8,
// 12, 16, 24 or 48 kHz.
func NewOpus(in Format) (Codec, error) {
	switch in.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("codec: opus does not support %d Hz", in.SampleRate)
	}

	enc, err := opus.NewEncoder(in.SampleRate, 1, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("codec: opus encoder: %w", err)
	}
	if in.BitRate > 0 {
		if err := enc.SetBitrate(in.BitRate); err != nil {
			return nil, fmt.Errorf("codec: opus bitrate %d: %w", in.BitRate, err)
		}
	}

	samples := in.SampleRate / opusFrameDivisor
	out := Format{
		Mime:         MimeOpus,
		SampleRate:   in.SampleRate,
		Channels:     1,
		BitRate:      in.BitRate,
		FrameSamples: samples,
	}
	out.Config = opusHead(out.Channels, in.SampleRate)
	e := &opusEncoder{enc: enc, frame: make([]int16, samples), samples: samples}
	return newBlockCodec("opus", e, out, out.Config), nil
}

// opusHead builds the identification header from RFC 7845.
func opusHead(channels, sampleRate int) []byte {
	h := make([]byte, 19)
	copy(h, "OpusHead")
	h[8] = 1 // version
	h[9] = byte(channels)
	binary.LittleEndian.PutUint16(h[10:], opusPreSkip)
	binary.LittleEndian.PutUint32(h[12:], uint32(sampleRate))
	// output gain and mapping family stay zero
	return h
}
