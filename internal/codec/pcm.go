package codec

import "encoding/binary"

const pcmFrameSamples = 1024

type pcmEncoder struct{}

func (pcmEncoder) Encode(pcm []int16, dst []byte) (int, error) {
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(s))
	}
	return len(pcm) * 2, nil
}

func (pcmEncoder) MaxPacketBytes() int { return pcmFrameSamples * 2 }

// NewPCM returns a passthrough codec emitting s16le packets of 1024 samples.
func NewPCM(in Format) (Codec, error) {
	out := Format{
		Mime:         MimeRaw,
		SampleRate:   in.SampleRate,
		Channels:     1,
		BitRate:      in.SampleRate * 16,
		FrameSamples: pcmFrameSamples,
	}
	return newBlockCodec("pcm", pcmEncoder{}, out, nil), nil
}
