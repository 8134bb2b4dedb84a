package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

var errBadADTS = errors.New("codec: bad ADTS header")

var adtsSampleRates = [...]int{96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350}

type adtsHeader struct {
	objectType    int // MPEG-4 audio object type (profile + 1)
	sampleIndex   int
	channelConfig int
	frameLength   int // header included
	headerLength  int // 7, or 9 with CRC
}

func (h adtsHeader) sampleRate() int {
	if h.sampleIndex >= len(adtsSampleRates) {
		return 0
	}
	return adtsSampleRates[h.sampleIndex]
}

// audioSpecificConfig returns the two byte MPEG-4 AudioSpecificConfig.
func (h adtsHeader) audioSpecificConfig() []byte {
	return []byte{
		byte(h.objectType<<3 | h.sampleIndex>>1),
		byte((h.sampleIndex&1)<<7 | h.channelConfig<<3),
	}
}

func parseADTSHeader(b []byte) (adtsHeader, error) {
	if len(b) < 7 {
		return adtsHeader{}, fmt.Errorf("%w: %d bytes", errBadADTS, len(b))
	}
	if b[0] != 0xFF || b[1]&0xF0 != 0xF0 {
		return adtsHeader{}, fmt.Errorf("%w: sync word %02x%02x", errBadADTS, b[0], b[1])
	}
	h := adtsHeader{
		objectType:    int(b[2]>>6) + 1,
		sampleIndex:   int(b[2]>>2) & 0x0F,
		channelConfig: int(b[2]&0x01)<<2 | int(b[3]>>6),
		frameLength:   int(b[3]&0x03)<<11 | int(b[4])<<3 | int(b[5]>>5),
		headerLength:  7,
	}
	if b[1]&0x01 == 0 {
		h.headerLength = 9
	}
	if h.frameLength < h.headerLength {
		return adtsHeader{}, fmt.Errorf("%w: frame length %d", errBadADTS, h.frameLength)
	}
	if h.sampleRate() == 0 {
		return adtsHeader{}, fmt.Errorf("%w: sample rate index %d", errBadADTS, h.sampleIndex)
	}
	return h, nil
}

// readADTSFrame reads one ADTS frame and returns its header and raw access
// unit. It returns io.EOF only at a clean frame boundary.
func readADTSFrame(r *bufio.Reader) (adtsHeader, []byte, error) {
	var hdr [7]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return adtsHeader{}, nil, err
	}
	h, err := parseADTSHeader(hdr[:])
	if err != nil {
		return adtsHeader{}, nil, err
	}
	rest := make([]byte, h.frameLength-len(hdr))
	if _, err := io.ReadFull(r, rest); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return adtsHeader{}, nil, err
	}
	return h, rest[h.headerLength-len(hdr):], nil
}
