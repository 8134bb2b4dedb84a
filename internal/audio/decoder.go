package audio

import (
	"encoding/binary"
	"fmt"
	"os/exec"
	"strconv"
)

// DecodeFile runs FFmpeg to decode an audio file to raw PCM int16 samples.
// Returns mono samples resampled to sampleRate.
func DecodeFile(path string, sampleRate int) ([]int16, error) {
	cmd := exec.Command("ffmpeg",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-loglevel", "error",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}

	return BytesToSamples(out), nil
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	PutSamples(buf, samples)
	return buf
}

// PutSamples writes samples into dst as little-endian int16.
func PutSamples(dst []byte, samples []int16) {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(s))
	}
}

// BytesToSamples decodes little-endian int16 samples. A trailing odd byte is
// ignored.
func BytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2 : i*2+2]))
	}
	return samples
}
