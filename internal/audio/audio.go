package audio

import "time"

const (
	DefaultSampleRate = 44100
	Channels          = 1
	BitDepth          = 16
	BytesPerSample    = BitDepth / 8

	DefaultBitRate      = 196000
	DefaultMicGain      = 1.4
	DefaultChunkSamples = 2048 // samples per stream read
	DefaultChunkBytes   = DefaultChunkSamples * BytesPerSample
	OutputTimeout       = 500 * time.Millisecond // codec dequeue wait
)

// Reader is a live mono 16-bit PCM stream. Read fills dst with up to
// len(dst) samples and returns how many were written. A non-nil error means
// the read failed and n must be ignored.
type Reader interface {
	Read(dst []int16) (n int, err error)
}

// PresentationTime returns the timestamp in microseconds of the sample that
// follows totalBytes of mono s16le audio.
func PresentationTime(totalBytes int64, sampleRate int) int64 {
	return 1_000_000 * (totalBytes / BytesPerSample) / int64(sampleRate)
}

// Duration returns the playback length of n samples.
func Duration(samples int64, sampleRate int) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
