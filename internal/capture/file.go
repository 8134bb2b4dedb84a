package capture

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-audio/wav"

	"github.com/satindergrewal/duorec/internal/audio"
)

// FileSource replays a decoded audio file. It never blocks and reports
// io.EOF once every sample has been read.
type FileSource struct {
	mu      sync.Mutex
	samples []int16
	pos     int
	started bool
	stopped bool
}

// OpenFile decodes path to mono int16 at sampleRate. Mono 16-bit WAV files
// already at that rate are read directly; anything else goes through ffmpeg.
func OpenFile(path string, sampleRate int) (*FileSource, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		samples, ok, err := readWAV(path, sampleRate)
		if err != nil {
			return nil, err
		}
		if ok {
			return NewSampleSource(samples), nil
		}
	}
	samples, err := audio.DecodeFile(path, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	return NewSampleSource(samples), nil
}

// NewSampleSource replays samples from memory.
func NewSampleSource(samples []int16) *FileSource {
	return &FileSource{samples: samples}
}

// readWAV reports ok=false when the file needs conversion.
func readWAV(path string, sampleRate int) ([]int16, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("capture: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, false, fmt.Errorf("capture: %s is not a valid wav file", path)
	}
	if int(dec.SampleRate) != sampleRate || dec.NumChans != 1 || dec.BitDepth != 16 {
		return nil, false, nil
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, false, fmt.Errorf("capture: decode %s: %w", path, err)
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return samples, true, nil
}

func (s *FileSource) Start() error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *FileSource) Read(dst []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !s.started:
		return 0, ErrNotStarted
	case s.stopped:
		return 0, ErrStopped
	case s.pos >= len(s.samples):
		return 0, io.EOF
	}
	n := copy(dst, s.samples[s.pos:])
	s.pos += n
	return n, nil
}

func (s *FileSource) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

func (s *FileSource) Close() error { return s.Stop() }
