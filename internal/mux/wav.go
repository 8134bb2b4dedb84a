package mux

import (
	"encoding/binary"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/satindergrewal/duorec/internal/codec"
)

// WAV writes raw PCM packets to a RIFF/WAVE file. The header sizes are
// patched on Stop.
type WAV struct {
	path string
	f    *os.File
	enc  *wav.Encoder
	lifecycle

	buf goaudio.IntBuffer
}

// NewWAV creates the output file.
func NewWAV(path string) (*WAV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("mux: create %s: %w", path, err)
	}
	return &WAV{path: path, f: f}, nil
}

func (w *WAV) AddTrack(format codec.Format) (int, error) {
	if format.Mime != codec.MimeRaw {
		return -1, fmt.Errorf("%w: %s in wav", ErrUnsupportedCodec, format.Mime)
	}
	if err := w.lifecycle.addTrack(); err != nil {
		return -1, err
	}
	w.enc = wav.NewEncoder(w.f, format.SampleRate, 16, format.Channels, 1)
	w.buf = goaudio.IntBuffer{
		Format:         &goaudio.Format{SampleRate: format.SampleRate, NumChannels: format.Channels},
		SourceBitDepth: 16,
	}
	return 0, nil
}

func (w *WAV) Start() error {
	return w.lifecycle.start()
}

func (w *WAV) WriteSample(track int, data []byte, _ codec.BufferInfo) error {
	if err := w.lifecycle.writable(track); err != nil {
		return err
	}
	n := len(data) / 2
	if cap(w.buf.Data) < n {
		w.buf.Data = make([]int, n)
	}
	w.buf.Data = w.buf.Data[:n]
	for i := range w.buf.Data {
		w.buf.Data[i] = int(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	if err := w.enc.Write(&w.buf); err != nil {
		return fmt.Errorf("mux: wav write: %w", err)
	}
	return nil
}

// Stop finalises the RIFF header.
func (w *WAV) Stop() error {
	wasStarted := w.started
	if !w.lifecycle.stop() {
		return nil
	}
	if !wasStarted {
		return ErrNotStarted
	}
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("mux: wav finalise: %w", err)
	}
	return nil
}

// Release closes the file. A file that never received a track is removed.
func (w *WAV) Release() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	if !w.hasTrack {
		os.Remove(w.path)
	}
	return err
}
