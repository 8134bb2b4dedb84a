package mux

import (
	"fmt"
	"os"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/satindergrewal/duorec/internal/codec"
)

const (
	mp4TrackID       = 1
	opusMP4TimeScale = 48000
	fragmentSeconds  = 1
)

// MP4 writes a fragmented MP4 file: an init segment when the track is
// registered, then one moof/mdat fragment per second of audio.
type MP4 struct {
	path string
	f    *os.File
	lifecycle

	format    codec.Format
	timeScale uint32
	seq       uint32

	samples   []*fmp4.Sample
	baseTime  uint64 // timescale units of samples[0]
	queuedDur uint64

	held     []byte // last sample, waiting for the next timestamp
	heldTS   uint64
	haveHeld bool
}

// NewMP4 creates the output file. Nothing is written until the track is added.
func NewMP4(path string) (*MP4, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("mux: create %s: %w", path, err)
	}
	return &MP4{path: path, f: f}, nil
}

func mp4Codec(format codec.Format) (mp4.Codec, uint32, error) {
	switch format.Mime {
	case codec.MimeAAC:
		var conf mpeg4audio.AudioSpecificConfig
		if err := conf.Unmarshal(format.Config); err != nil {
			return nil, 0, fmt.Errorf("mux: aac config: %w", err)
		}
		return &mp4.CodecMPEG4Audio{Config: conf}, uint32(format.SampleRate), nil
	case codec.MimeOpus:
		return &mp4.CodecOpus{ChannelCount: format.Channels}, opusMP4TimeScale, nil
	case codec.MimeRaw:
		return &mp4.CodecLPCM{
			LittleEndian: true,
			BitDepth:     16,
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
		}, uint32(format.SampleRate), nil
	}
	return nil, 0, fmt.Errorf("%w: %s in mp4", ErrUnsupportedCodec, format.Mime)
}

func (m *MP4) AddTrack(format codec.Format) (int, error) {
	if err := m.lifecycle.addTrack(); err != nil {
		return -1, err
	}
	c, timeScale, err := mp4Codec(format)
	if err != nil {
		m.hasTrack = false
		return -1, err
	}

	initSeg := fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        mp4TrackID,
			TimeScale: timeScale,
			Codec:     c,
		}},
	}
	if err := initSeg.Marshal(m.f); err != nil {
		m.hasTrack = false
		return -1, fmt.Errorf("mux: write mp4 init: %w", err)
	}
	m.format = format
	m.timeScale = timeScale
	return 0, nil
}

func (m *MP4) Start() error {
	return m.lifecycle.start()
}

func (m *MP4) toTimeScale(us int64) uint64 {
	if us < 0 {
		us = 0
	}
	return uint64(us) * uint64(m.timeScale) / 1_000_000
}

// WriteSample queues data. A sample's duration is only known once the next
// timestamp arrives, so the newest sample is held back until then.
func (m *MP4) WriteSample(track int, data []byte, info codec.BufferInfo) error {
	if err := m.lifecycle.writable(track); err != nil {
		return err
	}
	ts := m.toTimeScale(info.PresentationTimeUs)
	if m.haveHeld {
		dur := uint64(0)
		if ts > m.heldTS {
			dur = ts - m.heldTS
		}
		if err := m.queue(m.held, m.heldTS, dur); err != nil {
			return err
		}
	}
	m.held = append([]byte(nil), data...)
	m.heldTS = ts
	m.haveHeld = true
	return nil
}

func (m *MP4) queue(payload []byte, ts, dur uint64) error {
	if len(m.samples) == 0 {
		m.baseTime = ts
	}
	m.samples = append(m.samples, &fmp4.Sample{
		Duration: uint32(dur),
		Payload:  payload,
	})
	m.queuedDur += dur
	if m.queuedDur >= uint64(m.timeScale)*fragmentSeconds {
		return m.flush()
	}
	return nil
}

func (m *MP4) flush() error {
	if len(m.samples) == 0 {
		return nil
	}
	m.seq++
	part := fmp4.Part{
		SequenceNumber: m.seq,
		Tracks: []*fmp4.PartTrack{{
			ID:       mp4TrackID,
			BaseTime: m.baseTime,
			Samples:  m.samples,
		}},
	}
	if err := part.Marshal(m.f); err != nil {
		return fmt.Errorf("mux: write mp4 fragment %d: %w", m.seq, err)
	}
	m.samples = nil
	m.queuedDur = 0
	return nil
}

// lastDuration estimates the duration of the final sample, which has no
// successor to measure against.
func (m *MP4) lastDuration() uint64 {
	samples := m.format.FrameSamples
	if m.format.Mime == codec.MimeRaw && m.format.Channels > 0 {
		samples = len(m.held) / 2 / m.format.Channels
	}
	if m.format.SampleRate == 0 {
		return 0
	}
	return uint64(samples) * uint64(m.timeScale) / uint64(m.format.SampleRate)
}

// Stop writes the held sample and the last fragment.
func (m *MP4) Stop() error {
	wasStarted := m.started
	if !m.lifecycle.stop() {
		return nil
	}
	if !wasStarted {
		return ErrNotStarted
	}
	if m.haveHeld {
		m.haveHeld = false
		if err := m.queue(m.held, m.heldTS, m.lastDuration()); err != nil {
			return err
		}
	}
	if err := m.flush(); err != nil {
		return err
	}
	return m.f.Sync()
}

// Release closes the file. A file that never received a track is removed.
func (m *MP4) Release() error {
	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f = nil
	if !m.hasTrack {
		os.Remove(m.path)
	}
	return err
}
