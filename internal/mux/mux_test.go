package mux

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/duorec/internal/codec"
)

func pcmFormat(rate int) codec.Format {
	return codec.Format{Mime: codec.MimeRaw, SampleRate: rate, Channels: 1, FrameSamples: 1024}
}

func pcmBytes(samples ...int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func TestCreatePicksContainer(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name  string
		check func(Muxer) bool
		codec string
	}{
		{"a.m4a", func(m Muxer) bool { _, ok := m.(*MP4); return ok }, "aac"},
		{"a.MP4", func(m Muxer) bool { _, ok := m.(*MP4); return ok }, "aac"},
		{"a.ogg", func(m Muxer) bool { _, ok := m.(*Ogg); return ok }, "opus"},
		{"a.opus", func(m Muxer) bool { _, ok := m.(*Ogg); return ok }, "opus"},
		{"a.wav", func(m Muxer) bool { _, ok := m.(*WAV); return ok }, "pcm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Create(filepath.Join(dir, tt.name))
			require.NoError(t, err)
			defer m.Release()
			assert.True(t, tt.check(m))
			assert.Equal(t, tt.codec, DefaultCodec(tt.name))
		})
	}

	_, err := Create(filepath.Join(dir, "a.flac"))
	require.Error(t, err)
}

func TestLifecycleOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	m, err := NewWAV(path)
	require.NoError(t, err)
	defer m.Release()

	require.ErrorIs(t, m.Start(), ErrNoTrack)
	require.ErrorIs(t, m.WriteSample(0, pcmBytes(1), codec.BufferInfo{}), ErrNotStarted)

	track, err := m.AddTrack(pcmFormat(8000))
	require.NoError(t, err)
	assert.Equal(t, 0, track)
	_, err = m.AddTrack(pcmFormat(8000))
	require.ErrorIs(t, err, ErrTrackExists)

	require.NoError(t, m.Start())
	require.ErrorIs(t, m.Start(), ErrStarted)
	require.ErrorIs(t, m.WriteSample(3, pcmBytes(1), codec.BufferInfo{}), ErrBadTrack)

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	require.ErrorIs(t, m.WriteSample(0, pcmBytes(1), codec.BufferInfo{}), ErrStopped)

	require.NoError(t, m.Release())
	require.NoError(t, m.Release())
}

func TestUnsupportedCodec(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWAV(filepath.Join(dir, "a.wav"))
	require.NoError(t, err)
	_, err = w.AddTrack(codec.Format{Mime: codec.MimeOpus, SampleRate: 48000, Channels: 1})
	require.ErrorIs(t, err, ErrUnsupportedCodec)
	require.NoError(t, w.Release())

	o, err := NewOgg(filepath.Join(dir, "a.ogg"))
	require.NoError(t, err)
	_, err = o.AddTrack(pcmFormat(48000))
	require.ErrorIs(t, err, ErrUnsupportedCodec)
	require.NoError(t, o.Release())
}

func TestStopBeforeStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.m4a")
	m, err := NewMP4(path)
	require.NoError(t, err)

	require.ErrorIs(t, m.Stop(), ErrNotStarted)
	require.NoError(t, m.Release())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "trackless file should be removed")
}

func TestWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	m, err := NewWAV(path)
	require.NoError(t, err)

	_, err = m.AddTrack(pcmFormat(16000))
	require.NoError(t, err)
	require.NoError(t, m.Start())

	want := []int16{0, 1, -1, 32767, -32768, 1234}
	require.NoError(t, m.WriteSample(0, pcmBytes(want[:3]...), codec.BufferInfo{Size: 6}))
	require.NoError(t, m.WriteSample(0, pcmBytes(want[3:]...), codec.BufferInfo{Size: 6, PresentationTimeUs: 187}))
	require.NoError(t, m.Stop())
	require.NoError(t, m.Release())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, 16000, buf.Format.SampleRate)
	assert.Equal(t, 1, buf.Format.NumChannels)

	got := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		got[i] = int16(v)
	}
	assert.Equal(t, want, got)
}

func TestMP4WritesInitAndFragments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp4")
	m, err := NewMP4(path)
	require.NoError(t, err)

	format := pcmFormat(8000)
	_, err = m.AddTrack(format)
	require.NoError(t, err)
	require.NoError(t, m.Start())

	// 3 seconds of 1024-sample packets crosses the fragment threshold twice.
	frame := make([]byte, 2048)
	var pts int64
	for range 24 {
		require.NoError(t, m.WriteSample(0, frame, codec.BufferInfo{Size: len(frame), PresentationTimeUs: pts}))
		pts += 1024 * 1_000_000 / 8000
	}
	require.NoError(t, m.Stop())
	assert.GreaterOrEqual(t, m.seq, uint32(2))
	require.NoError(t, m.Release())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 24*2048)
	assert.Equal(t, "ftyp", string(data[4:8]))
}

func TestMP4RejectsBadAACConfig(t *testing.T) {
	m, err := NewMP4(filepath.Join(t.TempDir(), "out.m4a"))
	require.NoError(t, err)
	defer m.Release()

	_, err = m.AddTrack(codec.Format{Mime: codec.MimeAAC, SampleRate: 44100, Channels: 1})
	require.Error(t, err)
	assert.False(t, m.hasTrack)
}

func TestOggWritesPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ogg")
	m, err := NewOgg(path)
	require.NoError(t, err)

	_, err = m.AddTrack(codec.Format{Mime: codec.MimeOpus, SampleRate: 48000, Channels: 1, FrameSamples: 960})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	for i := range 5 {
		info := codec.BufferInfo{Size: 3, PresentationTimeUs: int64(i) * 20_000}
		require.NoError(t, m.WriteSample(0, []byte{0xf8, 0xff, 0xfe}, info))
	}
	require.NoError(t, m.Stop())
	require.NoError(t, m.Release())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 4)
	assert.Equal(t, "OggS", string(data[:4]))
}
