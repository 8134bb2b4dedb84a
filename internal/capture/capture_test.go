package capture

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func le(samples ...int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func TestCollectorReadsInOrder(t *testing.T) {
	c := newCollector(16, 50*time.Millisecond)
	n, err := c.Write(le(1, 2, 3, -4))
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	dst := make([]int16, 3)
	n, err = c.Read(dst)
	require.NoError(t, err)
	assert.Equal(t, []int16{1, 2, 3}, dst[:n])

	n, err = c.Read(dst)
	require.NoError(t, err)
	assert.Equal(t, []int16{-4}, dst[:n])
}

func TestCollectorTimeoutReturnsZero(t *testing.T) {
	c := newCollector(16, 20*time.Millisecond)
	start := time.Now()
	n, err := c.Read(make([]int16, 4))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestCollectorWakesOnWrite(t *testing.T) {
	c := newCollector(16, 5*time.Second)
	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Write(le(7, 8))
	}()

	dst := make([]int16, 4)
	done := make(chan int)
	go func() {
		n, _ := c.Read(dst)
		done <- n
	}()
	select {
	case n := <-done:
		assert.Equal(t, 2, n)
		assert.Equal(t, []int16{7, 8}, dst[:2])
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not wake on Write")
	}
}

func TestCollectorOverwritesOldest(t *testing.T) {
	c := newCollector(4, 10*time.Millisecond)
	c.Write(le(1, 2, 3, 4, 5, 6))
	assert.Equal(t, int64(2), c.overwritten())

	dst := make([]int16, 8)
	n, err := c.Read(dst)
	require.NoError(t, err)
	assert.Equal(t, []int16{3, 4, 5, 6}, dst[:n])
}

func TestCollectorDrainsBeforeStopped(t *testing.T) {
	c := newCollector(8, 10*time.Millisecond)
	c.Write(le(9))
	c.stop()

	dst := make([]int16, 4)
	n, err := c.Read(dst)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = c.Read(dst)
	require.ErrorIs(t, err, ErrStopped)
}

func TestCollectorIgnoresOddByte(t *testing.T) {
	c := newCollector(8, 10*time.Millisecond)
	n, err := c.Write([]byte{1, 0, 2})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	dst := make([]int16, 4)
	n, _ = c.Read(dst)
	assert.Equal(t, []int16{1}, dst[:n])
}

func TestSampleSource(t *testing.T) {
	s := NewSampleSource([]int16{1, 2, 3, 4, 5})
	dst := make([]int16, 2)

	_, err := s.Read(dst)
	require.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, s.Start())
	var got []int16
	for {
		n, err := s.Read(dst)
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		got = append(got, dst[:n]...)
	}
	assert.Equal(t, []int16{1, 2, 3, 4, 5}, got)

	require.NoError(t, s.Stop())
	_, err = s.Read(dst)
	require.ErrorIs(t, err, ErrStopped)
}

func writeWAV(t *testing.T, path string, rate int, samples []int16) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{SampleRate: rate, NumChannels: 1},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func TestOpenFileWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	want := []int16{0, 100, -100, 32767, -32768}
	writeWAV(t, path, 8000, want)

	src, err := Open(Options{Backend: BackendFile, Role: RoleInternal, SampleRate: 8000, Path: path})
	require.NoError(t, err)
	require.NoError(t, src.Start())
	defer src.Close()

	dst := make([]int16, 16)
	n, err := src.Read(dst)
	require.NoError(t, err)
	assert.Equal(t, want, dst[:n])
}

func TestOpenRejects(t *testing.T) {
	_, err := Open(Options{Backend: BackendFile, SampleRate: 0})
	require.Error(t, err)

	_, err = Open(Options{Backend: "alsa", SampleRate: 44100})
	require.ErrorContains(t, err, "unknown backend")
}
