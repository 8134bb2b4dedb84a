package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	for _, k := range []string{"SAMPLE_RATE", "MIC", "CODEC", "MIC_GAIN", "LOG_FILE", "LOG_LEVEL", "LOG_FORMAT", "CHUNK_SAMPLES"} {
		t.Setenv("DUOREC_"+k, "")
	}
	var stdout, stderr bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return stdout.String(), stderr.String(), err
}

func writeWAV(t *testing.T, path string, samples []int16) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	enc := wav.NewEncoder(f, 44100, 16, 1, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{SampleRate: 44100, NumChannels: 1},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func readWAV(t *testing.T, path string) []int16 {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	buf, err := wav.NewDecoder(f).FullPCMBuffer()
	require.NoError(t, err)
	out := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = int16(v)
	}
	return out
}

func filled(n int, v int16) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestVersion(t *testing.T) {
	stdout, _, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "duorec "), stdout)
	assert.Contains(t, stdout, "go:")
}

func TestMixFiles(t *testing.T) {
	dir := t.TempDir()
	internal := filepath.Join(dir, "internal.wav")
	mic := filepath.Join(dir, "mic.wav")
	out := filepath.Join(dir, "out.wav")
	writeWAV(t, internal, filled(5000, 1000))
	writeWAV(t, mic, filled(3000, 100))

	stdout, _, err := runCmd(t, "mix", internal, mic, "-o", out, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, stdout, "wrote "+out)

	got := readWAV(t, out)
	require.Len(t, got, 5000)
	assert.Equal(t, int16(1140), got[0])
	assert.Equal(t, int16(1140), got[2999])
	assert.Equal(t, int16(1000), got[3000])
	assert.Equal(t, int16(1000), got[4999])
}

func TestMixPadsLongerTail(t *testing.T) {
	tests := []struct {
		name          string
		internal, mic int
		tail          int16
	}{
		{"internal longer", 3000, 2500, 1000},
		{"mic longer", 2500, 3000, 140},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			internal := filepath.Join(dir, "internal.wav")
			mic := filepath.Join(dir, "mic.wav")
			out := filepath.Join(dir, "out.wav")
			writeWAV(t, internal, filled(tt.internal, 1000))
			writeWAV(t, mic, filled(tt.mic, 100))

			_, _, err := runCmd(t, "mix", internal, mic, "-o", out, "--log-level", "error")
			require.NoError(t, err)

			got := readWAV(t, out)
			require.Len(t, got, 3000)
			assert.Equal(t, int16(1140), got[0])
			assert.Equal(t, int16(1140), got[2499])
			assert.Equal(t, tt.tail, got[2500])
			assert.Equal(t, tt.tail, got[2999])
		})
	}
}

func TestMixGainFlag(t *testing.T) {
	dir := t.TempDir()
	internal := filepath.Join(dir, "a.wav")
	mic := filepath.Join(dir, "b.wav")
	out := filepath.Join(dir, "out.wav")
	writeWAV(t, internal, filled(100, 0))
	writeWAV(t, mic, filled(100, 100))

	_, _, err := runCmd(t, "mix", internal, mic, "-o", out, "--gain", "0.5", "--log-level", "error")
	require.NoError(t, err)
	got := readWAV(t, out)
	require.Len(t, got, 100)
	assert.Equal(t, int16(50), got[0])
}

func TestMixZeroGainMutesMic(t *testing.T) {
	dir := t.TempDir()
	internal := filepath.Join(dir, "a.wav")
	mic := filepath.Join(dir, "b.wav")
	out := filepath.Join(dir, "out.wav")
	writeWAV(t, internal, filled(100, 7))
	writeWAV(t, mic, filled(100, 100))

	_, _, err := runCmd(t, "mix", internal, mic, "-o", out, "--gain", "0", "--log-level", "error")
	require.NoError(t, err)
	assert.Equal(t, filled(100, 7), readWAV(t, out))
}

func TestMixRejectsNegativeGain(t *testing.T) {
	_, _, err := runCmd(t, "mix", "a.wav", "b.wav", "-o", "x.wav", "--gain", "-1")
	require.ErrorContains(t, err, "must not be negative")
}

func TestMixRequiresOutput(t *testing.T) {
	_, _, err := runCmd(t, "mix", "a.wav", "b.wav")
	require.ErrorContains(t, err, "output")
}

func TestMixRequiresTwoInputs(t *testing.T) {
	_, _, err := runCmd(t, "mix", "a.wav", "-o", "x.wav")
	require.Error(t, err)
}

func TestBadConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sample_rate: 10\n"), 0o644))
	_, _, err := runCmd(t, "--config", path, "mix", "a.wav", "b.wav", "-o", "x.wav")
	require.ErrorContains(t, err, "sample rate")
}
