package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"SAMPLE_RATE", "BIT_RATE", "MIC_GAIN", "MIC", "CODEC", "CHUNK_SAMPLES", "STRICT_SOURCES",
	"OUTPUT_TIMEOUT", "STOP_TIMEOUT", "INTERNAL_BACKEND", "INTERNAL_DEVICE",
	"MIC_BACKEND", "MIC_DEVICE", "MONITOR_ADDR", "LOG_LEVEL", "LOG_FORMAT",
	"LOG_FILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(envPrefix+k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.SampleRate != 44100 {
		t.Errorf("SampleRate = %d, want 44100", cfg.SampleRate)
	}
	if cfg.BitRate != 196000 {
		t.Errorf("BitRate = %d, want 196000", cfg.BitRate)
	}
	if cfg.MicGain != 1.4 {
		t.Errorf("MicGain = %f, want 1.4", cfg.MicGain)
	}
	if !cfg.Mic {
		t.Error("Mic = false, want true")
	}
	if cfg.Codec != "" {
		t.Errorf("Codec = %q, want empty", cfg.Codec)
	}
	if cfg.ChunkSamples != 2048 {
		t.Errorf("ChunkSamples = %d, want 2048", cfg.ChunkSamples)
	}
	if cfg.OutputTimeout != 500*time.Millisecond {
		t.Errorf("OutputTimeout = %v, want 500ms", cfg.OutputTimeout)
	}
	if cfg.StopTimeout != 5*time.Second {
		t.Errorf("StopTimeout = %v, want 5s", cfg.StopTimeout)
	}
	if cfg.InternalBackend != "pulse" || cfg.MicBackend != "pulse" {
		t.Errorf("backends = %q/%q, want pulse/pulse", cfg.InternalBackend, cfg.MicBackend)
	}
	if cfg.MonitorAddr != "" {
		t.Errorf("MonitorAddr = %q, want empty", cfg.MonitorAddr)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v, want info/text", cfg.Log)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DUOREC_SAMPLE_RATE", "48000")
	t.Setenv("DUOREC_BIT_RATE", "128000")
	t.Setenv("DUOREC_MIC_GAIN", "2.0")
	t.Setenv("DUOREC_MIC", "false")
	t.Setenv("DUOREC_CODEC", "opus")
	t.Setenv("DUOREC_CHUNK_SAMPLES", "960")
	t.Setenv("DUOREC_STRICT_SOURCES", "true")
	t.Setenv("DUOREC_OUTPUT_TIMEOUT", "250ms")
	t.Setenv("DUOREC_STOP_TIMEOUT", "1500")
	t.Setenv("DUOREC_INTERNAL_BACKEND", "malgo")
	t.Setenv("DUOREC_MONITOR_ADDR", ":8090")
	t.Setenv("DUOREC_LOG_LEVEL", "debug")
	t.Setenv("DUOREC_LOG_FORMAT", "json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want 48000", cfg.SampleRate)
	}
	if cfg.BitRate != 128000 {
		t.Errorf("BitRate = %d, want 128000", cfg.BitRate)
	}
	if cfg.MicGain != 2.0 {
		t.Errorf("MicGain = %f, want 2.0", cfg.MicGain)
	}
	if cfg.Mic {
		t.Error("Mic = true, want env override false")
	}
	if cfg.Codec != "opus" {
		t.Errorf("Codec = %q, want opus", cfg.Codec)
	}
	if cfg.ChunkSamples != 960 {
		t.Errorf("ChunkSamples = %d, want 960", cfg.ChunkSamples)
	}
	if !cfg.StrictSources {
		t.Error("StrictSources = false, want env override true")
	}
	if cfg.OutputTimeout != 250*time.Millisecond {
		t.Errorf("OutputTimeout = %v, want 250ms", cfg.OutputTimeout)
	}
	if cfg.StopTimeout != 1500*time.Millisecond {
		t.Errorf("StopTimeout = %v, want 1.5s", cfg.StopTimeout)
	}
	if cfg.InternalBackend != "malgo" {
		t.Errorf("InternalBackend = %q, want malgo", cfg.InternalBackend)
	}
	if cfg.MonitorAddr != ":8090" {
		t.Errorf("MonitorAddr = %q, want :8090", cfg.MonitorAddr)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want debug/json", cfg.Log)
	}
}

func TestEnvInvalidFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("DUOREC_SAMPLE_RATE", "not-a-number")
	t.Setenv("DUOREC_MIC", "maybe")
	t.Setenv("DUOREC_STOP_TIMEOUT", "soon")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SampleRate != 44100 {
		t.Errorf("Invalid int env should fallback to default: got %d", cfg.SampleRate)
	}
	if !cfg.Mic {
		t.Error("Invalid bool env should fallback to default true")
	}
	if cfg.StopTimeout != 5*time.Second {
		t.Errorf("Invalid duration env should fallback: got %v", cfg.StopTimeout)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "duorec.yaml")
	data := `
sample_rate: 16000
mic_gain: 1.0
codec: pcm
stop_timeout: 2s
mic_device: alsa_input.usb
log:
  level: warn
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DUOREC_SAMPLE_RATE", "24000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SampleRate != 24000 {
		t.Errorf("SampleRate = %d, env should win over file", cfg.SampleRate)
	}
	if cfg.MicGain != 1.0 {
		t.Errorf("MicGain = %f, want file value 1.0", cfg.MicGain)
	}
	if cfg.Codec != "pcm" {
		t.Errorf("Codec = %q, want pcm", cfg.Codec)
	}
	if cfg.StopTimeout != 2*time.Second {
		t.Errorf("StopTimeout = %v, want 2s", cfg.StopTimeout)
	}
	if cfg.MicDevice != "alsa_input.usb" {
		t.Errorf("MicDevice = %q", cfg.MicDevice)
	}
	if cfg.Log.Level != "warn" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v, want warn with default text format", cfg.Log)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"rate", func(c *Config) { c.SampleRate = 100 }, "sample rate"},
		{"bitrate", func(c *Config) { c.BitRate = 0 }, "bit rate"},
		{"gain", func(c *Config) { c.MicGain = -1 }, "mic gain"},
		{"chunk", func(c *Config) { c.ChunkSamples = 0 }, "chunk samples"},
		{"codec", func(c *Config) { c.Codec = "flac" }, "unknown codec"},
		{"backend", func(c *Config) { c.MicBackend = "jack" }, "capture backend"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
		{"timeout", func(c *Config) { c.StopTimeout = 0 }, "stop timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record written at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("json record missing: %q", out)
	}
}

func TestNewLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "duorec.log")
	logger, closer, err := LogConfig{File: path}.NewLogger(&bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("to file")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file = %q", data)
	}
}
