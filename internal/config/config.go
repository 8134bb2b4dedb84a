package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// envPrefix is prepended to every environment variable name.
const envPrefix = "DUOREC_"

// Config holds all runtime configuration. Values come from the defaults,
// then an optional YAML file, then DUOREC_* environment variables.
type Config struct {
	// Audio
	SampleRate   int     `yaml:"sample_rate"`
	BitRate      int     `yaml:"bit_rate"`
	MicGain      float64 `yaml:"mic_gain"`
	Mic          bool    `yaml:"mic"`   // mix the microphone in
	Codec        string  `yaml:"codec"` // aac, opus, pcm; empty picks by output extension
	ChunkSamples int     `yaml:"chunk_samples"`
	// StrictSources ends the recording on the first source failure instead
	// of substituting silence for the failed source.
	StrictSources bool `yaml:"strict_sources"`

	// Timing
	OutputTimeout time.Duration `yaml:"output_timeout"` // codec buffer wait
	StopTimeout   time.Duration `yaml:"stop_timeout"`   // worker join bound

	// Capture
	InternalBackend string `yaml:"internal_backend"` // pulse, malgo
	InternalDevice  string `yaml:"internal_device"`  // sink name, empty for default
	MicBackend      string `yaml:"mic_backend"`
	MicDevice       string `yaml:"mic_device"`

	// Live monitor, disabled when empty
	MonitorAddr string `yaml:"monitor_addr"`

	Log LogConfig `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		SampleRate:      44100,
		BitRate:         196000,
		MicGain:         1.4,
		Mic:             true,
		ChunkSamples:    2048,
		OutputTimeout:   500 * time.Millisecond,
		StopTimeout:     5 * time.Second,
		InternalBackend: "pulse",
		MicBackend:      "pulse",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration with sane defaults. path names an optional YAML
// file; a missing file is only an error when path was given explicitly.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.SampleRate = envInt("SAMPLE_RATE", c.SampleRate)
	c.BitRate = envInt("BIT_RATE", c.BitRate)
	c.MicGain = envFloat("MIC_GAIN", c.MicGain)
	c.Mic = envBool("MIC", c.Mic)
	c.Codec = envStr("CODEC", c.Codec)
	c.ChunkSamples = envInt("CHUNK_SAMPLES", c.ChunkSamples)
	c.StrictSources = envBool("STRICT_SOURCES", c.StrictSources)
	c.OutputTimeout = envDuration("OUTPUT_TIMEOUT", c.OutputTimeout)
	c.StopTimeout = envDuration("STOP_TIMEOUT", c.StopTimeout)
	c.InternalBackend = envStr("INTERNAL_BACKEND", c.InternalBackend)
	c.InternalDevice = envStr("INTERNAL_DEVICE", c.InternalDevice)
	c.MicBackend = envStr("MIC_BACKEND", c.MicBackend)
	c.MicDevice = envStr("MIC_DEVICE", c.MicDevice)
	c.MonitorAddr = envStr("MONITOR_ADDR", c.MonitorAddr)
	c.Log.Level = envStr("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envStr("LOG_FORMAT", c.Log.Format)
	c.Log.File = envStr("LOG_FILE", c.Log.File)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample rate %d out of range 8000-192000", c.SampleRate))
	}
	if c.BitRate <= 0 {
		errs = append(errs, fmt.Errorf("bit rate %d must be positive", c.BitRate))
	}
	if c.MicGain < 0 {
		errs = append(errs, fmt.Errorf("mic gain %g must not be negative", c.MicGain))
	}
	if c.ChunkSamples <= 0 {
		errs = append(errs, fmt.Errorf("chunk samples %d must be positive", c.ChunkSamples))
	}
	if c.OutputTimeout <= 0 {
		errs = append(errs, errors.New("output timeout must be positive"))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, errors.New("stop timeout must be positive"))
	}
	switch c.Codec {
	case "", "aac", "opus", "pcm":
	default:
		errs = append(errs, fmt.Errorf("unknown codec %q", c.Codec))
	}
	for _, b := range []string{c.InternalBackend, c.MicBackend} {
		switch b {
		case "pulse", "malgo":
		default:
			errs = append(errs, fmt.Errorf("unknown capture backend %q", b))
		}
	}
	if err := c.Log.validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(envPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(envPrefix + key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("750ms") or plain milliseconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
