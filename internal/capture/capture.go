// Package capture opens the PCM inputs a recording reads from: the system
// playback monitor ("internal") and the microphone. Every source delivers
// 16-bit signed mono samples at the requested rate.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	ErrStopped    = errors.New("capture: source stopped")
	ErrNotStarted = errors.New("capture: source not started")
)

// DefaultReadTimeout bounds how long Read waits for samples before
// returning zero.
const DefaultReadTimeout = 200 * time.Millisecond

// Role says which of the two session inputs a source feeds.
type Role string

const (
	RoleInternal Role = "internal"
	RoleMic      Role = "mic"
)

// Backends.
const (
	BackendPulse = "pulse"
	BackendMalgo = "malgo"
	BackendFile  = "file"
)

// Source is a running PCM capture handle. Read returns at most len(dst)
// samples and may return zero samples when nothing arrived within the read
// timeout. A non-nil error means the source is unusable for this read.
type Source interface {
	Start() error
	Read(dst []int16) (int, error)
	Stop() error
	Close() error
}

// Options describe the source to open.
type Options struct {
	Backend    string
	Role       Role
	SampleRate int
	// Device selects a PulseAudio sink/source name or a miniaudio device
	// name. Empty means the default device.
	Device string
	// Path is the audio file read by the file backend.
	Path        string
	ReadTimeout time.Duration
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.Logger = o.Logger.With("source", string(o.Role), "backend", o.Backend)
	return o
}

// Open creates a source for opts. The source is not started.
func Open(opts Options) (Source, error) {
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("capture: invalid sample rate %d", opts.SampleRate)
	}
	opts = opts.withDefaults()
	switch opts.Backend {
	case BackendPulse:
		return openPulse(opts)
	case BackendMalgo:
		return openMalgo(opts)
	case BackendFile:
		return OpenFile(opts.Path, opts.SampleRate)
	}
	return nil, fmt.Errorf("capture: unknown backend %q", opts.Backend)
}
