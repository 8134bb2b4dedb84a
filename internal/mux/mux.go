// Package mux writes encoded audio packets into container files.
//
// A Muxer follows a fixed lifecycle: AddTrack once the encoder's output
// format is known, Start, any number of WriteSample calls, Stop to finalise
// the file, Release to free it. Stop and Release are idempotent.
package mux

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/satindergrewal/duorec/internal/codec"
)

var (
	ErrTrackExists      = errors.New("mux: track already added")
	ErrNoTrack          = errors.New("mux: no track added")
	ErrBadTrack         = errors.New("mux: unknown track")
	ErrNotStarted       = errors.New("mux: not started")
	ErrStarted          = errors.New("mux: already started")
	ErrStopped          = errors.New("mux: stopped")
	ErrUnsupportedCodec = errors.New("mux: unsupported codec")
)

// Muxer is a single-track container writer.
type Muxer interface {
	AddTrack(format codec.Format) (int, error)
	Start() error
	WriteSample(track int, data []byte, info codec.BufferInfo) error
	Stop() error
	Release() error
}

// Create opens a muxer for path, picking the container from its extension:
// .m4a/.mp4 (fragmented MP4), .ogg/.opus (Ogg Opus) or .wav.
func Create(path string) (Muxer, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".m4a", ".mp4":
		return NewMP4(path)
	case ".ogg", ".opus":
		return NewOgg(path)
	case ".wav":
		return NewWAV(path)
	default:
		return nil, fmt.Errorf("mux: no container for extension %q", ext)
	}
}

// DefaultCodec returns the codec that suits the container chosen for path.
func DefaultCodec(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ogg", ".opus":
		return "opus"
	case ".wav":
		return "pcm"
	}
	return "aac"
}

// lifecycle tracks the state shared by all muxers. The only track id is 0.
type lifecycle struct {
	hasTrack bool
	started  bool
	stopped  bool
}

func (l *lifecycle) addTrack() error {
	switch {
	case l.stopped:
		return ErrStopped
	case l.started:
		return ErrStarted
	case l.hasTrack:
		return ErrTrackExists
	}
	l.hasTrack = true
	return nil
}

func (l *lifecycle) start() error {
	switch {
	case l.stopped:
		return ErrStopped
	case !l.hasTrack:
		return ErrNoTrack
	case l.started:
		return ErrStarted
	}
	l.started = true
	return nil
}

func (l *lifecycle) writable(track int) error {
	switch {
	case l.stopped:
		return ErrStopped
	case !l.started:
		return ErrNotStarted
	case track != 0:
		return fmt.Errorf("%w: %d", ErrBadTrack, track)
	}
	return nil
}

// stop reports whether this call is the one that stops the muxer.
func (l *lifecycle) stop() bool {
	if l.stopped {
		return false
	}
	l.stopped = true
	return true
}
