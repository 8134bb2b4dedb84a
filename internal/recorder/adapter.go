package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/satindergrewal/duorec/internal/audio"
	"github.com/satindergrewal/duorec/internal/codec"
	"github.com/satindergrewal/duorec/internal/mux"
)

// eosAttempts bounds how many input-buffer waits endStream spends on the
// retained remainder and the end-of-stream marker.
const eosAttempts = 8

// maxPendingSeconds bounds the audio retained while the codec refuses input.
const maxPendingSeconds = 2

type adapterState int

const (
	awaitingFormat adapterState = iota
	streaming
)

// encoderAdapter feeds mixed PCM into the codec and moves encoded packets
// into the muxer. It is owned by the session worker.
type encoderAdapter struct {
	log        *slog.Logger
	codec      codec.Codec
	muxer      mux.Muxer
	sampleRate int
	timeout    time.Duration

	state      adapterState
	track      int
	totalBytes int64  // bytes queued into the codec
	pending    []byte // bytes the codec had no room for yet
	maxPending int
	eosQueued  bool
	eosSeen    bool
	lastPTS    int64

	packets      int64
	bytes        int64
	dropped      int64 // packets seen before the track existed
	droppedBytes int64 // pending input discarded past maxPending
}

func newEncoderAdapter(log *slog.Logger, c codec.Codec, m mux.Muxer, sampleRate int, timeout time.Duration) *encoderAdapter {
	return &encoderAdapter{
		log:        log,
		codec:      c,
		muxer:      m,
		sampleRate: sampleRate,
		timeout:    timeout,
		maxPending: sampleRate * audio.BytesPerSample * maxPendingSeconds,
		track:      -1,
		lastPTS:    -1,
	}
}

// encode submits pcm after any bytes retained from earlier cycles, then
// drains the codec. When no input buffer frees up within the timeout the
// rest stays pending for the next call. Past maxPending the oldest pending
// audio is discarded.
func (a *encoderAdapter) encode(pcm []byte) error {
	a.pending = append(a.pending, pcm...)
	if over := len(a.pending) - a.maxPending; a.maxPending > 0 && over > 0 {
		a.log.Warn("encoder backlog full, dropping oldest audio", "bytes", over, "dropped_total", a.droppedBytes+int64(over))
		a.pending = a.pending[:copy(a.pending, a.pending[over:])]
		a.droppedBytes += int64(over)
	}
	if _, err := a.submit(); err != nil {
		return err
	}
	return a.drain()
}

// submit queues pending bytes until they run out or the codec has no free
// input buffer. It reports whether everything was submitted.
func (a *encoderAdapter) submit() (bool, error) {
	for len(a.pending) > 0 {
		in, err := a.codec.DequeueInput(a.timeout)
		if errors.Is(err, codec.ErrTryAgainLater) {
			a.log.Debug("encoder input full", "pending_bytes", len(a.pending))
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("recorder: dequeue input: %w", err)
		}
		n := copy(in.Data, a.pending)
		pts := a.nextPTS()
		if err := a.codec.QueueInput(in, n, pts, 0); err != nil {
			return false, fmt.Errorf("recorder: queue input: %w", err)
		}
		a.totalBytes += int64(n)
		a.pending = a.pending[:copy(a.pending, a.pending[n:])]
	}
	return true, nil
}

func (a *encoderAdapter) nextPTS() int64 {
	pts := audio.PresentationTime(a.totalBytes, a.sampleRate)
	if pts < a.lastPTS {
		pts = a.lastPTS
	}
	a.lastPTS = pts
	return pts
}

// endStream submits what is still pending, queues one end-of-stream marker
// and drains until the codec hands back the end-of-stream packet.
func (a *encoderAdapter) endStream() error {
	if a.eosQueued {
		return nil
	}
	for range eosAttempts {
		done, err := a.submit()
		if err != nil {
			return err
		}
		if done {
			break
		}
		if err := a.drain(); err != nil {
			return err
		}
	}
	if len(a.pending) > 0 {
		a.log.Warn("encoder never accepted tail, dropping it", "bytes", len(a.pending))
		a.pending = a.pending[:0]
	}

	var in *codec.InputBuffer
	for range eosAttempts {
		var err error
		in, err = a.codec.DequeueInput(a.timeout)
		if err == nil {
			break
		}
		if !errors.Is(err, codec.ErrTryAgainLater) {
			return fmt.Errorf("recorder: dequeue eos input: %w", err)
		}
		if err := a.drain(); err != nil {
			return err
		}
	}
	if in == nil {
		return fmt.Errorf("recorder: no input buffer for end of stream: %w", codec.ErrTryAgainLater)
	}
	if err := a.codec.QueueInput(in, 0, a.nextPTS(), codec.FlagEndOfStream); err != nil {
		return fmt.Errorf("recorder: queue eos: %w", err)
	}
	a.eosQueued = true

	for !a.eosSeen {
		before := a.packets + a.dropped
		if err := a.drain(); err != nil {
			return err
		}
		if !a.eosSeen && a.packets+a.dropped == before {
			a.log.Warn("encoder drained without end of stream packet")
			break
		}
	}
	return nil
}

// drain moves every packet the codec has ready into the muxer.
func (a *encoderAdapter) drain() error {
	for {
		out, err := a.codec.DequeueOutput(a.timeout)
		switch {
		case errors.Is(err, codec.ErrTryAgainLater):
			return nil
		case errors.Is(err, codec.ErrFormatChanged):
			if err := a.startTrack(); err != nil {
				return err
			}
			continue
		case err != nil:
			return fmt.Errorf("recorder: dequeue output: %w", err)
		}

		eos := out.Info.Flags.Has(codec.FlagEndOfStream)
		werr := a.forward(out)
		if err := a.codec.ReleaseOutput(out); err != nil && werr == nil {
			werr = fmt.Errorf("recorder: release output: %w", err)
		}
		if werr != nil {
			return werr
		}
		if eos {
			a.eosSeen = true
			return nil
		}
	}
}

func (a *encoderAdapter) startTrack() error {
	if a.state == streaming {
		a.log.Warn("encoder format changed again, ignoring")
		return nil
	}
	format := a.codec.OutputFormat()
	track, err := a.muxer.AddTrack(format)
	if err != nil {
		return fmt.Errorf("recorder: add track: %w", err)
	}
	if err := a.muxer.Start(); err != nil {
		return fmt.Errorf("recorder: start muxer: %w", err)
	}
	a.track = track
	a.state = streaming
	a.log.Info("output track started", "format", format.String(), "track", track)
	return nil
}

func (a *encoderAdapter) forward(out *codec.OutputBuffer) error {
	info := out.Info
	switch {
	case info.Flags.Has(codec.FlagCodecConfig), info.Size == 0:
		return nil
	case a.state != streaming:
		a.dropped++
		return nil
	}
	if err := a.muxer.WriteSample(a.track, out.Payload(), info); err != nil {
		return fmt.Errorf("recorder: write sample: %w", err)
	}
	a.packets++
	a.bytes += int64(info.Size)
	return nil
}
