// Package recorder runs recording sessions: it opens the capture sources,
// the encoder and the output container, and drives one worker goroutine
// that aligns, mixes, encodes and muxes until the session is stopped.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/satindergrewal/duorec/internal/audio"
	"github.com/satindergrewal/duorec/internal/capture"
	"github.com/satindergrewal/duorec/internal/codec"
	"github.com/satindergrewal/duorec/internal/mux"
)

// ErrStopTimeout is returned by Stop when the worker did not exit in time.
// The session's resources are force-released regardless.
var ErrStopTimeout = errors.New("recorder: worker did not stop in time")

const DefaultStopTimeout = 5 * time.Second

// State is the lifecycle state of a session.
type State int32

const (
	StateIdle State = iota
	StatePreparing
	StateRecording
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Publisher receives every mixed cycle. Publish must not block.
type Publisher interface {
	Publish(frame []int16)
}

// Options configure a session.
type Options struct {
	OutputPath string
	// Codec is "aac", "opus" or "pcm". Empty picks the codec that suits
	// the output container.
	Codec      string
	SampleRate int
	BitRate    int
	// MicGain scales microphone samples before mixing; 0 mutes the mic.
	// Callers normally pass audio.DefaultMicGain.
	MicGain      float64
	ChunkSamples int
	// StrictSources ends the recording when either source fails instead
	// of recording silence in its place.
	StrictSources bool
	// OutputTimeout bounds each wait for a codec buffer.
	OutputTimeout time.Duration
	// StopTimeout bounds how long Stop waits for the worker.
	StopTimeout time.Duration

	Internal capture.Options
	// Mic is nil for an internal-only recording.
	Mic *capture.Options

	// Monitor, if set, receives a copy of every mixed cycle.
	Monitor Publisher
	Logger  *slog.Logger

	// OpenSource, NewCodec and NewMuxer default to capture.Open, codec.New
	// and mux.Create.
	OpenSource func(capture.Options) (capture.Source, error)
	NewCodec   func(name string, in codec.Format) (codec.Codec, error)
	NewMuxer   func(path string) (mux.Muxer, error)
}

func (o *Options) setDefaults() {
	if o.SampleRate <= 0 {
		o.SampleRate = audio.DefaultSampleRate
	}
	if o.BitRate <= 0 {
		o.BitRate = audio.DefaultBitRate
	}
	if o.ChunkSamples <= 0 {
		o.ChunkSamples = audio.DefaultChunkSamples
	}
	if o.OutputTimeout <= 0 {
		o.OutputTimeout = audio.OutputTimeout
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.Codec == "" {
		o.Codec = mux.DefaultCodec(o.OutputPath)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.OpenSource == nil {
		o.OpenSource = capture.Open
	}
	if o.NewCodec == nil {
		o.NewCodec = codec.New
	}
	if o.NewMuxer == nil {
		o.NewMuxer = mux.Create
	}
}

// Result summarises a finished session.
type Result struct {
	SessionID           string
	OutputPath          string
	Cycles              int64
	MixedSamples        int64
	InternalSubstituted int64
	MicSubstituted      int64
	Packets             int64
	Bytes               int64
	Duration            time.Duration
}

// Session is one recording. It cannot be restarted; call Start again for a
// new recording.
type Session struct {
	id   string
	log  *slog.Logger
	opts Options

	internal capture.Source
	mic      capture.Source
	aligner  *audio.Aligner
	codec    codec.Codec
	muxer    mux.Muxer
	adapter  *encoderAdapter

	state    atomic.Int32
	stopping atomic.Bool
	done     chan struct{}
	err      error // written by the worker before done is closed

	stopOnce sync.Once
	result   Result
	stopErr  error
}

// Start prepares a session and starts recording. On failure everything
// opened so far is released.
func Start(ctx context.Context, opts Options) (_ *Session, err error) {
	opts.setDefaults()
	id := uuid.NewString()
	s := &Session{
		id:   id,
		log:  opts.Logger.With("session", id),
		opts: opts,
		done: make(chan struct{}),
	}
	s.state.Store(int32(StatePreparing))
	defer func() {
		if err != nil {
			s.releaseAll()
			s.state.Store(int32(StateIdle))
		}
	}()

	if err := s.prepare(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.startSources(); err != nil {
		return nil, err
	}

	s.state.Store(int32(StateRecording))
	s.log.Info("recording started",
		"output", opts.OutputPath,
		"codec", opts.Codec,
		"rate", opts.SampleRate,
		"mic", s.mic != nil,
	)
	go s.run()
	return s, nil
}

func (s *Session) prepare() error {
	o := s.opts

	internalOpts := o.Internal
	internalOpts.Role = capture.RoleInternal
	internalOpts.SampleRate = o.SampleRate
	if internalOpts.Logger == nil {
		internalOpts.Logger = s.log
	}
	src, err := o.OpenSource(internalOpts)
	if err != nil {
		return fmt.Errorf("recorder: open internal source: %w", err)
	}
	s.internal = src

	if o.Mic != nil {
		micOpts := *o.Mic
		micOpts.Role = capture.RoleMic
		micOpts.SampleRate = o.SampleRate
		if micOpts.Logger == nil {
			micOpts.Logger = s.log
		}
		src, err := o.OpenSource(micOpts)
		if err != nil {
			return fmt.Errorf("recorder: open mic source: %w", err)
		}
		s.mic = src
	}

	c, err := o.NewCodec(o.Codec, codec.Format{
		SampleRate: o.SampleRate,
		Channels:   audio.Channels,
		BitRate:    o.BitRate,
	})
	if err != nil {
		return fmt.Errorf("recorder: configure codec: %w", err)
	}
	s.codec = c
	if err := c.Start(); err != nil {
		return fmt.Errorf("recorder: start codec: %w", err)
	}

	m, err := o.NewMuxer(o.OutputPath)
	if err != nil {
		return fmt.Errorf("recorder: open output: %w", err)
	}
	s.muxer = m

	var mic audio.Reader
	if s.mic != nil {
		mic = s.mic
	}
	s.aligner = audio.NewAligner(s.internal, mic,
		audio.WithMicGain(o.MicGain),
		audio.WithChunkSamples(o.ChunkSamples),
		audio.WithStrictSources(o.StrictSources),
	)
	s.adapter = newEncoderAdapter(s.log, c, m, o.SampleRate, o.OutputTimeout)
	return nil
}

func (s *Session) startSources() error {
	if err := s.internal.Start(); err != nil {
		return fmt.Errorf("recorder: start internal source: %w", err)
	}
	if s.mic != nil {
		if err := s.mic.Start(); err != nil {
			return fmt.Errorf("recorder: start mic source: %w", err)
		}
	}
	return nil
}

// ID returns the session id used in logs and results.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed when the worker has exited, either because Stop was
// called or because neither source can deliver audio any more.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the worker, if any. It is only
// meaningful after Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Session) run() {
	defer close(s.done)
	s.err = s.loop()
	if s.err != nil {
		s.log.Error("recording failed", "err", s.err)
	}
	// A worker that ended on its own leaves the session idle; Stop still
	// releases the resources.
	s.state.CompareAndSwap(int32(StateRecording), int32(StateIdle))
}

func (s *Session) loop() error {
	var prev audio.AlignerStats
	for !s.stopping.Load() {
		cyc, err := s.aligner.Next()
		if errors.Is(err, audio.ErrEndOfStream) {
			s.log.Info("capture ended", "reason", err)
			break
		}
		if err != nil {
			return err
		}
		if cyc.InternalFailed || cyc.MicFailed {
			st := s.aligner.Stats()
			if st.InternalSubstituted != prev.InternalSubstituted || st.MicSubstituted != prev.MicSubstituted {
				s.log.Debug("source read failed, substituting silence",
					"internal_failed", cyc.InternalFailed,
					"mic_failed", cyc.MicFailed,
					"internal_substituted", st.InternalSubstituted,
					"mic_substituted", st.MicSubstituted,
				)
			}
			prev = st
		}
		if cyc.Samples == 0 {
			continue
		}
		if s.opts.Monitor != nil {
			s.opts.Monitor.Publish(audio.BytesToSamples(cyc.PCM))
		}
		if err := s.adapter.encode(cyc.PCM); err != nil {
			return err
		}
	}
	return s.adapter.endStream()
}

// Stop ends the recording and finalises the output. It waits for the
// worker at most StopTimeout or until ctx is done; past that the worker is
// abandoned, its resources are force-released and ErrStopTimeout is
// returned. Calling Stop again returns the first result.
func (s *Session) Stop(ctx context.Context) (Result, error) {
	s.stopOnce.Do(func() {
		s.result, s.stopErr = s.stop(ctx)
	})
	return s.result, s.stopErr
}

func (s *Session) stop(ctx context.Context) (Result, error) {
	s.state.Store(int32(StateStopping))
	s.stopping.Store(true)
	s.stopSources()

	ctx, cancel := context.WithTimeout(ctx, s.opts.StopTimeout)
	defer cancel()

	var err error
	if waitDone(ctx, s.done) {
		s.closeSources()
		s.releaseCodec()
		s.releaseMuxer()
		err = s.err
	} else {
		s.log.Warn("worker did not stop, force releasing", "timeout", s.opts.StopTimeout)
		s.closeSources()
		s.releaseCodec()
		// The muxer is not safe to touch while the worker may still write
		// to it; finalise it once the worker is gone.
		go func() {
			<-s.done
			s.releaseMuxer()
		}()
		err = ErrStopTimeout
	}

	s.state.Store(int32(StateIdle))
	res := s.resultSnapshot()
	s.log.Info("recording stopped",
		"cycles", res.Cycles,
		"samples", res.MixedSamples,
		"packets", res.Packets,
		"duration", res.Duration,
		"err", err,
	)
	return res, err
}

// waitDone prefers done over an expired ctx when both are ready.
func waitDone(ctx context.Context, done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
	}
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// resultSnapshot reads worker-owned counters only once the worker is gone.
func (s *Session) resultSnapshot() Result {
	res := Result{SessionID: s.id, OutputPath: s.opts.OutputPath}
	select {
	case <-s.done:
	default:
		return res
	}
	st := s.aligner.Stats()
	res.Cycles = st.Cycles
	res.MixedSamples = st.MixedSamples
	res.InternalSubstituted = st.InternalSubstituted
	res.MicSubstituted = st.MicSubstituted
	res.Packets = s.adapter.packets
	res.Bytes = s.adapter.bytes
	res.Duration = audio.Duration(st.MixedSamples, s.opts.SampleRate)
	return res
}

func (s *Session) stopSources() {
	for _, src := range s.sources() {
		if err := src.Stop(); err != nil {
			s.log.Warn("stop source", "err", err)
		}
	}
}

func (s *Session) closeSources() {
	for _, src := range s.sources() {
		if err := src.Close(); err != nil {
			s.log.Warn("close source", "err", err)
		}
	}
}

func (s *Session) sources() []capture.Source {
	var out []capture.Source
	if s.internal != nil {
		out = append(out, s.internal)
	}
	if s.mic != nil {
		out = append(out, s.mic)
	}
	return out
}

func (s *Session) releaseCodec() {
	if s.codec == nil {
		return
	}
	if err := s.codec.Stop(); err != nil && !errors.Is(err, codec.ErrReleased) && !errors.Is(err, codec.ErrNotStarted) {
		s.log.Warn("stop codec", "err", err)
	}
	if err := s.codec.Release(); err != nil {
		s.log.Warn("release codec", "err", err)
	}
}

func (s *Session) releaseMuxer() {
	if s.muxer == nil {
		return
	}
	if err := s.muxer.Stop(); err != nil {
		if errors.Is(err, mux.ErrNotStarted) {
			s.log.Warn("output never started, no audio was written")
		} else {
			s.log.Warn("finalise output", "err", err)
		}
	}
	if err := s.muxer.Release(); err != nil {
		s.log.Warn("release output", "err", err)
	}
}

// releaseAll undoes a failed Start.
func (s *Session) releaseAll() {
	s.stopSources()
	s.closeSources()
	s.releaseCodec()
	s.releaseMuxer()
}
