package audio

import (
	"errors"
	"fmt"
)

// ErrEndOfStream is returned by Aligner.Next once no source can deliver
// audio any more: both sources failed in the same cycle, or the single
// source failed. Samples still held as residue are returned in a last
// cycle first.
var ErrEndOfStream = errors.New("audio: end of stream")

// AlignerOption configures an Aligner.
type AlignerOption interface {
	apply(*Aligner)
}

type micGainOption float64

func (o micGainOption) apply(a *Aligner) { a.micGain = float64(o) }

// WithMicGain sets the factor microphone samples are scaled by before mixing.
// Defaults to DefaultMicGain.
func WithMicGain(gain float64) AlignerOption { return micGainOption(gain) }

type chunkOption int

func (o chunkOption) apply(a *Aligner) { a.chunk = int(o) }

// WithChunkSamples sets the per-stream buffer capacity in samples.
// Defaults to DefaultChunkSamples.
func WithChunkSamples(n int) AlignerOption { return chunkOption(n) }

type strictOption bool

func (o strictOption) apply(a *Aligner) { a.strict = bool(o) }

// WithStrictSources makes a failure of either source end the stream instead
// of substituting silence for the failed one.
func WithStrictSources(strict bool) AlignerOption { return strictOption(strict) }

// Cycle is the outcome of one read-align-mix step.
type Cycle struct {
	// Samples is the number of mixed samples in PCM.
	Samples int
	// PCM holds Samples little-endian int16 values. It aliases the aligner's
	// output buffer and is only valid until the next call to Next.
	PCM []byte

	InternalFailed bool // internal read failed, replaced by silence
	MicFailed      bool // mic read failed, replaced by silence
}

// AlignerStats are cumulative counters since the aligner was created.
type AlignerStats struct {
	Cycles              int64
	MixedSamples        int64
	InternalSubstituted int64
	MicSubstituted      int64
}

// Aligner reads two independently progressing PCM sources, keeps whatever
// one source delivered beyond the other as residue, and mixes the aligned
// prefix. No sample read from either source is dropped or reordered.
//
// An Aligner is not safe for concurrent use; it belongs to the session's
// worker goroutine.
type Aligner struct {
	internal Reader
	mic      Reader // nil for internal-only recording
	micGain  float64
	chunk    int
	strict   bool

	bufInternal []int16
	bufMic      []int16
	resInternal int // residue at the head of bufInternal
	resMic      int
	out         []byte
	end         error // set once the stream has ended

	stats AlignerStats
}

// NewAligner returns an aligner mixing internal with mic. If mic is nil the
// aligner passes internal through unchanged.
func NewAligner(internal, mic Reader, opts ...AlignerOption) *Aligner {
	a := &Aligner{
		internal: internal,
		mic:      mic,
		micGain:  DefaultMicGain,
		chunk:    DefaultChunkSamples,
	}
	for _, opt := range opts {
		opt.apply(a)
	}
	if a.chunk <= 0 {
		a.chunk = DefaultChunkSamples
	}
	a.bufInternal = make([]int16, a.chunk)
	if mic != nil {
		a.bufMic = make([]int16, a.chunk)
	}
	a.out = make([]byte, a.chunk*BytesPerSample)
	return a
}

// Residue returns the number of samples held back per stream.
func (a *Aligner) Residue() (internal, mic int) {
	return a.resInternal, a.resMic
}

// Stats returns the cumulative counters.
func (a *Aligner) Stats() AlignerStats {
	return a.stats
}

// Next performs one read on each source and mixes as many samples as both
// streams have available. A cycle with zero samples is not an error. Once
// Next returns an error wrapping ErrEndOfStream every later call returns
// the same error without reading.
func (a *Aligner) Next() (Cycle, error) {
	if a.end != nil {
		return Cycle{}, a.end
	}
	if a.mic == nil {
		return a.nextSingle()
	}

	nInternal, errInternal := a.internal.Read(a.bufInternal[a.resInternal:])
	nMic, errMic := a.mic.Read(a.bufMic[a.resMic:])

	availInternal := a.resInternal + nInternal
	availMic := a.resMic + nMic
	if errInternal != nil {
		availInternal = a.resInternal
	}
	if errMic != nil {
		availMic = a.resMic
	}

	switch {
	case errInternal != nil && errMic != nil:
		return a.finish(fmt.Errorf("%w: internal: %w; mic: %w", ErrEndOfStream, errInternal, errMic), availInternal, availMic)
	case a.strict && errInternal != nil:
		return a.finish(fmt.Errorf("%w: internal: %w", ErrEndOfStream, errInternal), availInternal, availMic)
	case a.strict && errMic != nil:
		return a.finish(fmt.Errorf("%w: mic: %w", ErrEndOfStream, errMic), availInternal, availMic)
	}

	var c Cycle
	if errInternal != nil {
		c.InternalFailed = true
		a.stats.InternalSubstituted++
		availInternal = a.silence(a.bufInternal, a.resInternal, availMic)
	}
	if errMic != nil {
		c.MicFailed = true
		a.stats.MicSubstituted++
		availMic = a.silence(a.bufMic, a.resMic, availInternal)
	}

	mixed := min(availInternal, availMic)
	a.mix(&c, mixed)

	a.resInternal = copy(a.bufInternal, a.bufInternal[mixed:availInternal])
	a.resMic = copy(a.bufMic, a.bufMic[mixed:availMic])
	return c, nil
}

func (a *Aligner) mix(c *Cycle, n int) {
	ScaleSamples(a.bufMic, n, a.micGain)
	MixToBytes(a.bufInternal, a.bufMic, a.out, n)

	c.Samples = n
	c.PCM = a.out[:n*BytesPerSample]
	a.stats.Cycles++
	a.stats.MixedSamples += int64(n)
}

// finish records end as the terminal error. Samples either stream still
// holds are mixed in one last cycle, the shorter stream padded with
// silence; end is returned by the following call.
func (a *Aligner) finish(end error, availInternal, availMic int) (Cycle, error) {
	a.end = end
	n := max(availInternal, availMic)
	if n == 0 {
		return Cycle{}, end
	}
	a.silence(a.bufInternal, availInternal, n)
	a.silence(a.bufMic, availMic, n)

	var c Cycle
	a.mix(&c, n)
	a.resInternal, a.resMic = 0, 0
	return c, nil
}

// silence pads a failed stream with zeros after its residue so that it
// offers as many samples as the healthy stream. The residue itself is kept.
func (a *Aligner) silence(buf []int16, residue, want int) int {
	if want <= residue {
		return residue
	}
	clear(buf[residue:want])
	return want
}

func (a *Aligner) nextSingle() (Cycle, error) {
	n, err := a.internal.Read(a.bufInternal)
	if err != nil {
		a.end = fmt.Errorf("%w: internal: %w", ErrEndOfStream, err)
		return Cycle{}, a.end
	}
	PutSamples(a.out, a.bufInternal[:n])

	a.stats.Cycles++
	a.stats.MixedSamples += int64(n)
	return Cycle{Samples: n, PCM: a.out[:n*BytesPerSample]}, nil
}
