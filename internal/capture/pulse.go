package capture

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

const (
	pulseFormatS16LE byte = proto.FormatInt16LE
	pulseAppName          = "duorec"
	// fragmentMillis is the server-side fragment size requested for the
	// record stream.
	fragmentMillis = 20
	// ringSeconds of audio are kept if the worker stalls.
	ringSeconds = 2
)

// pulseSource records from PulseAudio (or PipeWire's pulse server). The
// internal role records the monitor of a sink, the mic role records a
// source.
type pulseSource struct {
	log    *slog.Logger
	client *pulse.Client
	stream *pulse.RecordStream
	col    *collector

	mu      sync.Mutex
	started bool
	closed  bool
}

func openPulse(opts Options) (*pulseSource, error) {
	client, err := pulse.NewClient(pulse.ClientApplicationName(pulseAppName))
	if err != nil {
		return nil, fmt.Errorf("capture: pulse connect: %w", err)
	}

	var target pulse.RecordOption
	var name string
	switch opts.Role {
	case RoleInternal:
		sink, err := pulseSink(client, opts.Device)
		if err != nil {
			client.Close()
			return nil, err
		}
		target, name = pulse.RecordMonitor(sink), sink.Name()
	default:
		source, err := pulseSourceByName(client, opts.Device)
		if err != nil {
			client.Close()
			return nil, err
		}
		target, name = pulse.RecordSource(source), source.Name()
	}

	col := newCollector(opts.SampleRate*ringSeconds, opts.ReadTimeout)
	stream, err := client.NewRecord(
		col,
		target,
		pulse.RecordMono,
		pulse.RecordSampleRate(opts.SampleRate),
		pulse.RecordBufferFragmentSize(uint32(opts.SampleRate*fragmentMillis/1000*2)),
		pulse.RecordMediaName("duorec "+string(opts.Role)),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("capture: pulse record %s: %w", name, err)
	}
	opts.Logger.Debug("pulse stream opened", "device", name, "rate", opts.SampleRate)
	return &pulseSource{log: opts.Logger, client: client, stream: stream, col: col}, nil
}

func pulseSink(c *pulse.Client, name string) (*pulse.Sink, error) {
	var (
		sink *pulse.Sink
		err  error
	)
	if name == "" {
		sink, err = c.DefaultSink()
	} else {
		sink, err = c.SinkByID(name)
	}
	if err != nil {
		return nil, fmt.Errorf("capture: pulse sink %q: %w", name, err)
	}
	return sink, nil
}

func pulseSourceByName(c *pulse.Client, name string) (*pulse.Source, error) {
	var (
		source *pulse.Source
		err    error
	)
	if name == "" {
		source, err = c.DefaultSource()
	} else {
		source, err = c.SourceByID(name)
	}
	if err != nil {
		return nil, fmt.Errorf("capture: pulse source %q: %w", name, err)
	}
	return source, nil
}

func (s *pulseSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStopped
	}
	s.stream.Start()
	s.started = true
	return nil
}

func (s *pulseSource) Read(dst []int16) (int, error) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return 0, ErrNotStarted
	}
	if err := s.stream.Error(); err != nil {
		return 0, fmt.Errorf("capture: pulse stream: %w", err)
	}
	return s.col.Read(dst)
}

func (s *pulseSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started && !s.closed {
		s.stream.Stop()
	}
	s.col.stop()
	return nil
}

func (s *pulseSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.col.stop()
	s.stream.Close()
	s.client.Close()
	if n := s.col.overwritten(); n > 0 {
		s.log.Warn("capture overrun", "samples_lost", n)
	}
	return nil
}
