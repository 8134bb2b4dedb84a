package capture

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// malgoSource captures through miniaudio. The internal role uses a loopback
// device, which miniaudio only offers on WASAPI.
type malgoSource struct {
	log    *slog.Logger
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	col    *collector

	mu      sync.Mutex
	started bool
	closed  bool
}

func openMalgo(opts Options) (*malgoSource, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		opts.Logger.Debug("miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("capture: miniaudio context: %w", err)
	}

	kind := malgo.Capture
	if opts.Role == RoleInternal {
		kind = malgo.Loopback
	}
	cfg := malgo.DefaultDeviceConfig(kind)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(opts.SampleRate)
	cfg.Alsa.NoMMap = 1

	if opts.Device != "" {
		id, err := malgoDeviceID(ctx, opts.Device)
		if err != nil {
			freeMalgo(ctx)
			return nil, err
		}
		cfg.Capture.DeviceID = id.Pointer()
	}

	col := newCollector(opts.SampleRate*ringSeconds, opts.ReadTimeout)
	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			col.Write(input)
		},
	})
	if err != nil {
		freeMalgo(ctx)
		return nil, fmt.Errorf("capture: miniaudio device: %w", err)
	}
	return &malgoSource{log: opts.Logger, ctx: ctx, device: device, col: col}, nil
}

func malgoDeviceID(ctx *malgo.AllocatedContext, name string) (malgo.DeviceID, error) {
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("capture: list devices: %w", err)
	}
	for _, info := range infos {
		if info.Name() == name {
			return info.ID, nil
		}
	}
	return malgo.DeviceID{}, fmt.Errorf("capture: no capture device named %q", name)
}

func freeMalgo(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

func (s *malgoSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStopped
	}
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("capture: start device: %w", err)
	}
	s.started = true
	return nil
}

func (s *malgoSource) Read(dst []int16) (int, error) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return 0, ErrNotStarted
	}
	return s.col.Read(dst)
}

func (s *malgoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.col.stop()
	if !s.started || s.closed {
		return nil
	}
	if err := s.device.Stop(); err != nil {
		return fmt.Errorf("capture: stop device: %w", err)
	}
	return nil
}

func (s *malgoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.col.stop()
	s.device.Uninit()
	freeMalgo(s.ctx)
	if n := s.col.overwritten(); n > 0 {
		s.log.Warn("capture overrun", "samples_lost", n)
	}
	return nil
}
