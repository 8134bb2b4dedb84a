package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/duorec/internal/recorder"
	"github.com/satindergrewal/duorec/internal/stream"
)

func newRecordCmd(a *app) *cobra.Command {
	var (
		output   string
		noMic    bool
		duration time.Duration
		monitor  string
		codec    string
	)
	cmd := &cobra.Command{
		Use:   "record -o FILE",
		Short: "Record system audio mixed with the microphone",
		Long: `Record until interrupted (Ctrl-C) or until --duration elapses.

With --monitor the mix is also served live: /stream as MP3 and, when the
sample rate allows Opus, /offer for WebRTC peers.`,
		Example: `  duorec record -o meeting.m4a
  duorec record -o clip.ogg --duration 30s --no-mic
  DUOREC_SAMPLE_RATE=48000 duorec record -o talk.opus --monitor :8090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noMic {
				a.cfg.Mic = false
			}
			if monitor == "" {
				monitor = a.cfg.MonitorAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			opts := a.sessionOptions(output, codec)
			var b *stream.Broadcaster
			if monitor != "" {
				b = stream.NewBroadcaster()
				opts.Monitor = b
			}

			sess, err := recorder.Start(ctx, opts)
			if err != nil {
				return err
			}
			return a.runSession(ctx, cmd, sess, b, monitor)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (.m4a, .mp4, .ogg, .opus, .wav)")
	cmd.Flags().BoolVar(&noMic, "no-mic", false, "record system audio only")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 records until interrupted)")
	cmd.Flags().StringVar(&monitor, "monitor", "", "serve the live mix on this address")
	cmd.Flags().StringVar(&codec, "codec", "", "encoder: aac, opus or pcm (default by output extension)")
	cmd.MarkFlagRequired("output")
	return cmd
}

// runSession waits for ctx or for the session to end on its own, then
// stops it. The monitor server, if any, runs alongside and shuts down
// with the session.
func (a *app) runSession(ctx context.Context, cmd *cobra.Command, sess *recorder.Session, b *stream.Broadcaster, monitorAddr string) error {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	if b != nil {
		srv := stream.NewServer(monitorAddr, b, a.cfg.SampleRate, a.log)
		g.Go(func() error { return srv.Run(gctx) })
	}

	g.Go(func() error {
		defer cancel()
		select {
		case <-gctx.Done():
			a.log.Info("stopping recording")
		case <-sess.Done():
		}
		res, err := stopSession(sess)
		printResult(cmd.OutOrStdout(), res)
		return err
	})
	return g.Wait()
}
