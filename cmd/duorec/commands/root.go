package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/duorec/internal/capture"
	"github.com/satindergrewal/duorec/internal/config"
	"github.com/satindergrewal/duorec/internal/recorder"
)

// app carries what the root command loads for its subcommands.
type app struct {
	configPath string
	logLevel   string

	cfg    config.Config
	log    *slog.Logger
	closer io.Closer
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "duorec",
		Short: "Record system audio and microphone into one mixed track",
		Long: `duorec captures what the machine is playing together with the
microphone, mixes both into a mono track and encodes it to a file.

The container is picked from the output extension:
  .m4a .mp4   fragmented MP4 (AAC by default, or Opus/PCM)
  .ogg .opus  Ogg Opus
  .wav        PCM

Configuration comes from an optional YAML file (--config) and
DUOREC_* environment variables, which take precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.closer != nil {
				return a.closer.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the log level (debug, info, warn, error)")

	root.AddCommand(newRecordCmd(a), newMixCmd(a), newVersionCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	logger, closer, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(logger)
	a.cfg, a.log, a.closer = cfg, logger, closer
	return nil
}

// sessionOptions maps the loaded configuration onto recorder options.
func (a *app) sessionOptions(output, codecName string) recorder.Options {
	cfg := a.cfg
	if codecName == "" {
		codecName = cfg.Codec
	}
	opts := recorder.Options{
		OutputPath:    output,
		Codec:         codecName,
		SampleRate:    cfg.SampleRate,
		BitRate:       cfg.BitRate,
		MicGain:       cfg.MicGain,
		ChunkSamples:  cfg.ChunkSamples,
		StrictSources: cfg.StrictSources,
		OutputTimeout: cfg.OutputTimeout,
		StopTimeout:   cfg.StopTimeout,
		Internal: capture.Options{
			Backend: cfg.InternalBackend,
			Device:  cfg.InternalDevice,
		},
		Logger: a.log,
	}
	if cfg.Mic {
		opts.Mic = &capture.Options{
			Backend: cfg.MicBackend,
			Device:  cfg.MicDevice,
		}
	}
	return opts
}

func printResult(w io.Writer, res recorder.Result) {
	fmt.Fprintf(w, "wrote %s\n", res.OutputPath)
	fmt.Fprintf(w, "  session:  %s\n", res.SessionID)
	fmt.Fprintf(w, "  duration: %s\n", res.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  samples:  %d in %d cycles\n", res.MixedSamples, res.Cycles)
	fmt.Fprintf(w, "  packets:  %d (%d bytes)\n", res.Packets, res.Bytes)
	if res.InternalSubstituted > 0 || res.MicSubstituted > 0 {
		fmt.Fprintf(w, "  silence:  internal %d, mic %d cycles\n", res.InternalSubstituted, res.MicSubstituted)
	}
}

// stopSession stops s with a fresh context so that a cancelled command
// context still lets the output be finalised.
func stopSession(s *recorder.Session) (recorder.Result, error) {
	return s.Stop(context.Background())
}
