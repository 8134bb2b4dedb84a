package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/duorec/internal/capture"
	"github.com/satindergrewal/duorec/internal/recorder"
)

func newMixCmd(a *app) *cobra.Command {
	var (
		output string
		codec  string
		gain   float64
	)
	cmd := &cobra.Command{
		Use:   "mix INTERNAL MIC -o FILE",
		Short: "Mix two audio files through the recording pipeline",
		Long: `Mix INTERNAL with MIC exactly as a live recording would: MIC is
scaled by the mic gain, the shorter input is padded with silence, and
the result is encoded to FILE. Inputs that are not mono 16-bit WAV at
the configured sample rate are converted with ffmpeg.`,
		Example: `  duorec mix game.wav voice.wav -o mixed.m4a
  duorec mix music.mp3 narration.flac -o out.wav --gain 1.0`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := a.sessionOptions(output, codec)
			opts.Internal = capture.Options{Backend: capture.BackendFile, Path: args[0]}
			opts.Mic = &capture.Options{Backend: capture.BackendFile, Path: args[1]}
			if cmd.Flags().Changed("gain") {
				if gain < 0 {
					return fmt.Errorf("mic gain %g must not be negative", gain)
				}
				opts.MicGain = gain
			}

			sess, err := recorder.Start(cmd.Context(), opts)
			if err != nil {
				return err
			}
			select {
			case <-sess.Done():
			case <-cmd.Context().Done():
			}
			res, err := stopSession(sess)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (.m4a, .mp4, .ogg, .opus, .wav)")
	cmd.Flags().StringVar(&codec, "codec", "", "encoder: aac, opus or pcm (default by output extension)")
	cmd.Flags().Float64Var(&gain, "gain", 0, "mic gain (default from config)")
	cmd.MarkFlagRequired("output")
	return cmd
}
