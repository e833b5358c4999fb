package main

import (
	"fmt"
	"os"

	"github.com/babelcloud/gomp4/annexb"
	"github.com/babelcloud/gomp4/h26x"
	"github.com/babelcloud/gomp4/mp4mux"
	"github.com/spf13/cobra"
)

type muxOptions struct {
	input  string
	output string
	codec  string
	fps    int
	mode   string
}

// NewMuxCommand builds the "mux" subcommand: reads an Annex-B elementary
// stream (raw NAL units with start codes) and writes it out as a
// single-video-track MP4.
func NewMuxCommand() *cobra.Command {
	opts := &muxOptions{}

	cmd := &cobra.Command{
		Use:   "mux",
		Short: "Mux a raw Annex-B elementary stream into an MP4 file",
		Long:  "Mux a raw Annex-B elementary stream (H.264 or H.265 NAL units with start codes) into a single-video-track MP4 file.",
		Example: `  gomp4 mux --input video.h264 --codec avc --output out.mp4
  gomp4 mux --input video.h265 --codec hevc --fps 25 --mode fragmented --output out.mp4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMux(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.input, "input", "i", "", "path to the Annex-B elementary stream (required)")
	flags.StringVarP(&opts.output, "output", "o", "out.mp4", "path to the MP4 file to write")
	flags.StringVarP(&opts.codec, "codec", "c", "avc", "video codec: avc or hevc")
	flags.IntVar(&opts.fps, "fps", 30, "frame rate, used to derive per-sample duration")
	flags.StringVarP(&opts.mode, "mode", "m", "random-access", "write mode: random-access, sequential, or fragmented")
	cmd.MarkFlagRequired("input")

	cmd.RegisterFlagCompletionFunc("codec", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"avc", "hevc"}, cobra.ShellCompDirectiveNoFileComp
	})
	cmd.RegisterFlagCompletionFunc("mode", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"random-access", "sequential", "fragmented"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runMux(opts *muxOptions) error {
	raw, err := os.ReadFile(opts.input)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	codec := annexb.CodecAVC
	kind := mp4mux.KindVideoAVC
	if opts.codec == "hevc" {
		codec = annexb.CodecHEVC
		kind = mp4mux.KindVideoHEVC
	} else if opts.codec != "avc" {
		return fmt.Errorf("unknown codec %q: must be avc or hevc", opts.codec)
	}

	mode, err := parseMode(opts.mode)
	if err != nil {
		return err
	}

	out, err := os.Create(opts.output)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer out.Close()

	mux, err := mp4mux.NewMux(out, mode, nil)
	if err != nil {
		return fmt.Errorf("opening muxer: %w", err)
	}

	trackID, err := mux.AddTrack(mp4mux.TrackConfig{
		Kind:      kind,
		Timescale: 90000,
	})
	if err != nil {
		return fmt.Errorf("adding track: %w", err)
	}

	writer := h26x.NewWriter(codec, true)
	sampleDuration := uint32(90000 / opts.fps)
	nalCount, sampleCount := 0, 0

	reader := annexb.NewReader(raw)
	for {
		nal, err := reader.Next()
		if err != nil {
			break
		}
		nalCount++

		sample, kind, err := writer.WriteNAL(nal)
		if err != nil {
			return fmt.Errorf("transcoding NAL %d: %w", nalCount, err)
		}
		if sample == nil {
			continue // parameter set or not-yet-ready VCL NAL: cached/dropped, not a sample
		}

		if err := syncParameterSets(mux, trackID, writer, codec); err != nil {
			return err
		}

		if err := mux.PutSample(trackID, sample, sampleDuration, muxSampleKind(kind)); err != nil {
			return fmt.Errorf("writing sample %d: %w", sampleCount, err)
		}
		sampleCount++
	}

	if err := mux.Close(); err != nil {
		return fmt.Errorf("closing muxer: %w", err)
	}

	fmt.Printf("wrote %s: %d samples from %d NAL units\n", opts.output, sampleCount, nalCount)
	return nil
}

// syncParameterSets pushes every SPS/PPS (and VPS, for HEVC) the writer
// has cached so far into the mux's track, tolerating being called once
// per sample since SetSPS/SetPPS/SetVPS dedup by content.
func syncParameterSets(mux *mp4mux.Mux, trackID uint32, w *h26x.Writer, codec annexb.Codec) error {
	for i := 0; i < w.NumSPS(); i++ {
		if err := mux.SetSPS(trackID, w.SPS(i)); err != nil {
			return err
		}
	}
	for i := 0; i < w.NumPPS(); i++ {
		if err := mux.SetPPS(trackID, w.PPS(i)); err != nil {
			return err
		}
	}
	if codec == annexb.CodecHEVC {
		for i := 0; i < w.NumVPS(); i++ {
			if err := mux.SetVPS(trackID, w.VPS(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// muxSampleKind converts the h26x adapter's classification of a NAL into
// the mux package's SampleKind; the two are independent types since h26x
// must not import mp4mux.
func muxSampleKind(k h26x.SampleKind) mp4mux.SampleKind {
	switch k {
	case h26x.SampleRandomAccess:
		return mp4mux.SampleRandomAccess
	case h26x.SampleContinuation:
		return mp4mux.SampleContinuation
	default:
		return mp4mux.SampleDefault
	}
}

func parseMode(s string) (mp4mux.Mode, error) {
	switch s {
	case "random-access", "":
		return mp4mux.ModeRandomAccess, nil
	case "sequential":
		return mp4mux.ModeSequential, nil
	case "fragmented":
		return mp4mux.ModeFragmented, nil
	default:
		return 0, fmt.Errorf("unknown mode %q: must be random-access, sequential, or fragmented", s)
	}
}
