package main

import (
	"fmt"
	"os"

	"github.com/babelcloud/gomp4/mp4demux"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type inspectOptions struct {
	input string
}

// NewInspectCommand builds the "inspect" subcommand: opens an MP4 file
// and prints a one-line summary per track, mirroring minimp4's
// MP4D_printf_info demo harness.
func NewInspectCommand() *cobra.Command {
	opts := &inspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print a summary of an MP4 file's tracks",
		Long:  "Open an MP4 file's moov box tree and print a one-line summary of each track: codec, dimensions or audio format, sample count, and timescale.",
		Example: `  gomp4 inspect --input out.mp4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.input, "input", "i", "", "path to the MP4 file (required)")
	cmd.MarkFlagRequired("input")

	return cmd
}

func runInspect(opts *inspectOptions) error {
	f, err := os.Open(opts.input)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()

	d, err := mp4demux.Open(f)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", opts.input, err)
	}

	if viper.GetString("log-level") == "debug" {
		fmt.Fprintf(os.Stderr, "parsed %d track(s)\n", len(d.Tracks))
	}

	if d.Comment != "" {
		fmt.Printf("comment: %s\n", d.Comment)
	}
	for _, t := range d.Tracks {
		label := color.New(color.FgCyan)
		if t.Kind == "vide" {
			label = color.New(color.FgGreen)
		}
		label.Printf("[track %d] ", t.ID)
		fmt.Println(t.Describe())
	}
	return nil
}
