package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "gomp4",
	Short: "gomp4 CLI Tool",
	Long:  `gomp4 is a command-line tool for muxing raw H.264/H.265 elementary streams into ISO-BMFF (MP4) files and inspecting existing ones.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(NewMuxCommand())
	rootCmd.AddCommand(NewInspectCommand())
}
