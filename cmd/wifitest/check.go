package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neuralconfig/wifi-test/pkg/system"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the external tools this program depends on",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		logger, err := system.NewLogger(flagDebug, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := newApp(logger).RunCheck(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
