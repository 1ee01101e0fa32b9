package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neuralconfig/wifi-test/pkg/system"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List wireless interfaces and their MAC addresses",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		logger, err := system.NewLogger(flagDebug, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := newApp(logger).RunInterfaces(); err != nil {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
}
