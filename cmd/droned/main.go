// Command droned simulates a mesh of forwarding drones in a single
// process: it wires drones together from a topology file, drives them with
// scripted commands, and tails their telemetry on the console.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:     "droned",
	Short:   "Simulate a mesh of forwarding drones",
	Long:    `droned loads a topology file describing drones and their neighbor links, runs the simulation in-process, and reports telemetry as it happens.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "topology", "", "path to topology YAML file (required)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose console output")

	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
