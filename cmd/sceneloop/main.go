// sceneloop drives the refinement loop: it spawns the generator and verifier
// agent processes and the tool processes, then runs generate, render, judge
// rounds until the render matches the target or the budget runs out.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFile    string
)

func main() {
	root := &cobra.Command{
		Use:           "sceneloop",
		Short:         "Iteratively refine scene or slide code against a target image",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "optional log file")

	root.AddCommand(newRunCmd(), newReplayCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sceneloop:", err)
		os.Exit(1)
	}
}
