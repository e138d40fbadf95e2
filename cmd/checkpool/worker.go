package main

import (
	"github.com/spf13/cobra"

	"checkpool/internal/worker"
)

// workerCmd is what the pool spawns. It speaks RPC on stdin and stdout and
// exits when the orchestrator shuts it down or closes the pipe.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a checker worker over stdin/stdout",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if code := worker.Main(cmd.Context(), newBackends); code != 0 {
			return errSilentExit
		}
		return nil
	},
}
