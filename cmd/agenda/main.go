package main

import (
	"os"

	"github.com/roach88/agenda/internal/cli"
)

func main() {
	// Subcommands report their own errors; only the exit code is left.
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
