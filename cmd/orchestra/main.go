// Command orchestra runs and inspects plan executions.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/orchestra/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
