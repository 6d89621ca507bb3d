// Command deploydag deploys contract plans in dependency order.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/deploydag/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			// Errors from cobra itself (unknown flag, bad args) are not
			// reported by the commands.
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(cli.ExitCommandError)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
