// Command pocharness verifies a corpus of unsoundness reproduction cases.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/pocharness/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "pocharness:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
