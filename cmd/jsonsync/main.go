// Command jsonsync runs, serves and verifies replicated JSON documents.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/jsonsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
