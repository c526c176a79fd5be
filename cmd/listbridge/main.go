// Command listbridge serves live list views over a record store.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/listbridge/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
