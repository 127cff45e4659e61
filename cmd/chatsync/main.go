// Command chatsync inspects and drives a local-first chat cache.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/chatsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
