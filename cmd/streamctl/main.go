// Command streamctl streams agent session turns into a live transcript.
package main

import (
	"os"

	"github.com/opencode-ai/streamctl/internal/cli"
)

var version = "dev"

func main() {
	cli.Version = version
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
