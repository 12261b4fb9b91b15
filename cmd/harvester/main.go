// Command harvester collects per-entity data from the GitHub API across a
// pool of tokens and stores it idempotently.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
