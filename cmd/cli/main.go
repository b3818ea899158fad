// Package main is the entry point for the ingestctl binary.
package main

import (
	"os"

	cli "log-ingest/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
