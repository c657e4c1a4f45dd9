// Package main is the entry point for framesyncd.
package main

import (
	"os"

	"framesync/cmd/framesyncd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
