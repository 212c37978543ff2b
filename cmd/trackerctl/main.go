package main

import (
	"os"

	"github.com/psantana5/tracker/cmd/trackerctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
