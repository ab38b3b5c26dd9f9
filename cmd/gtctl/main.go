// Package main is the entry point for the gtctl CLI, the terminal tool
// for driving a gtrunner server.
package main

import (
	"os"

	"github.com/seantiz/gtrunner/cmd/gtctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
