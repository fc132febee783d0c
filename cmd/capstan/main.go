// Package main is the entry point for the capstan CLI.
package main

import (
	"os"

	"github.com/thoreinstein/capstan/cmd/capstan/commands"
)

func main() {
	os.Exit(commands.Execute())
}
