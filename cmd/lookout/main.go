package main

import (
	"os"

	"github.com/moolen/lookout/cmd/lookout/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
