package main

import (
	"os"

	"github.com/rustyeddy/htbot/cmd/htbot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
