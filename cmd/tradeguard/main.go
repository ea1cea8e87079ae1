package main

import (
	"os"

	"github.com/rustyeddy/tradeguard/cmd/tradeguard/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
