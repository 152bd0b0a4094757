package main

import (
	"os"

	"github.com/atmx/arena-engine/cmd/arena/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
