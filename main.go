package main

import (
	"os"

	"github.com/bluetuith-org/handsfree/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		os.Exit(1)
	}
}
