package main

import (
	"os"

	"github.com/kodokalabs/tetsuo/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
