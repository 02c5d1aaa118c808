package main

import (
	"os"

	"github.com/kirillm/swing-trader/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
