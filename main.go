package main

import (
	"os"

	"github.com/marco-scarnato/greenhouse-dt-module/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
