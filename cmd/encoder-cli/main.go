package main

import (
	"os"

	"media-encoder/cmd/encoder-cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
