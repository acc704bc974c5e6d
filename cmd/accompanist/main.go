package main

import (
	"os"

	"github.com/chase3718/accompanist/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
