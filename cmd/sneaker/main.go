package main

import (
	"os"

	"github.com/sneaker-boar/sneaker/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
