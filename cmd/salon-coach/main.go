package main

import (
	"os"

	"github.com/sjawhar/salon-coach/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
