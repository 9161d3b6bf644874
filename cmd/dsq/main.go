package main

import (
	"os"

	"github.com/roach88/dsq/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
