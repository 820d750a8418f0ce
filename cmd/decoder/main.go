package main

import (
	"os"

	"alexhalogen/rsraid/internal/cli"
)

const version = "0.3.0"

func main() {
	cli.Version = version
	os.Exit(cli.Execute(cli.NewDecoderCommand()))
}
