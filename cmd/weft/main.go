package main

import (
	"os"

	"github.com/weaveline/weft/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
