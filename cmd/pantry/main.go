// Command pantry drives a pantry store from the command line.
package main

import (
	"os"

	"github.com/mesh-intelligence/pantry/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
