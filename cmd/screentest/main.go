// Command screentest runs one scripted UI test against a TV device under
// test and exits 0 on success, 1 on test failure, 2 on unexpected error.
package main

import (
	"os"

	"github.com/tvlab/screentest/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
