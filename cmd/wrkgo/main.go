package main

import (
	"os"

	"github.com/wesleyorama2/wrkgo/internal/cli"
)

// Main is the entry point for the application. Exported to make it
// testable.
func Main() int {
	if err := cli.Execute(); err != nil {
		os.Stderr.WriteString("wrkgo: " + err.Error() + "\n")
		return 1
	}
	return 0
}

func main() {
	os.Exit(Main())
}
