// Command gitswitch switches the identity git uses between GitHub accounts.
package main

import (
	"os"

	"github.com/steveyegge/gitswitch/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
