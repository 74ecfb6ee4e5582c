package main

import (
	"fmt"
	"os"

	"github.com/tbourn/helpdesk-query/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = ""

func main() {
	if err := cli.NewRoot(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "helpdeskq:", err)
		os.Exit(1)
	}
}
