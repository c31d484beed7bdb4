package main

import (
	"fmt"
	"os"

	"github.com/brewkit/assistant-engine/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
