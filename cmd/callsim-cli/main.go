package main

import (
	"fmt"
	"os"

	"github.com/tiger/callsim/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(1)
	}
}
