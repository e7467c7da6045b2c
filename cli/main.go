package main

import (
	"os"

	"github.com/chainproof-org/chainproof/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
