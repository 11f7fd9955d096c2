package main

import (
	"fmt"
	"os"

	"github.com/arctir/kernelcore/cmd"
)

func main() {
	kernelctl := cmd.SetupCommands()
	if err := kernelctl.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
