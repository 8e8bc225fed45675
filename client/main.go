package main

import (
	"os"

	"github.com/luyumi/launcher/client/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
