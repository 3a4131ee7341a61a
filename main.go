package main

import (
	"os"

	"github.com/cajuassist/router/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
