package main

import (
	"os"

	"github.com/jandubois/mon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
