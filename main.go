package main

import (
	"os"

	"github.com/ddunnock/mnemosyne/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
