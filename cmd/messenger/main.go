package main

import (
	"os"

	"github.com/npezzotti/go-messenger/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
