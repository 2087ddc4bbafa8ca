package main

import (
	"os"

	"github.com/daemon13/rsyslog/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
