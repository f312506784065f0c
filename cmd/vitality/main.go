package main

import (
	"os"

	"github.com/nidhogg/tenber/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
