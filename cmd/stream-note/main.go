package main

import (
	"os"

	"github.com/bainianlaoyao/stream-note/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
