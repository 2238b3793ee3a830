package main

import (
	"os"

	"github.com/theomilll/atv-tinoco/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
