package main

import (
	"os"

	"github.com/kursadbilgin/hookline/cmd/hooklinectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
