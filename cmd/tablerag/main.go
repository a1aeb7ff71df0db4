// Package main provides the entry point for the tablerag CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/tablerag/cmd/tablerag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
