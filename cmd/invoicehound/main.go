// Package main is the entry point for the invoicehound CLI.
package main

import (
	"os"

	"github.com/invoicehound/invoicehound/cmd/invoicehound/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
