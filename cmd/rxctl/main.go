// Package main provides rxctl, the review service operator tool.
package main

import (
	"os"

	"github.com/drfirst/go-rxreview/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
