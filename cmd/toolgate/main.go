// Package main is the entry point for the toolgate CLI.
package main

import (
	"os"

	"github.com/stacklok/toolgate/cmd/toolgate/app"
	"github.com/stacklok/toolgate/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
