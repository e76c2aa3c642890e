// Package main provides the entry point for the shortidctl tool.
package main

import (
	"fmt"
	"os"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/parlorchat/go-parlor-shortid/cmd/shortidctl/commands"
)

func main() {
	logger.New("NOOP")

	rootCmd := commands.NewRootCommand()
	err := rootCmd.Execute()
	logger.OnExit()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
