// Package main is the entry point for the duorec CLI.
//
// Usage:
//
//	duorec [flags] <command> [args]
//
// Commands:
//
//	record  - Record system audio mixed with the microphone
//	mix     - Mix two audio files through the recording pipeline
//	version - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/satindergrewal/duorec/cmd/duorec/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
