// Package main provides bloomctl, the operator tool for bloom index files.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	exitCode := run(os.Args, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// run executes the CLI and returns an exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 1
	}

	switch args[1] {
	case "create":
		return createCmd(args[2:], stdout, stderr)
	case "inspect":
		return inspectCmd(args[2:], stdout, stderr)
	case "cleanup":
		return cleanupCmd(args[2:], stdout, stderr)
	case "check":
		return checkCmd(args[2:], stdout, stderr)
	case "version":
		return versionCmd(args[2:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		fmt.Fprintln(stderr, "Run 'bloomctl help' for usage.")
		return 1
	}
}
