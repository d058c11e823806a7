package main

import (
	"fmt"
	"io"
)

// printUsage prints the main usage information to the given writer.
func printUsage(w io.Writer) {
	fmt.Fprint(w, `bloomctl - bloom signature index tool

Usage:
  bloomctl <command> [options] <index-file>

Commands:
  create      Create an empty index
  inspect     Show pages, free-list and tuple counts
  cleanup     Recount the index and truncate empty trailing pages
  check       Verify the free-list and page layout
  version     Show version information
  help        Show this message

Options:
  -config string
        Path to configuration file (all commands)
  -columns int
        Number of indexed columns (create, overrides config)
  -yaml
        Print the full report as YAML (inspect)

Flags must come before the index file. A write-ahead log is kept next to
the index as <index-file>.wal.
`)
}
