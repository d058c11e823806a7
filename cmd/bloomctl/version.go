package main

import (
	"flag"
	"fmt"
	"io"
	"runtime"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version   = "0.1.0"
	commit    = "unknown"
	buildDate = "unknown"
)

// versionCmd handles the version command.
func versionCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	fs.SetOutput(stderr)

	short := fs.Bool("short", false, "Show only version number")

	if err := fs.Parse(args); err != nil {
		return exitCode(err)
	}

	if *short {
		fmt.Fprintln(stdout, version)
		return 0
	}

	fmt.Fprintf(stdout, "bloomctl version %s\n", version)
	fmt.Fprintf(stdout, "  Commit:     %s\n", commit)
	fmt.Fprintf(stdout, "  Built:      %s\n", buildDate)
	fmt.Fprintf(stdout, "  Go version: %s\n", runtime.Version())
	fmt.Fprintf(stdout, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)

	return 0
}
