package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

const usage = `clawd-bridge - pager bridge for software agents

Usage:
  clawd-bridge <command> [options]

Commands:
  start         Start the bridge daemon
  status        Show bridge and pager status
  audit         List recent request audit entries
  version       Print the version

Run 'clawd-bridge <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "start":
		return runStart(args[2:], stdout, stderr)
	case "status":
		return runStatus(args[2:], stdout, stderr)
	case "audit":
		return runAudit(args[2:], stdout, stderr)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "clawd-bridge %s\n", Version)
		return 0
	case "help", "--help", "-h":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[1])
		fmt.Fprint(stderr, usage)
		return 1
	}
}
