package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/clawd/pager-bridge/internal/storage"
)

// runAudit implements "clawd-bridge audit": list recent audit entries
// straight from the database, newest first. Works whether or not the
// daemon is running; the driver's busy timeout handles the overlap.
func runAudit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(stderr)

	db := fs.String("db", "", "Path to the audit database (required)")
	limit := fs.Int("limit", 20, "Maximum entries to show (0 for all)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: clawd-bridge audit --db <path> [options]\n\nList recent request audit entries.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if *db == "" {
		fmt.Fprintln(stderr, "Error: --db is required")
		return 1
	}

	store, err := storage.Open(*db)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	entries, err := store.ListAudit(*limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No audit entries")
		return 0
	}

	for _, e := range entries {
		line := fmt.Sprintf("%s  %-10s %-11s %-10s via %-7s %s",
			e.DecidedAt.Local().Format(time.DateTime),
			e.Source, e.Kind, e.Outcome, e.Via, e.Value)
		if e.Truncated {
			line += " (truncated)"
		}
		fmt.Fprintln(stdout, line)
	}
	return 0
}
