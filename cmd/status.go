package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clawd/pager-bridge/internal/config"
)

// statusView mirrors the bridge's /status response. Unknown fields are
// ignored so older CLIs keep working against newer bridges.
type statusView struct {
	Addr           string `json:"addr"`
	Connection     string `json:"connection_state"`
	BatteryPercent int    `json:"battery_percent"`
	Charging       bool   `json:"charging"`
	Mode           string `json:"mode"`
	Active         *struct {
		ID     string `json:"id"`
		Source string `json:"source"`
		Kind   string `json:"kind"`
		Text   string `json:"text"`
	} `json:"active"`
	QueueDepth    int   `json:"queue_depth"`
	VoiceActive   bool  `json:"voice_active"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// runStatus implements "clawd-bridge status" by querying the running
// bridge's status endpoint.
func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)

	addr := fs.String("addr", config.DefaultAddr, "Bridge address to query")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: clawd-bridge status [options]\n\nShow the current status of the bridge daemon.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + *addr + "/status")
	if err != nil {
		fmt.Fprintf(stderr, "Error: bridge not reachable at %s: %v\n", *addr, err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "Error: status query returned %s\n", resp.Status)
		return 1
	}

	var st statusView
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		fmt.Fprintf(stderr, "Error: bad status response: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Bridge:   %s (up %s)\n", st.Addr, (time.Duration(st.UptimeSeconds) * time.Second).String())
	fmt.Fprintf(stdout, "Pager:    %s", st.Connection)
	if st.Connection == "connected" {
		fmt.Fprintf(stdout, " (battery %d%%", st.BatteryPercent)
		if st.Charging {
			fmt.Fprint(stdout, ", docked")
		}
		fmt.Fprint(stdout, ")")
	}
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "Display:  %s\n", st.Mode)

	if st.Active != nil {
		fmt.Fprintf(stdout, "Active:   [%s] %s: %q\n", st.Active.Kind, st.Active.Source, st.Active.Text)
	} else {
		fmt.Fprintln(stdout, "Active:   none")
	}
	fmt.Fprintf(stdout, "Queued:   %d\n", st.QueueDepth)
	if st.VoiceActive {
		fmt.Fprintln(stdout, "Voice:    recording")
	}
	return 0
}
