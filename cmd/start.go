package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clawd/pager-bridge/internal/bridge"
	"github.com/clawd/pager-bridge/internal/config"
	"github.com/clawd/pager-bridge/internal/discover"
	"github.com/clawd/pager-bridge/internal/storage"
)

// runStart implements "clawd-bridge start". It loads the config, finds
// the pager (configured address or mDNS), opens the audit store and runs
// the coordinator plus the agent HTTP API until interrupted.
func runStart(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.clawd/config.toml)")
	addr := fs.String("addr", "", "Agent API listen address (overrides config)")
	pager := fs.String("pager", "", "Pager websocket address host:port (overrides config)")
	auditDB := fs.String("audit-db", "", "Path to the audit database (overrides config)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: clawd-bridge start [options]\n\nStart the bridge daemon.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	path := *configPath
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to determine config path: %v\n", err)
			return 1
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to load config: %v\n", err)
		return 1
	}

	// CLI flags take precedence over file values.
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *pager != "" {
		cfg.PagerAddr = *pager
	}
	if *auditDB != "" {
		cfg.AuditDB = *auditDB
	}
	cfg.ApplyDefaults()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pagerURL, err := resolvePager(ctx, cfg.PagerAddr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: no pager found: %v\n", err)
		fmt.Fprintln(stderr, "Set pager_addr in the config or bring the pager online and retry.")
		return 1
	}

	var store *storage.Store
	if cfg.AuditDB != "" {
		store, err = storage.Open(cfg.AuditDB)
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to open audit database: %v\n", err)
			return 1
		}
		defer store.Close()
	}

	b := bridge.New(cfg, pagerURL, store)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: b.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("main: agent API listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	fmt.Fprintf(stdout, "Bridge running: agents on %s, pager at %s\n", cfg.Addr, pagerURL)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- b.Run(ctx)
	}()

	select {
	case err := <-errCh:
		fmt.Fprintf(stderr, "Error: agent API server: %v\n", err)
		stop()
		<-runErr
		return 1
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	fmt.Fprintln(stdout, "Bridge stopped")
	return 0
}

// resolvePager turns the configured pager address into a websocket URL,
// browsing mDNS when no address is configured.
func resolvePager(ctx context.Context, pagerAddr string) (string, error) {
	if pagerAddr != "" {
		return "ws://" + pagerAddr + "/ws", nil
	}
	log.Printf("main: no pager_addr configured, browsing mDNS for %s", discover.ServiceType)
	return discover.First(ctx, discover.DefaultTimeout)
}
