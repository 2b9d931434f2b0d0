// Package discover finds pagers on the local network via mDNS/DNS-SD.
//
// The pager firmware advertises itself as _clawd-pager._tcp so the
// bridge can find it without a hand-typed address. Discovery is a
// convenience for the common one-pager household; when pager_addr is
// set in the config, discovery is skipped entirely.
package discover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	apperrors "github.com/clawd/pager-bridge/internal/errors"
)

// ServiceType is the DNS-SD service type the pager firmware registers.
const ServiceType = "_clawd-pager._tcp"

// DefaultTimeout bounds a discovery browse.
const DefaultTimeout = 3 * time.Second

// Pager is one device found on the local network.
type Pager struct {
	// Name is the advertised instance name, e.g. "clawd-pager-7f3a".
	Name string

	// Host is the IP address, IPv4 preferred.
	Host string

	// Port is the device's websocket port.
	Port int

	// Version is the firmware protocol version from the TXT record.
	Version string
}

// URL returns the websocket endpoint for the device.
func (p Pager) URL() string {
	return fmt.Sprintf("ws://%s:%d/ws", p.Host, p.Port)
}

// Browse searches the local network for pagers until the context ends
// and returns everything found.
func Browse(ctx context.Context) ([]Pager, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		pagers []Pager
		mu     sync.Mutex
		wg     sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			pager := Pager{
				Name: entry.Instance,
				Port: entry.Port,
			}

			if len(entry.AddrIPv4) > 0 {
				pager.Host = entry.AddrIPv4[0].String()
			} else if len(entry.AddrIPv6) > 0 {
				pager.Host = entry.AddrIPv6[0].String()
			}

			for _, txt := range entry.Text {
				if len(txt) > 8 && txt[:8] == "version=" {
					pager.Version = txt[8:]
				}
			}

			mu.Lock()
			pagers = append(pagers, pager)
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	// The zeroconf library closes the entries channel when the context
	// ends; wait for the collector to drain it.
	<-ctx.Done()
	wg.Wait()

	return pagers, nil
}

// First returns the websocket URL of the first pager found within the
// timeout. With no pager on the network it returns a device not found
// error the caller can surface at startup.
func First(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pagers, err := Browse(ctx)
	if err != nil {
		return "", err
	}
	if len(pagers) == 0 {
		return "", apperrors.DeviceNotFound()
	}
	return pagers[0].URL(), nil
}
