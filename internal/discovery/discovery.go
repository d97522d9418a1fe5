// Package discovery finds a relay on the local network via mDNS when no
// relay URL is configured.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceName is the mDNS service relays advertise under.
const ServiceName = "_collabrelay._tcp"

// DefaultTimeout bounds how long a browse waits for the first answer.
const DefaultTimeout = 5 * time.Second

// FindRelay browses the local network and returns the websocket URL of the
// first relay found.
func FindRelay(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("failed to initialize mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceName, "local.", entries); err != nil {
		return "", fmt.Errorf("failed to browse for relays: %w", err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", fmt.Errorf("no relay found on the local network")
			}
			if entry == nil || len(entry.AddrIPv4) == 0 {
				continue
			}
			return fmt.Sprintf("ws://%s:%d/ws", entry.AddrIPv4[0], entry.Port), nil
		case <-ctx.Done():
			return "", fmt.Errorf("no relay found on the local network")
		}
	}
}
