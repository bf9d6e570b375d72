package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

// ErrNoBroker indicates no broker answered on the local network.
var ErrNoBroker = errors.New("discovery: no broker found")

// Broker is one advertised broker endpoint found on the LAN.
type Broker struct {
	BrokerID   string
	BrokerName string
	Version    int
	HostName   string
	Port       int
	Addresses  []string
}

// URL builds the HTTP base URL for the broker's first address.
func (b Broker) URL() string {
	if len(b.Addresses) == 0 {
		return ""
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(b.Addresses[0], strconv.Itoa(b.Port)))
}

// Browse scans the local network for advertised brokers, blocking for the
// configured browse window.
func Browse(ctx context.Context, config Config) ([]Broker, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	browseCtx, cancel := context.WithTimeout(ctx, cfg.BrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collected := make(map[string]Broker)
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-browseCtx.Done():
				return
			case entry := <-entries:
				if entry == nil {
					continue
				}
				broker, ok := parseEntry(entry)
				if !ok {
					continue
				}
				collected[broker.BrokerID] = broker
			}
		}
	}()

	if err := browse(browseCtx, cfg.Service, cfg.Domain, entries); err != nil {
		return nil, fmt.Errorf("browse mDNS: %w", err)
	}

	<-browseCtx.Done()
	<-collectorDone

	// A timeout just means the browse window ended naturally.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Broker, 0, len(collected))
	for _, broker := range collected {
		out = append(out, broker)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BrokerName == out[j].BrokerName {
			return out[i].BrokerID < out[j].BrokerID
		}
		return out[i].BrokerName < out[j].BrokerName
	})
	return out, nil
}

// FindBroker returns the first broker found on the LAN.
func FindBroker(ctx context.Context, config Config) (Broker, error) {
	brokers, err := Browse(ctx, config)
	if err != nil {
		return Broker{}, err
	}
	if len(brokers) == 0 {
		return Broker{}, ErrNoBroker
	}
	return brokers[0], nil
}

func parseEntry(entry *zeroconf.ServiceEntry) (Broker, bool) {
	txt := txtToMap(entry.Text)

	brokerID := strings.TrimSpace(txt["broker_id"])
	if brokerID == "" {
		return Broker{}, false
	}

	version := 0
	if txt["version"] != "" {
		if parsed, err := strconv.Atoi(txt["version"]); err == nil {
			version = parsed
		}
	}

	addresses := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	seen := make(map[string]struct{})
	for _, ip := range append(entry.AddrIPv4, entry.AddrIPv6...) {
		if ip == nil {
			continue
		}
		raw := ip.String()
		if raw == "" {
			continue
		}
		if _, exists := seen[raw]; exists {
			continue
		}
		seen[raw] = struct{}{}
		addresses = append(addresses, raw)
	}
	sort.Strings(addresses)

	name := strings.TrimSpace(entry.Instance)
	if name == "" {
		name = strings.TrimSpace(entry.HostName)
	}
	if name == "" {
		name = brokerID
	}

	return Broker{
		BrokerID:   brokerID,
		BrokerName: name,
		Version:    version,
		HostName:   entry.HostName,
		Port:       entry.Port,
		Addresses:  addresses,
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}
