package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func fakeBrowse(sent []*zeroconf.ServiceEntry) browseFunc {
	return func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
		go func() {
			for _, entry := range sent {
				select {
				case entries <- entry:
				case <-ctx.Done():
					return
				}
			}
		}()
		return nil
	}
}

func serviceEntry(brokerID, instance string, port int, addr string) *zeroconf.ServiceEntry {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: instance},
		Port:          port,
		Text:          []string{"broker_id=" + brokerID, "version=1"},
	}
	if addr != "" {
		entry.AddrIPv4 = []net.IP{net.ParseIP(addr)}
	}
	return entry
}

func TestBrowseCollectsBrokers(t *testing.T) {
	config := Config{
		BrowseTimeout: 100 * time.Millisecond,
		browseFn: fakeBrowse([]*zeroconf.ServiceEntry{
			serviceEntry("b2", "spare", 3001, "192.168.1.8"),
			serviceEntry("b1", "den", 3000, "192.168.1.7"),
			// No broker_id TXT record; not one of ours.
			{ServiceRecord: zeroconf.ServiceRecord{Instance: "printer"}, Port: 631},
		}),
	}

	brokers, err := Browse(context.Background(), config)
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}

	if len(brokers) != 2 {
		t.Fatalf("len = %d, want 2", len(brokers))
	}
	if brokers[0].BrokerName != "den" || brokers[1].BrokerName != "spare" {
		t.Errorf("order = [%s %s], want [den spare]", brokers[0].BrokerName, brokers[1].BrokerName)
	}
	if got := brokers[0].URL(); got != "http://192.168.1.7:3000" {
		t.Errorf("URL = %q, want %q", got, "http://192.168.1.7:3000")
	}
}

func TestBrowseDeduplicatesByBrokerID(t *testing.T) {
	config := Config{
		BrowseTimeout: 100 * time.Millisecond,
		browseFn: fakeBrowse([]*zeroconf.ServiceEntry{
			serviceEntry("b1", "den", 3000, "192.168.1.7"),
			serviceEntry("b1", "den", 3000, "192.168.1.7"),
		}),
	}

	brokers, err := Browse(context.Background(), config)
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	if len(brokers) != 1 {
		t.Errorf("len = %d, want 1", len(brokers))
	}
}

func TestFindBrokerNoneOnLAN(t *testing.T) {
	config := Config{
		BrowseTimeout: 50 * time.Millisecond,
		browseFn:      fakeBrowse(nil),
	}

	if _, err := FindBroker(context.Background(), config); !errors.Is(err, ErrNoBroker) {
		t.Errorf("err = %v, want ErrNoBroker", err)
	}
}

func TestBrowsePropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	config := Config{
		BrowseTimeout: time.Second,
		browseFn:      fakeBrowse(nil),
	}

	if _, err := Browse(ctx, config); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestBrokerURLWithoutAddresses(t *testing.T) {
	if got := (Broker{Port: 3000}).URL(); got != "" {
		t.Errorf("URL = %q, want empty", got)
	}
}
