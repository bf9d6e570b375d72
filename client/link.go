// Package client implements the peer side of a dropwire session: the broker
// link, the transport link establisher, and the host/receive session flows
// that drive the chunked transfer engine.
package client

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dropwire/signal"
)

const (
	// DefaultDialTimeout bounds one broker connection attempt.
	DefaultDialTimeout = 10 * time.Second
	// DefaultKeepaliveInterval is how often an active host pings the broker.
	DefaultKeepaliveInterval = 25 * time.Second
	// DefaultReconnectAttempts bounds host reconnection after a dropped link.
	DefaultReconnectAttempts = 5
	// DefaultReconnectDelay separates reconnection attempts.
	DefaultReconnectDelay = 2 * time.Second

	roomIDLength = 12
	wsPath       = "/ws"
)

// ErrLinkClosed indicates a send on a dead broker link.
var ErrLinkClosed = errors.New("client: broker link closed")

// BrokerLink is one live signaling connection to the broker.
type BrokerLink struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	inbound chan signal.Message

	closeOnce sync.Once
	done      chan struct{}

	errMu   sync.Mutex
	lastErr error
}

// DialBroker connects to the broker's signaling endpoint. brokerURL is the
// plain HTTP base URL; the scheme and /ws path are derived from it.
func DialBroker(ctx context.Context, brokerURL string, timeout time.Duration) (*BrokerLink, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	wsURL, err := WebSocketURL(brokerURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	ws, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial broker %q: %w", wsURL, err)
	}

	link := &BrokerLink{
		ws:      ws,
		inbound: make(chan signal.Message, 32),
		done:    make(chan struct{}),
	}
	go link.readLoop()
	return link, nil
}

// WebSocketURL maps a broker base URL to its signaling endpoint.
func WebSocketURL(brokerURL string) (string, error) {
	parsed, err := url.Parse(brokerURL)
	if err != nil {
		return "", fmt.Errorf("parse broker URL: %w", err)
	}

	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported broker URL scheme %q", parsed.Scheme)
	}
	parsed.Path = wsPath
	return parsed.String(), nil
}

// Send marshals and writes one signaling message.
func (l *BrokerLink) Send(msg signal.Message) error {
	select {
	case <-l.done:
		return ErrLinkClosed
	default:
	}

	payload, err := signal.Encode(msg)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		l.closeWithError(fmt.Errorf("write to broker: %w", err))
		return err
	}
	return nil
}

// Inbound returns the stream of decoded broker messages. The channel is
// closed when the link dies.
func (l *BrokerLink) Inbound() <-chan signal.Message {
	return l.inbound
}

// Done is closed when the link is no longer usable.
func (l *BrokerLink) Done() <-chan struct{} {
	return l.done
}

// Err returns the terminal link error, if any.
func (l *BrokerLink) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.lastErr
}

// Close tears the link down.
func (l *BrokerLink) Close() error {
	l.closeWithError(nil)
	return nil
}

func (l *BrokerLink) readLoop() {
	// Broker liveness pings are answered by gorilla's default ping handler;
	// this loop only sees application messages. Closing inbound here, and
	// only here, keeps the close ordered after the final delivery.
	defer close(l.inbound)

	for {
		_, payload, err := l.ws.ReadMessage()
		if err != nil {
			l.closeWithError(err)
			return
		}

		msg, err := signal.Decode(payload)
		if err != nil {
			log.Printf("client: dropping malformed broker message: %v", err)
			continue
		}

		select {
		case l.inbound <- msg:
		case <-l.done:
			return
		}
	}
}

func (l *BrokerLink) closeWithError(err error) {
	l.closeOnce.Do(func() {
		l.errMu.Lock()
		l.lastErr = err
		l.errMu.Unlock()

		_ = l.ws.Close()
		close(l.done)
	})
}

// GenerateRoomID mints an opaque short room identifier in the same alphabet
// the share links use.
func GenerateRoomID() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	raw := make([]byte, roomIDLength)
	if _, err := rand.Read(raw); err != nil {
		// crypto/rand failing means the process is in much deeper trouble.
		panic(fmt.Sprintf("client: read random bytes: %v", err))
	}

	id := make([]byte, roomIDLength)
	for i, b := range raw {
		id[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(id)
}
