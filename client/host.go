package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"

	"dropwire/models"
	"dropwire/signal"
	"dropwire/transfer"
)

var (
	// ErrNoFiles indicates a host session with nothing to share.
	ErrNoFiles = errors.New("client: no files to share")
	// ErrBrokerUnreachable indicates reconnection attempts were exhausted.
	ErrBrokerUnreachable = errors.New("client: broker connection lost")
)

// HostOptions configures one hosting session.
type HostOptions struct {
	BrokerURL string
	// RoomID is generated when empty.
	RoomID string
	// Room carries the access policy registered with create-room.
	Room signal.RoomOptions
	// Paths are the local files in the batch, sent in order.
	Paths []string
	// ICEServers overrides the credential fetch when non-empty.
	ICEServers []models.ICEServer

	DialTimeout       time.Duration
	KeepaliveInterval time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	Sender transfer.SenderOptions

	OnStatus   func(status string)
	OnProgress func(sample transfer.Progress)
}

func (o HostOptions) withDefaults() HostOptions {
	out := o
	if out.DialTimeout <= 0 {
		out.DialTimeout = DefaultDialTimeout
	}
	if out.KeepaliveInterval <= 0 {
		out.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if out.ReconnectAttempts <= 0 {
		out.ReconnectAttempts = DefaultReconnectAttempts
	}
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = DefaultReconnectDelay
	}
	return out
}

// HostSession owns a created room: it keeps the broker link alive, re-creates
// the room after a dropped link, and serves the file batch to each receiver
// that pairs with the room.
type HostSession struct {
	options HostOptions
	roomID  string

	ctx    context.Context
	cancel context.CancelFunc

	peerMu sync.Mutex
	peer   *peerLink

	iceMu      sync.Mutex
	iceServers []models.ICEServer

	// completed guards connection-state reporting for the current receiver.
	completed atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	finalErr  error
}

// Host connects to the broker, registers the room and returns the running
// session once the broker confirms room-created.
func Host(ctx context.Context, options HostOptions) (*HostSession, error) {
	opts := options.withDefaults()
	if len(opts.Paths) == 0 {
		return nil, ErrNoFiles
	}

	roomID := opts.RoomID
	if roomID == "" {
		roomID = GenerateRoomID()
	}

	link, err := DialBroker(ctx, opts.BrokerURL, opts.DialTimeout)
	if err != nil {
		return nil, err
	}

	if err := createRoom(ctx, link, roomID, opts.Room, opts.DialTimeout); err != nil {
		_ = link.Close()
		return nil, err
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	session := &HostSession{
		options: opts,
		roomID:  roomID,
		ctx:     sessionCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	session.iceServers = opts.ICEServers

	go session.run(link)
	return session, nil
}

// createRoom issues create-room and waits for the broker's confirmation.
func createRoom(ctx context.Context, link *BrokerLink, roomID string, room signal.RoomOptions, timeout time.Duration) error {
	if err := link.Send(signal.CreateRoom{Type: signal.TypeCreateRoom, RoomID: roomID, Options: room}); err != nil {
		return err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("client: room creation timed out after %s", timeout)
		case msg, ok := <-link.Inbound():
			if !ok {
				if err := link.Err(); err != nil {
					return err
				}
				return ErrLinkClosed
			}
			switch m := msg.(type) {
			case signal.RoomCreated:
				return nil
			case signal.ErrorMessage:
				return fmt.Errorf("client: create room: %s", m.Message)
			default:
				// Unrelated traffic while waiting; keep going.
			}
		}
	}
}

// RoomID returns the registered room identifier.
func (s *HostSession) RoomID() string {
	return s.roomID
}

// ShareLink builds the link a receiver opens to join the room.
func (s *HostSession) ShareLink() string {
	return fmt.Sprintf("%s/?room=%s", s.options.BrokerURL, s.roomID)
}

// Done is closed when the session ends: room closed by the broker, context
// cancelled, or broker reconnection exhausted.
func (s *HostSession) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal session error, if any.
func (s *HostSession) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

// Close ends the session and releases the broker and peer links.
func (s *HostSession) Close() error {
	s.finish(nil)
	return nil
}

func (s *HostSession) run(link *BrokerLink) {
	defer func() {
		_ = link.Close()
		s.closePeer()
	}()

	keepalive := time.NewTicker(s.options.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.finish(nil)
			return
		case <-keepalive.C:
			// Keeps the broker link and the room's activity clock alive on
			// idle-timeout-prone paths; no effect on the transfer itself.
			_ = link.Send(signal.Ping{Type: signal.TypePing})
		case msg, ok := <-link.Inbound():
			if !ok {
				_ = link.Close()
				next, err := s.reconnect()
				if err != nil {
					s.finish(err)
					return
				}
				link = next
				continue
			}
			if stop := s.handleMessage(link, msg); stop {
				s.finish(nil)
				return
			}
		}
	}
}

// reconnect re-dials the broker and re-issues create-room with the same room
// id, up to the configured attempt budget.
func (s *HostSession) reconnect() (*BrokerLink, error) {
	for attempt := 1; attempt <= s.options.ReconnectAttempts; attempt++ {
		s.status(fmt.Sprintf("Reconnecting to broker (attempt %d/%d)...", attempt, s.options.ReconnectAttempts))

		select {
		case <-s.ctx.Done():
			return nil, s.ctx.Err()
		case <-time.After(s.options.ReconnectDelay):
		}

		link, err := DialBroker(s.ctx, s.options.BrokerURL, s.options.DialTimeout)
		if err != nil {
			log.Printf("client: reconnect attempt %d: %v", attempt, err)
			continue
		}
		if err := createRoom(s.ctx, link, s.roomID, s.options.Room, s.options.DialTimeout); err != nil {
			log.Printf("client: re-create room attempt %d: %v", attempt, err)
			_ = link.Close()
			continue
		}

		s.status("Reconnected")
		return link, nil
	}

	return nil, fmt.Errorf("%w after %d attempts", ErrBrokerUnreachable, s.options.ReconnectAttempts)
}

func (s *HostSession) handleMessage(link *BrokerLink, msg signal.Message) (stop bool) {
	switch m := msg.(type) {
	case signal.PeerJoined:
		s.status("Receiver connected, establishing direct link...")
		if err := s.startPeerLink(link); err != nil {
			log.Printf("client: start peer link: %v", err)
			s.status("Direct link setup failed")
		}
	case signal.Answer:
		if peer := s.currentPeer(); peer != nil {
			if err := peer.HandleAnswer(m.SDP); err != nil {
				log.Printf("client: %v", err)
			}
		}
	case signal.ICECandidate:
		if peer := s.currentPeer(); peer != nil {
			if err := peer.AddCandidate(m.Candidate); err != nil {
				log.Printf("client: %v", err)
			}
		}
	case signal.PeerLeft:
		if !s.completed.Load() {
			s.status("Receiver disconnected")
		}
		// The room stays open; a new receiver may pair later.
		s.closePeer()
	case signal.RoomClosed:
		s.status(fmt.Sprintf("Room closed: %s", m.Reason))
		return true
	case signal.ErrorMessage:
		log.Printf("client: broker error: %s", m.Message)
	case signal.Pong:
		// Keepalive answered.
	default:
		log.Printf("client: ignoring unexpected %s message", msg.Kind())
	}
	return false
}

// startPeerLink brings up a fresh direct connection for the receiver that
// just paired and sends the opening offer. The host is always the offerer.
func (s *HostSession) startPeerLink(link *BrokerLink) error {
	s.closePeer()
	s.completed.Store(false)

	peer, err := newPeerLink(peerLinkConfig{
		roomID:     s.roomID,
		iceServers: s.resolveICEServers(),
		sendSignal: link.Send,
		completed:  &s.completed,
		onStatus:   s.status,
		onFailed: func(err error) {
			log.Printf("client: %v", err)
			s.status("Direct connection failed, receiver can retry")
		},
	})
	if err != nil {
		return err
	}

	channel, err := peer.CreateDataChannel()
	if err != nil {
		_ = peer.Close()
		return err
	}
	channel.OnOpen(func() {
		go s.runSend(channel)
	})

	s.peerMu.Lock()
	s.peer = peer
	s.peerMu.Unlock()

	sdp, err := peer.CreateOffer()
	if err != nil {
		s.closePeer()
		return err
	}
	return link.Send(signal.Offer{Type: signal.TypeOffer, RoomID: s.roomID, SDP: sdp})
}

func (s *HostSession) runSend(channel *webrtc.DataChannel) {
	s.status("Transfer starting...")
	started := time.Now()

	senderOptions := s.options.Sender
	senderOptions.OnProgress = s.options.OnProgress
	sender := transfer.NewSender(channel, senderOptions)

	bytes, err := sender.SendFiles(s.ctx, s.options.Paths)
	if err != nil {
		log.Printf("client: send files: %v", err)
		s.status("Transfer failed")
		return
	}

	s.completed.Store(true)
	s.status("All files sent")

	record := models.TransferRecord{
		Files:          len(s.options.Paths),
		Bytes:          bytes,
		DurationMillis: time.Since(started).Milliseconds(),
	}
	if err := ReportTransfer(s.ctx, s.options.BrokerURL, record); err != nil {
		log.Printf("client: report transfer stats: %v", err)
	}
}

// resolveICEServers returns the configured list or fetches one, caching the
// result for later receivers.
func (s *HostSession) resolveICEServers() []models.ICEServer {
	s.iceMu.Lock()
	defer s.iceMu.Unlock()

	if len(s.iceServers) == 0 {
		s.iceServers = FetchICEServers(s.ctx, s.options.BrokerURL)
	}
	return s.iceServers
}

func (s *HostSession) currentPeer() *peerLink {
	s.peerMu.Lock()
	defer s.peerMu.Unlock()
	return s.peer
}

func (s *HostSession) closePeer() {
	s.peerMu.Lock()
	peer := s.peer
	s.peer = nil
	s.peerMu.Unlock()

	if peer != nil {
		_ = peer.Close()
	}
}

func (s *HostSession) status(text string) {
	if s.options.OnStatus != nil {
		s.options.OnStatus(text)
	}
}

func (s *HostSession) finish(err error) {
	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.finalErr = err
		s.errMu.Unlock()

		s.cancel()
		close(s.done)
	})
}
