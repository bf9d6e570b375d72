// Package broker implements the session broker: a relay that pairs one host
// and one receiver per room, enforces access policy at join and completion
// time, and forwards opaque handshake payloads between the two peers.
package broker

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dropwire/models"
	"dropwire/signal"
)

const (
	// DefaultRoomExpiry bounds room lifetime when create-room requests none.
	DefaultRoomExpiry = 24 * time.Hour
	// DefaultInactivityWindow is the idle window before the sweep deletes a room.
	DefaultInactivityWindow = 30 * time.Minute
	// DefaultSweepInterval is how often the inactivity sweep runs.
	DefaultSweepInterval = 5 * time.Minute
	// DefaultLivenessInterval is how often every connection is pinged. A
	// connection that missed the previous ping is forcibly terminated.
	DefaultLivenessInterval = 30 * time.Second
	// maxSignalMessageSize bounds one inbound signaling frame.
	maxSignalMessageSize = 256 * 1024
)

// User-facing failure texts sent in error messages.
const (
	msgRoomExists        = "Room already exists"
	msgRoomNotFound      = "Room not found. The sender may have closed their browser."
	msgRoomExpired       = "Room link has expired. Ask the sender for a new link."
	msgQuotaReached      = "Room download limit reached. Ask the sender for a new link."
	msgRoomFull          = "Room is full."
	msgIncorrectPassword = "Incorrect password"
	msgSenderLeft        = "Sender disconnected"
	msgReceiverLeft      = "Receiver disconnected"
	reasonDownloadLimit  = "Download limit reached"
)

// StatsStore records completed-transfer reports and serves running totals.
type StatsStore interface {
	RecordTransfer(record models.TransferRecord) error
	Totals() (models.TransferTotals, error)
}

// Options controls broker behavior.
type Options struct {
	RoomExpiry       time.Duration
	InactivityWindow time.Duration
	SweepInterval    time.Duration
	LivenessInterval time.Duration
	ICEServers       []models.ICEServer
	Stats            StatsStore
}

func (o Options) withDefaults() Options {
	out := o
	if out.RoomExpiry <= 0 {
		out.RoomExpiry = DefaultRoomExpiry
	}
	if out.InactivityWindow <= 0 {
		out.InactivityWindow = DefaultInactivityWindow
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = DefaultSweepInterval
	}
	if out.LivenessInterval <= 0 {
		out.LivenessInterval = DefaultLivenessInterval
	}
	return out
}

// Server is the broker HTTP handler: the /ws signaling endpoint plus the
// health, relay-credentials and stats endpoints.
type Server struct {
	options  Options
	registry *Registry
	mux      *http.ServeMux
	upgrader websocket.Upgrader

	connsMu sync.Mutex
	conns   map[*conn]struct{}

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewServer creates a broker and starts its sweep and liveness timers.
func NewServer(options Options) *Server {
	s := &Server{
		options:  options.withDefaults(),
		conns:    make(map[*conn]struct{}),
		closed:   make(chan struct{}),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.registry = NewRegistry(s.options.RoomExpiry)

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/turn-credentials", s.handleTURNCredentials)
	s.mux.HandleFunc("/api/stats", s.handleStats)

	s.wg.Add(2)
	go s.sweepLoop()
	go s.livenessLoop()

	return s
}

// Registry exposes the room registry for inspection.
func (s *Server) Registry() *Registry {
	return s.registry
}

// ServeHTTP dispatches to the broker's endpoints.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close stops the timers and terminates every open connection.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.connsMu.Lock()
		for c := range s.conns {
			c.close()
		}
		s.connsMu.Unlock()
	})
	s.wg.Wait()
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("broker: upgrade failed: %v", err)
		return
	}

	c := newConn(ws)
	s.connsMu.Lock()
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()

	s.readPump(c)

	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()

	s.handleDisconnect(c)
	c.close()
}

// readPump handles inbound frames until the connection dies. A malformed
// payload never terminates the connection; it is logged and ignored.
func (s *Server) readPump(c *conn) {
	c.ws.SetReadLimit(maxSignalMessageSize)
	c.ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.alive.Store(true)

		msg, err := signal.Decode(payload)
		if err != nil {
			log.Printf("broker: dropping malformed message: %v", err)
			continue
		}
		s.handleMessage(c, msg)
	}
}

func (s *Server) handleMessage(c *conn, msg signal.Message) {
	switch m := msg.(type) {
	case signal.CreateRoom:
		s.handleCreateRoom(c, m)
	case signal.JoinRoom:
		s.handleJoinRoom(c, m)
	case signal.VerifyPassword:
		s.handleVerifyPassword(c, m)
	case signal.Offer:
		s.forward(c, m.RoomID, m)
	case signal.Answer:
		s.forward(c, m.RoomID, m)
	case signal.ICECandidate:
		s.forward(c, m.RoomID, m)
	case signal.TransferComplete:
		s.handleTransferComplete(m)
	case signal.Ping:
		if roomID, _ := c.binding(); roomID != "" {
			s.registry.Touch(roomID)
		}
		c.Send(signal.Pong{Type: signal.TypePong})
	case signal.Pong:
		// Already refreshed liveness in the read pump.
	default:
		// Server-to-client kinds arriving inbound are protocol noise.
		log.Printf("broker: ignoring unexpected %s message", msg.Kind())
	}
}

func (s *Server) handleCreateRoom(c *conn, m signal.CreateRoom) {
	if m.RoomID == "" {
		c.Send(signal.NewError(msgRoomNotFound))
		return
	}

	if err := s.registry.CreateRoom(m.RoomID, c, m.Options); err != nil {
		if errors.Is(err, ErrRoomExists) {
			c.Send(signal.NewError(msgRoomExists))
			return
		}
		log.Printf("broker: create room %q: %v", m.RoomID, err)
		c.Send(signal.NewError("Room creation failed"))
		return
	}

	c.bind(m.RoomID, signal.RoleHost)
	c.Send(signal.RoomCreated{Type: signal.TypeRoomCreated, RoomID: m.RoomID})
	log.Printf("broker: room created: %s", m.RoomID)
}

func (s *Server) handleJoinRoom(c *conn, m signal.JoinRoom) {
	passwordRequired, host, err := s.registry.JoinRoom(m.RoomID, c)
	if err != nil {
		c.Send(signal.NewError(joinFailureText(err)))
		return
	}

	if passwordRequired {
		c.bind(m.RoomID, rolePending)
		c.Send(signal.PasswordRequired{Type: signal.TypePasswordRequired, RoomID: m.RoomID})
		return
	}

	s.completePairing(c, m.RoomID, host)
}

func (s *Server) handleVerifyPassword(c *conn, m signal.VerifyPassword) {
	host, err := s.registry.VerifyPassword(m.RoomID, m.Password, c)
	if err != nil {
		if errors.Is(err, ErrIncorrectPassword) {
			// Unlimited retries; the connection stays pending.
			c.Send(signal.NewError(msgIncorrectPassword))
			return
		}
		c.Send(signal.NewError(joinFailureText(err)))
		return
	}

	s.completePairing(c, m.RoomID, host)
}

// completePairing binds the joiner as receiver and notifies both sides. Each
// peer-joined carries the recipient's own role; the host is always the
// offering side of the handshake that follows.
func (s *Server) completePairing(c *conn, roomID string, host Peer) {
	c.bind(roomID, signal.RoleReceiver)
	c.Send(signal.RoomJoined{Type: signal.TypeRoomJoined, RoomID: roomID, Role: signal.RoleReceiver})

	if host != nil {
		host.Send(signal.PeerJoined{Type: signal.TypePeerJoined, RoomID: roomID, Role: signal.RoleHost})
	}
	c.Send(signal.PeerJoined{Type: signal.TypePeerJoined, RoomID: roomID, Role: signal.RoleReceiver})
	log.Printf("broker: receiver joined room: %s", roomID)
}

// forward relays a handshake payload verbatim to the counterpart peer.
// Forwards are silently dropped when the counterpart is absent or the sender
// is not bound to the named room.
func (s *Server) forward(c *conn, roomID string, msg signal.Message) {
	boundRoom, role := c.binding()
	if boundRoom != roomID || (role != signal.RoleHost && role != signal.RoleReceiver) {
		return
	}

	other, ok := s.registry.Counterpart(roomID, role)
	if !ok {
		return
	}
	other.Send(msg)
}

func (s *Server) handleTransferComplete(m signal.TransferComplete) {
	closed, host := s.registry.TransferComplete(m.RoomID)
	if !closed {
		return
	}
	if host != nil {
		host.Send(signal.RoomClosed{Type: signal.TypeRoomClosed, Reason: reasonDownloadLimit})
	}
	log.Printf("broker: room closed after reaching download limit: %s", m.RoomID)
}

// handleDisconnect applies the role-specific teardown once the read pump has
// exited. A room never outlives its host; a departed receiver only vacates
// its slot.
func (s *Server) handleDisconnect(c *conn) {
	roomID, role := c.binding()
	if roomID == "" {
		return
	}

	switch role {
	case signal.RoleHost:
		receiver, deleted := s.registry.DisconnectHost(roomID, c)
		if deleted {
			if receiver != nil {
				receiver.Send(signal.PeerLeft{Type: signal.TypePeerLeft, Message: msgSenderLeft})
			}
			log.Printf("broker: room closed: %s", roomID)
		}
	case signal.RoleReceiver:
		host, cleared := s.registry.DisconnectReceiver(roomID, c)
		if cleared && host != nil {
			host.Send(signal.PeerLeft{Type: signal.TypePeerLeft, Message: msgReceiverLeft})
		}
	}
}

func (s *Server) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.options.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, id := range s.registry.Sweep(s.options.InactivityWindow) {
				log.Printf("broker: cleaning up inactive room: %s", id)
			}
		case <-s.closed:
			return
		}
	}
}

// livenessLoop pings every open connection on a fixed interval. A connection
// that did not answer the previous ping is terminated, which triggers the
// usual disconnect handling.
func (s *Server) livenessLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.options.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.connsMu.Lock()
			conns := make([]*conn, 0, len(s.conns))
			for c := range s.conns {
				conns = append(conns, c)
			}
			s.connsMu.Unlock()

			for _, c := range conns {
				if !c.alive.Swap(false) {
					log.Printf("broker: terminating unresponsive connection")
					c.close()
					continue
				}
				if err := c.writePing(); err != nil {
					c.close()
				}
			}
		case <-s.closed:
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) handleTURNCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	servers := s.options.ICEServers
	if len(servers) == 0 {
		servers = []models.ICEServer{}
	}
	writeJSON(w, http.StatusOK, servers)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.options.Stats == nil {
		http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		totals, err := s.options.Stats.Totals()
		if err != nil {
			log.Printf("broker: stats totals: %v", err)
			http.Error(w, "stats unavailable", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, totals)
	case http.MethodPost:
		var record models.TransferRecord
		if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
			http.Error(w, "invalid record", http.StatusBadRequest)
			return
		}
		record.RecordID = uuid.NewString()
		record.CompletedAt = time.Now().UnixMilli()
		if err := s.options.Stats.RecordTransfer(record); err != nil {
			log.Printf("broker: record transfer: %v", err)
			http.Error(w, "stats unavailable", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func joinFailureText(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return msgRoomNotFound
	case errors.Is(err, ErrRoomExpired):
		return msgRoomExpired
	case errors.Is(err, ErrQuotaExhausted):
		return msgQuotaReached
	case errors.Is(err, ErrRoomFull):
		return msgRoomFull
	default:
		return msgRoomNotFound
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("broker: write response: %v", err)
	}
}
