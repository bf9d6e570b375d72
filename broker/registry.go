package broker

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"dropwire/signal"
)

var (
	// ErrRoomExists indicates a create for an already registered room id.
	ErrRoomExists = errors.New("broker: room already exists")
	// ErrRoomNotFound indicates the room id is not registered.
	ErrRoomNotFound = errors.New("broker: room not found")
	// ErrRoomExpired indicates the room outlived its expiry and was deleted.
	ErrRoomExpired = errors.New("broker: room expired")
	// ErrQuotaExhausted indicates the download quota was already reached.
	ErrQuotaExhausted = errors.New("broker: room download quota exhausted")
	// ErrRoomFull indicates the receiver slot is occupied.
	ErrRoomFull = errors.New("broker: room is full")
	// ErrIncorrectPassword indicates a failed password verification.
	ErrIncorrectPassword = errors.New("broker: incorrect password")
)

// Peer is the send side of one registered connection. Sends are best-effort;
// the registry never blocks on peer I/O.
type Peer interface {
	Send(msg signal.Message)
}

// Room pairs one host with at most one receiver plus access policy state.
type Room struct {
	ID           string
	Host         Peer
	Receiver     Peer
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
	MaxDownloads int
	Downloads    int

	passwordHash []byte
}

// PasswordProtected reports whether joins must verify a password first.
func (r *Room) PasswordProtected() bool {
	return len(r.passwordHash) > 0
}

// Registry is the single owned store of rooms. All mutation happens under one
// coarse lock; room counts are small and every operation is an O(1) map access.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	defaultExpiry time.Duration
	now           func() time.Time
}

// NewRegistry creates an empty room registry. defaultExpiry bounds room
// lifetime when create-room does not request one.
func NewRegistry(defaultExpiry time.Duration) *Registry {
	return &Registry{
		rooms:         make(map[string]*Room),
		defaultExpiry: defaultExpiry,
		now:           time.Now,
	}
}

// CreateRoom registers a room owned by host with the supplied policy.
func (reg *Registry) CreateRoom(roomID string, host Peer, opts signal.RoomOptions) error {
	var passwordHash []byte
	if opts.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		passwordHash = hash
	}

	expiry := reg.defaultExpiry
	if opts.ExpiryHours > 0 {
		expiry = time.Duration(opts.ExpiryHours) * time.Hour
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, exists := reg.rooms[roomID]; exists {
		return ErrRoomExists
	}

	now := reg.now()
	reg.rooms[roomID] = &Room{
		ID:           roomID,
		Host:         host,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(expiry),
		MaxDownloads: opts.MaxDownloads,
		passwordHash: passwordHash,
	}
	return nil
}

// JoinRoom evaluates access policy for a join attempt. When the room requires
// a password the receiver is not bound yet and the caller must hold the
// connection pending until VerifyPassword succeeds. Expiry and quota are
// evaluated lazily here; a failed check deletes the room.
func (reg *Registry) JoinRoom(roomID string, receiver Peer) (passwordRequired bool, host Peer, err error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, err := reg.openRoomLocked(roomID)
	if err != nil {
		return false, nil, err
	}
	if room.Receiver != nil {
		return false, nil, ErrRoomFull
	}
	if room.PasswordProtected() {
		room.LastActivity = reg.now()
		return true, nil, nil
	}

	reg.bindReceiverLocked(room, receiver)
	return false, room.Host, nil
}

// VerifyPassword checks a pending joiner's password and binds it as receiver
// on an exact match. Mismatches are unlimited-retry; no lockout state exists.
func (reg *Registry) VerifyPassword(roomID, password string, receiver Peer) (Peer, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, err := reg.openRoomLocked(roomID)
	if err != nil {
		return nil, err
	}
	if room.Receiver != nil {
		return nil, ErrRoomFull
	}
	if bcrypt.CompareHashAndPassword(room.passwordHash, []byte(password)) != nil {
		return nil, ErrIncorrectPassword
	}

	reg.bindReceiverLocked(room, receiver)
	return room.Host, nil
}

// Counterpart returns the opposite peer bound to the room, refreshing room
// activity. The second return is false when the counterpart is absent, in
// which case the caller drops the forward silently.
func (reg *Registry) Counterpart(roomID, fromRole string) (Peer, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[roomID]
	if !ok {
		return nil, false
	}
	room.LastActivity = reg.now()

	var other Peer
	switch fromRole {
	case signal.RoleHost:
		other = room.Receiver
	case signal.RoleReceiver:
		other = room.Host
	}
	if other == nil {
		return nil, false
	}
	return other, true
}

// Touch refreshes room activity for keepalive pings.
func (reg *Registry) Touch(roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if room, ok := reg.rooms[roomID]; ok {
		room.LastActivity = reg.now()
	}
}

// TransferComplete increments the room's download counter. When the counter
// reaches a configured maximum the room is deleted and the host peer is
// returned so the caller can notify it.
func (reg *Registry) TransferComplete(roomID string) (closed bool, host Peer) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[roomID]
	if !ok {
		return false, nil
	}

	room.Downloads++
	room.LastActivity = reg.now()
	if room.MaxDownloads > 0 && room.Downloads >= room.MaxDownloads {
		delete(reg.rooms, roomID)
		return true, room.Host
	}
	return false, nil
}

// DisconnectHost deletes the room a host was bound to. The bound receiver, if
// any, is returned so the caller can notify it. Duplicate disconnect events
// find no room and return false.
func (reg *Registry) DisconnectHost(roomID string, host Peer) (receiver Peer, deleted bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[roomID]
	if !ok || room.Host != host {
		return nil, false
	}

	delete(reg.rooms, roomID)
	return room.Receiver, true
}

// DisconnectReceiver vacates the receiver slot; the room stays open for
// re-pairing. The host is returned so the caller can notify it.
func (reg *Registry) DisconnectReceiver(roomID string, receiver Peer) (host Peer, cleared bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[roomID]
	if !ok || room.Receiver != receiver {
		return nil, false
	}

	room.Receiver = nil
	return room.Host, true
}

// Sweep deletes rooms idle for longer than window and returns their ids.
// Nobody is notified; both sides are assumed gone.
func (reg *Registry) Sweep(window time.Duration) []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	now := reg.now()
	var swept []string
	for id, room := range reg.rooms {
		if now.Sub(room.LastActivity) > window {
			delete(reg.rooms, id)
			swept = append(swept, id)
		}
	}
	return swept
}

// Len returns the number of registered rooms.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// Lookup returns a snapshot of a room's policy counters for inspection.
func (reg *Registry) Lookup(roomID string) (Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	return *room, true
}

// openRoomLocked resolves a room for a join-side operation, applying the lazy
// expiry and quota checks. Failed checks delete the room.
func (reg *Registry) openRoomLocked(roomID string) (*Room, error) {
	room, ok := reg.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if reg.now().After(room.ExpiresAt) {
		delete(reg.rooms, roomID)
		return nil, ErrRoomExpired
	}
	if room.MaxDownloads > 0 && room.Downloads >= room.MaxDownloads {
		delete(reg.rooms, roomID)
		return nil, ErrQuotaExhausted
	}
	return room, nil
}

func (reg *Registry) bindReceiverLocked(room *Room, receiver Peer) {
	room.Receiver = receiver
	room.LastActivity = reg.now()
}
