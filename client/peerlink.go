package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/pion/webrtc/v3"

	"dropwire/models"
	"dropwire/signal"
)

// ErrLinkFailed indicates the direct peer link failed before the transfer
// finished.
var ErrLinkFailed = errors.New("client: peer link failed")

const dataChannelLabel = "fileTransfer"

// peerLinkConfig wires one direct peer connection attempt.
type peerLinkConfig struct {
	roomID     string
	iceServers []models.ICEServer

	// sendSignal relays handshake payloads through the broker.
	sendSignal func(signal.Message) error
	// completed guards status reporting: a failed/disconnected transition
	// after the transfer finished is ordinary teardown, not an error.
	completed *atomic.Bool

	onStatus func(status string)
	onFailed func(err error)
}

// peerLink owns one RTCPeerConnection and the trickle signaling around it.
type peerLink struct {
	cfg peerLinkConfig
	pc  *webrtc.PeerConnection
}

func newPeerLink(cfg peerLinkConfig) (*peerLink, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers:           toPionICEServers(cfg.iceServers),
		ICECandidatePoolSize: 10,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	link := &peerLink{cfg: cfg, pc: pc}

	// Candidates are trickled to the counterpart as they are discovered.
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		payload, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			log.Printf("client: marshal ICE candidate: %v", err)
			return
		}
		if err := cfg.sendSignal(signal.ICECandidate{
			Type:      signal.TypeICECandidate,
			RoomID:    cfg.roomID,
			Candidate: payload,
		}); err != nil {
			log.Printf("client: relay ICE candidate: %v", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		link.reportState(state)
	})

	return link, nil
}

func (p *peerLink) reportState(state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		p.status("Establishing direct connection...")
	case webrtc.PeerConnectionStateConnected:
		p.status("Connected")
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		if p.cfg.completed.Load() {
			// Teardown racing the success path; the transfer already finished.
			return
		}
		if p.cfg.onFailed != nil {
			p.cfg.onFailed(fmt.Errorf("%w: state %s", ErrLinkFailed, state))
		}
	}
}

func (p *peerLink) status(text string) {
	if p.cfg.onStatus != nil {
		p.cfg.onStatus(text)
	}
}

// CreateDataChannel opens the host-side channel. The defaults give an
// ordered, reliable stream, which the transfer engine depends on.
func (p *peerLink) CreateDataChannel() (*webrtc.DataChannel, error) {
	channel, err := p.pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	return channel, nil
}

// OnDataChannel registers the receiver-side callback fired when the host's
// channel arrives.
func (p *peerLink) OnDataChannel(fn func(*webrtc.DataChannel)) {
	p.pc.OnDataChannel(fn)
}

// CreateOffer produces the host's session description and stores it locally.
func (p *peerLink) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return offer.SDP, nil
}

// HandleOffer applies the host's offer and produces the receiver's answer.
func (p *peerLink) HandleOffer(sdp string) (string, error) {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(remote); err != nil {
		return "", fmt.Errorf("set remote offer: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return answer.SDP, nil
}

// HandleAnswer applies the receiver's answer on the host side.
func (p *peerLink) HandleAnswer(sdp string) error {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

// AddCandidate applies one trickled remote candidate.
func (p *peerLink) AddCandidate(raw json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return fmt.Errorf("decode ICE candidate: %w", err)
	}
	if err := p.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

// Close tears the peer connection down.
func (p *peerLink) Close() error {
	return p.pc.Close()
}

func toPionICEServers(servers []models.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, server := range servers {
		entry := webrtc.ICEServer{URLs: server.URLs}
		if server.Username != "" {
			entry.Username = server.Username
			entry.Credential = server.Credential
		}
		out = append(out, entry)
	}
	return out
}
