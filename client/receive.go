package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"

	"dropwire/models"
	"dropwire/signal"
	"dropwire/transfer"
)

var (
	// ErrPasswordRequired indicates the room is protected and no password was
	// supplied.
	ErrPasswordRequired = errors.New("client: room requires a password")
	// ErrIncorrectPassword indicates the supplied room password was rejected.
	ErrIncorrectPassword = errors.New("client: incorrect password")
	// ErrSenderLeft indicates the host disconnected before the batch finished.
	ErrSenderLeft = errors.New("client: sender disconnected")
)

// incorrectPasswordText is the broker's reply to a failed password check. The
// wire protocol carries a single error shape, so the client keys off the text.
const incorrectPasswordText = "Incorrect password"

// ReceiveOptions configures one receive attempt against an existing room.
type ReceiveOptions struct {
	BrokerURL string
	RoomID    string
	// Password is offered when the broker asks for one; required joins fail
	// with ErrPasswordRequired when it is empty.
	Password string

	// OutputDir is where received files land. Ignored when Sink is set.
	OutputDir string
	Sink      transfer.Sink

	// ICEServers overrides the credential fetch when non-empty.
	ICEServers []models.ICEServer

	DialTimeout time.Duration

	OnStatus   func(status string)
	OnProgress func(sample transfer.Progress)
	OnFile     func(info models.FileInfo)
}

func (o ReceiveOptions) withDefaults() ReceiveOptions {
	out := o
	if out.DialTimeout <= 0 {
		out.DialTimeout = DefaultDialTimeout
	}
	if out.Sink == nil {
		dir := out.OutputDir
		if dir == "" {
			dir = "."
		}
		out.Sink = transfer.DirectorySink{Dir: dir}
	}
	return out
}

// Receive joins the room, establishes the direct link and receives the whole
// batch, blocking until the batch completes or the session fails. On success
// it reports transfer-complete to the broker and returns the batch record.
func Receive(ctx context.Context, options ReceiveOptions) (models.TransferRecord, error) {
	opts := options.withDefaults()

	link, err := DialBroker(ctx, opts.BrokerURL, opts.DialTimeout)
	if err != nil {
		return models.TransferRecord{}, err
	}
	defer func() {
		_ = link.Close()
	}()

	session := &receiveSession{options: opts, link: link}
	defer session.closePeer()

	session.receiver = transfer.NewReceiver(opts.Sink, transfer.ReceiverOptions{
		OnProgress: opts.OnProgress,
		OnFile:     opts.OnFile,
	})

	if err := link.Send(signal.JoinRoom{Type: signal.TypeJoinRoom, RoomID: opts.RoomID}); err != nil {
		return models.TransferRecord{}, err
	}
	session.status("Looking for the sender...")

	return session.loop(ctx)
}

// receiveSession holds the moving parts of one Receive call.
type receiveSession struct {
	options  ReceiveOptions
	link     *BrokerLink
	receiver *transfer.Receiver

	peer *peerLink
	// completed mirrors the receiver's terminal state for connection-state
	// reporting on the peer link.
	completed atomic.Bool
	// failed carries asynchronous peer link failures into the loop.
	failed chan error
}

func (s *receiveSession) loop(ctx context.Context) (models.TransferRecord, error) {
	s.failed = make(chan error, 1)

	for {
		select {
		case <-ctx.Done():
			return models.TransferRecord{}, ctx.Err()
		case err := <-s.failed:
			return models.TransferRecord{}, err
		case <-s.receiver.Done():
			return s.finishBatch(ctx)
		case msg, ok := <-s.link.Inbound():
			if !ok {
				if s.receiver.Completed() {
					// The broker link dying after all-complete does not undo
					// the transfer; the files are already on disk.
					return s.receiver.Stats(), nil
				}
				if err := s.link.Err(); err != nil {
					return models.TransferRecord{}, fmt.Errorf("broker link lost: %w", err)
				}
				return models.TransferRecord{}, ErrLinkClosed
			}
			if err := s.handleMessage(ctx, msg); err != nil {
				return models.TransferRecord{}, err
			}
		}
	}
}

func (s *receiveSession) handleMessage(ctx context.Context, msg signal.Message) error {
	switch m := msg.(type) {
	case signal.PasswordRequired:
		if s.options.Password == "" {
			return ErrPasswordRequired
		}
		s.status("Checking password...")
		return s.link.Send(signal.VerifyPassword{
			Type:     signal.TypeVerifyPassword,
			RoomID:   s.options.RoomID,
			Password: s.options.Password,
		})
	case signal.RoomJoined:
		s.status("Waiting for the sender to connect...")
	case signal.PeerJoined:
		return s.startPeerLink(ctx)
	case signal.Offer:
		return s.handleOffer(m)
	case signal.ICECandidate:
		if s.peer != nil {
			if err := s.peer.AddCandidate(m.Candidate); err != nil {
				log.Printf("client: %v", err)
			}
		}
	case signal.PeerLeft:
		if !s.receiver.Completed() {
			return ErrSenderLeft
		}
	case signal.RoomClosed:
		if !s.receiver.Completed() {
			return fmt.Errorf("client: room closed: %s", m.Reason)
		}
	case signal.ErrorMessage:
		if m.Message == incorrectPasswordText {
			return ErrIncorrectPassword
		}
		return fmt.Errorf("client: join room: %s", m.Message)
	case signal.Pong:
		// Keepalive answered.
	default:
		log.Printf("client: ignoring unexpected %s message", msg.Kind())
	}
	return nil
}

// startPeerLink prepares the answering side: the connection waits for the
// host's offer and incoming data channel.
func (s *receiveSession) startPeerLink(ctx context.Context) error {
	s.closePeer()

	iceServers := s.options.ICEServers
	if len(iceServers) == 0 {
		iceServers = FetchICEServers(ctx, s.options.BrokerURL)
	}

	peer, err := newPeerLink(peerLinkConfig{
		roomID:     s.options.RoomID,
		iceServers: iceServers,
		sendSignal: s.link.Send,
		completed:  &s.completed,
		onStatus:   s.status,
		onFailed: func(err error) {
			select {
			case s.failed <- err:
			default:
			}
		},
	})
	if err != nil {
		return err
	}

	peer.OnDataChannel(func(channel *webrtc.DataChannel) {
		s.bindChannel(channel)
	})

	s.peer = peer
	return nil
}

func (s *receiveSession) handleOffer(m signal.Offer) error {
	if s.peer == nil {
		// The offer can outrun peer-joined on a busy link; set up on demand.
		if err := s.startPeerLink(context.Background()); err != nil {
			return err
		}
	}

	answer, err := s.peer.HandleOffer(m.SDP)
	if err != nil {
		return err
	}
	return s.link.Send(signal.Answer{Type: signal.TypeAnswer, RoomID: s.options.RoomID, SDP: answer})
}

// bindChannel routes data channel traffic into the transfer receiver. Text
// frames carry control messages, binary frames carry chunk payloads.
func (s *receiveSession) bindChannel(channel *webrtc.DataChannel) {
	channel.OnMessage(func(msg webrtc.DataChannelMessage) {
		var err error
		if msg.IsString {
			err = s.receiver.HandleText(msg.Data)
		} else {
			err = s.receiver.HandleBinary(msg.Data)
		}
		if err != nil {
			log.Printf("client: receive: %v", err)
			select {
			case s.failed <- fmt.Errorf("receive: %w", err):
			default:
			}
		}
	})
}

// finishBatch runs once the receiver signals all-complete: it notifies the
// broker so the download counter advances and reports the batch stats.
func (s *receiveSession) finishBatch(ctx context.Context) (models.TransferRecord, error) {
	s.completed.Store(true)
	record := s.receiver.Stats()

	if err := s.link.Send(signal.TransferComplete{Type: signal.TypeTransferComplete, RoomID: s.options.RoomID}); err != nil {
		log.Printf("client: notify transfer complete: %v", err)
	}
	if err := ReportTransfer(ctx, s.options.BrokerURL, record); err != nil {
		log.Printf("client: report transfer stats: %v", err)
	}

	s.status("All files received")
	return record, nil
}

func (s *receiveSession) closePeer() {
	if s.peer != nil {
		_ = s.peer.Close()
		s.peer = nil
	}
}

func (s *receiveSession) status(text string) {
	if s.options.OnStatus != nil {
		s.options.OnStatus(text)
	}
}
