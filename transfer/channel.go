// Package transfer implements the chunked file transfer engine that runs over
// an established ordered, reliable peer data channel. Files are framed as one
// file-info control message, a run of raw binary chunks, and one file-complete
// control message; a batch ends with all-complete. Chunks carry no sequence
// metadata: ordering and delivery are the channel's job, and out-of-order or
// lossy transports are unsupported.
package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dropwire/models"
)

const (
	// ChunkSize is the fixed binary slice size for file payloads.
	ChunkSize = 64 * 1024
	// MaxBufferedChunks bounds the channel's outstanding unsent backlog; the
	// sender defers before queueing a slice past this many chunk sizes.
	MaxBufferedChunks = 16
	// DefaultPollInterval is the fallback backpressure recheck delay for
	// channels without a drain notification. Shorter polls cost CPU; longer
	// polls add up to one interval of latency per stall.
	DefaultPollInterval = 10 * time.Millisecond
)

const (
	TypeFileInfo     = "file-info"
	TypeFileComplete = "file-complete"
	TypeAllComplete  = "all-complete"
)

var (
	// ErrUnknownControl indicates an unrecognized control message tag.
	ErrUnknownControl = errors.New("transfer: unknown control message type")
	// ErrNoActiveFile indicates a chunk or file-complete without a preceding
	// file-info.
	ErrNoActiveFile = errors.New("transfer: no active file")
)

// DataChannel is the transport surface the engine needs. *webrtc.DataChannel
// satisfies it directly; tests use an in-memory pipe.
type DataChannel interface {
	Send(data []byte) error
	SendText(text string) error
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(bytes uint64)
	OnBufferedAmountLow(fn func())
}

// FileInfoMessage announces the next file in the batch.
type FileInfoMessage struct {
	Type string `json:"type"`
	models.FileInfo
}

// FileCompleteMessage marks the end of the current file's chunk run.
type FileCompleteMessage struct {
	Type string `json:"type"`
}

// AllCompleteMessage marks the end of the batch.
type AllCompleteMessage struct {
	Type string `json:"type"`
}

// Control is implemented by the data-channel control messages.
type Control interface {
	controlKind() string
}

func (FileInfoMessage) controlKind() string     { return TypeFileInfo }
func (FileCompleteMessage) controlKind() string { return TypeFileComplete }
func (AllCompleteMessage) controlKind() string  { return TypeAllComplete }

// DecodeControl parses one control payload, rejecting unknown tags.
func DecodeControl(payload []byte) (Control, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode control envelope: %w", err)
	}

	switch envelope.Type {
	case TypeFileInfo:
		var msg FileInfoMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("decode file-info: %w", err)
		}
		return msg, nil
	case TypeFileComplete:
		return FileCompleteMessage{Type: TypeFileComplete}, nil
	case TypeAllComplete:
		return AllCompleteMessage{Type: TypeAllComplete}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownControl, envelope.Type)
	}
}

func sendControl(channel DataChannel, msg Control) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.controlKind(), err)
	}
	if err := channel.SendText(string(payload)); err != nil {
		return fmt.Errorf("send %s: %w", msg.controlKind(), err)
	}
	return nil
}
