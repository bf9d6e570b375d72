package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dropwire/models"
)

// SenderOptions controls chunking and backpressure behavior.
type SenderOptions struct {
	// ChunkSize is the binary slice size. Defaults to ChunkSize.
	ChunkSize int
	// MaxBufferedChunks is the backlog bound in chunk sizes. Defaults to
	// MaxBufferedChunks.
	MaxBufferedChunks int
	// PollInterval is the fallback backpressure recheck delay. Defaults to
	// DefaultPollInterval.
	PollInterval time.Duration
	// OnProgress, when set, receives a sample after every queued chunk.
	OnProgress func(Progress)
}

func (o SenderOptions) withDefaults() SenderOptions {
	out := o
	if out.ChunkSize <= 0 {
		out.ChunkSize = ChunkSize
	}
	if out.MaxBufferedChunks <= 0 {
		out.MaxBufferedChunks = MaxBufferedChunks
	}
	if out.PollInterval <= 0 {
		out.PollInterval = DefaultPollInterval
	}
	return out
}

// Sender serializes a batch of local files onto one data channel. Files are
// sent strictly serially; chunks from different files never interleave.
type Sender struct {
	channel   DataChannel
	options   SenderOptions
	threshold uint64
	drained   chan struct{}
}

// NewSender wires a sender to an open data channel. The channel's
// buffered-amount-low notification drives backpressure; the poll interval
// only matters when the notification never fires.
func NewSender(channel DataChannel, options SenderOptions) *Sender {
	s := &Sender{
		channel: channel,
		options: options.withDefaults(),
		drained: make(chan struct{}, 1),
	}
	s.threshold = uint64(s.options.ChunkSize * s.options.MaxBufferedChunks)

	channel.SetBufferedAmountLowThreshold(s.threshold)
	channel.OnBufferedAmountLow(func() {
		select {
		case s.drained <- struct{}{}:
		default:
		}
	})

	return s
}

// SendFiles transfers every path in order, then marks the batch complete.
// It returns the total payload bytes moved.
func (s *Sender) SendFiles(ctx context.Context, paths []string) (int64, error) {
	var total int64
	for i, path := range paths {
		n, err := s.sendFile(ctx, path, i+1, len(paths))
		total += n
		if err != nil {
			return total, err
		}
	}

	if err := sendControl(s.channel, AllCompleteMessage{Type: TypeAllComplete}); err != nil {
		return total, err
	}
	return total, nil
}

func (s *Sender) sendFile(ctx context.Context, path string, index, totalFiles int) (int64, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat source file %q: %w", path, err)
	}
	if stat.IsDir() {
		return 0, fmt.Errorf("source path %q is a directory", path)
	}

	info := models.FileInfo{
		Name:       filepath.Base(path),
		Size:       stat.Size(),
		MimeType:   mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
		Index:      index,
		TotalFiles: totalFiles,
	}
	if err := sendControl(s.channel, FileInfoMessage{Type: TypeFileInfo, FileInfo: info}); err != nil {
		return 0, err
	}

	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open source file %q: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	tracker := newProgressTracker(info)
	buf := make([]byte, s.options.ChunkSize)
	var sent int64
	for {
		n, err := io.ReadFull(file, buf)
		if n > 0 {
			if err := s.waitForBuffer(ctx); err != nil {
				return sent, err
			}

			// The channel may retain the slice; hand it an owned copy.
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := s.channel.Send(chunk); err != nil {
				return sent, fmt.Errorf("send chunk: %w", err)
			}

			sent += int64(n)
			if s.options.OnProgress != nil {
				s.options.OnProgress(tracker.add(int64(n)))
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return sent, fmt.Errorf("read source file %q: %w", path, err)
		}
	}

	if err := sendControl(s.channel, FileCompleteMessage{Type: TypeFileComplete}); err != nil {
		return sent, err
	}
	return sent, nil
}

// waitForBuffer defers until the channel's unsent backlog is back under the
// threshold. The drain notification wakes it promptly; the poll interval is
// the upper bound on how stale a recheck can be.
func (s *Sender) waitForBuffer(ctx context.Context) error {
	for s.channel.BufferedAmount() > s.threshold {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.drained:
		case <-time.After(s.options.PollInterval):
		}
	}
	return nil
}
