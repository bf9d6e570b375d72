package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dropwire/models"
)

// Sink receives fully reassembled files from the engine.
type Sink interface {
	SaveFile(info models.FileInfo, data []byte) error
}

// DirectorySink writes received files into one output directory. File names
// are flattened to their base name so a sender cannot escape the directory.
type DirectorySink struct {
	Dir string
}

// SaveFile writes the payload under the sink directory.
func (d DirectorySink) SaveFile(info models.FileInfo, data []byte) error {
	if err := os.MkdirAll(d.Dir, 0o700); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	name := filepath.Base(info.Name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "received.bin"
	}

	path := filepath.Join(d.Dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write received file: %w", err)
	}
	return nil
}

// ReceiverOptions controls receive-side reporting.
type ReceiverOptions struct {
	// OnProgress, when set, receives a sample after every chunk.
	OnProgress func(Progress)
	// OnFile, when set, is called after each file is handed to the sink.
	OnFile func(info models.FileInfo)
}

// Receiver reassembles the control-plus-chunk stream back into files. Chunks
// are appended in arrival order; the ordered, reliable channel is the only
// sequencing mechanism.
type Receiver struct {
	sink    Sink
	options ReceiverOptions

	mu       sync.Mutex
	current  *models.FileInfo
	chunks   [][]byte
	received int64
	tracker  *progressTracker

	batchStart time.Time
	batchFiles int
	batchBytes int64

	done     chan struct{}
	complete bool
}

// NewReceiver creates a receiver that hands finished files to sink.
func NewReceiver(sink Sink, options ReceiverOptions) *Receiver {
	return &Receiver{
		sink:       sink,
		options:    options,
		batchStart: time.Now(),
		done:       make(chan struct{}),
	}
}

// Done is closed once all-complete has been processed.
func (r *Receiver) Done() <-chan struct{} {
	return r.done
}

// Completed reports whether the whole batch finished. Connection teardown
// observed after this returns true is ordinary, not an error.
func (r *Receiver) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.complete
}

// Stats returns the final batch counters for the completed-transfer report.
func (r *Receiver) Stats() models.TransferRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.TransferRecord{
		Files:          r.batchFiles,
		Bytes:          r.batchBytes,
		DurationMillis: time.Since(r.batchStart).Milliseconds(),
	}
}

// HandleText processes one control message payload.
func (r *Receiver) HandleText(payload []byte) error {
	control, err := DecodeControl(payload)
	if err != nil {
		return err
	}

	switch msg := control.(type) {
	case FileInfoMessage:
		r.startFile(msg.FileInfo)
		return nil
	case FileCompleteMessage:
		return r.finishFile()
	case AllCompleteMessage:
		r.finishBatch()
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnknownControl, control)
	}
}

// HandleBinary appends one chunk to the active file's accumulator.
func (r *Receiver) HandleBinary(chunk []byte) error {
	r.mu.Lock()
	if r.current == nil {
		r.mu.Unlock()
		return ErrNoActiveFile
	}

	owned := make([]byte, len(chunk))
	copy(owned, chunk)
	r.chunks = append(r.chunks, owned)
	r.received += int64(len(owned))

	var sample Progress
	emit := r.options.OnProgress != nil
	if emit {
		sample = r.tracker.add(int64(len(owned)))
	}
	r.mu.Unlock()

	if emit {
		r.options.OnProgress(sample)
	}
	return nil
}

func (r *Receiver) startFile(info models.FileInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.current = &info
	r.chunks = nil
	r.received = 0
	r.tracker = newProgressTracker(info)
}

// finishFile concatenates the accumulated chunks and hands the payload to the
// sink, then clears accumulator state for the next file.
func (r *Receiver) finishFile() error {
	r.mu.Lock()
	if r.current == nil {
		r.mu.Unlock()
		return ErrNoActiveFile
	}

	info := *r.current
	payload := make([]byte, 0, r.received)
	for _, chunk := range r.chunks {
		payload = append(payload, chunk...)
	}

	r.current = nil
	r.chunks = nil
	r.received = 0
	r.tracker = nil

	r.batchFiles++
	r.batchBytes += int64(len(payload))
	r.mu.Unlock()

	if err := r.sink.SaveFile(info, payload); err != nil {
		return fmt.Errorf("save %q: %w", info.Name, err)
	}
	if r.options.OnFile != nil {
		r.options.OnFile(info)
	}
	return nil
}

func (r *Receiver) finishBatch() {
	r.mu.Lock()
	already := r.complete
	r.complete = true
	r.mu.Unlock()

	if !already {
		close(r.done)
	}
}
