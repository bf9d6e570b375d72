package transfer

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"dropwire/models"
)

// memorySink collects saved files in memory.
type memorySink struct {
	mu    sync.Mutex
	infos []models.FileInfo
	data  [][]byte
}

func (m *memorySink) SaveFile(info models.FileInfo, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	owned := make([]byte, len(data))
	copy(owned, data)
	m.infos = append(m.infos, info)
	m.data = append(m.data, owned)
	return nil
}

func (m *memorySink) saved() ([]models.FileInfo, [][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.FileInfo(nil), m.infos...), append([][]byte(nil), m.data...)
}

// pipeChannel is an in-memory DataChannel that delivers frames straight into a
// Receiver. It simulates the transport's unsent backlog: Send grows it and a
// drain must be triggered explicitly (or via autoDrain).
type pipeChannel struct {
	mu        sync.Mutex
	receiver  *Receiver
	buffered  uint64
	threshold uint64
	onLow     func()

	// maxBuffered records the high-water mark observed at Send time, before
	// the new chunk is counted.
	maxBuffered uint64

	// autoDrain empties the backlog synchronously after every Send.
	autoDrain bool

	handleErr error
}

func (p *pipeChannel) Send(data []byte) error {
	p.mu.Lock()
	if p.buffered > p.maxBuffered {
		p.maxBuffered = p.buffered
	}
	p.buffered += uint64(len(data))
	receiver := p.receiver
	p.mu.Unlock()

	if receiver != nil {
		if err := receiver.HandleBinary(data); err != nil {
			p.mu.Lock()
			p.handleErr = err
			p.mu.Unlock()
		}
	}
	if p.autoDrain {
		p.drain(^uint64(0))
	}
	return nil
}

func (p *pipeChannel) SendText(text string) error {
	p.mu.Lock()
	receiver := p.receiver
	p.mu.Unlock()

	if receiver != nil {
		if err := receiver.HandleText([]byte(text)); err != nil {
			p.mu.Lock()
			p.handleErr = err
			p.mu.Unlock()
		}
	}
	return nil
}

func (p *pipeChannel) BufferedAmount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffered
}

func (p *pipeChannel) SetBufferedAmountLowThreshold(bytes uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.threshold = bytes
}

func (p *pipeChannel) OnBufferedAmountLow(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLow = fn
}

// drain removes n bytes from the backlog, firing the low notification when
// the backlog crosses the threshold.
func (p *pipeChannel) drain(n uint64) {
	p.mu.Lock()
	wasAbove := p.buffered > p.threshold
	if n > p.buffered {
		n = p.buffered
	}
	p.buffered -= n
	nowBelow := p.buffered <= p.threshold
	fn := p.onLow
	p.mu.Unlock()

	if wasAbove && nowBelow && fn != nil {
		fn()
	}
}

func writeTempFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func patternBytes(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i % 251)
	}
	return out
}
