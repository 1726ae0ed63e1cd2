// Package audio moves raw PCM between the transport and the
// recognition runtime.
package audio

import (
	"io"
	"sync"
)

// Pipe is a bounded byte stream connecting an audio producer to a
// single reader. Writes never block: when the buffer is full the
// oldest chunk is dropped so the reader always sees fresh audio.
type Pipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	chunks [][]byte
	max    int
	closed bool
}

func NewPipe(maxChunks int) *Pipe {
	if maxChunks <= 0 {
		maxChunks = 32
	}
	p := &Pipe{max: maxChunks}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Write copies b into the buffer and returns immediately.
func (p *Pipe) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	chunk := make([]byte, len(b))
	copy(chunk, b)
	p.chunks = append(p.chunks, chunk)
	if len(p.chunks) > p.max {
		p.chunks = p.chunks[1:]
	}
	p.cond.Signal()
	return len(b), nil
}

// Read blocks until data arrives or the pipe closes. After Close the
// remaining chunks drain first, then Read returns io.EOF.
func (p *Pipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.chunks) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.chunks[0])
	if n < len(p.chunks[0]) {
		p.chunks[0] = p.chunks[0][n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

// Close unblocks the reader. Close is idempotent.
func (p *Pipe) Close() error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	return nil
}
