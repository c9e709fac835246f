package console

import (
	"bytes"
	"sync"
)

// Pipe is an in-memory Console for tests and loopback wiring: Push injects
// input batches, Output captures everything written.
type Pipe struct {
	mu      sync.Mutex
	batches chan []byte
	out     bytes.Buffer
	closed  bool
}

// NewPipe returns an open in-memory console.
func NewPipe() *Pipe {
	return &Pipe{batches: make(chan []byte, DefaultBufferSize)}
}

// Push queues one input batch, as if the bytes arrived in a single port
// read. Pushes after Close, or into a full backlog, are dropped.
func (p *Pipe) Push(batch []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	b := make([]byte, len(batch))
	copy(b, batch)
	select {
	case p.batches <- b:
	default:
	}
}

// PushString is Push for string literals.
func (p *Pipe) PushString(batch string) {
	p.Push([]byte(batch))
}

// Batches returns the channel of pending input batches.
func (p *Pipe) Batches() <-chan []byte {
	return p.batches
}

// Write captures output for later inspection.
func (p *Pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

// Output returns everything written so far.
func (p *Pipe) Output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

// ResetOutput discards the captured output.
func (p *Pipe) ResetOutput() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out.Reset()
}

// Close stops accepting input.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.batches)
	return nil
}
