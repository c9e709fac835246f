package console

import (
	"context"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Stdio is a Console over the process's standard streams, used when no
// serial port is configured (interactive and simulated runs).
type Stdio struct {
	batches chan []byte
	log     zerolog.Logger
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
}

// NewStdio starts a console on stdin/stdout.
func NewStdio(log zerolog.Logger) *Stdio {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Stdio{
		batches: make(chan []byte, DefaultBufferSize),
		log:     log.With().Str("console", "stdio").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}

	go s.readBatches()

	return s
}

// Write sends echo and telemetry bytes to stdout.
func (s *Stdio) Write(p []byte) (int, error) {
	return os.Stdout.Write(p)
}

// Batches returns the channel of pending input batches.
func (s *Stdio) Batches() <-chan []byte {
	return s.batches
}

// Close stops delivery. A read blocked on stdin cannot be interrupted
// portably, so the reader goroutine exits with the process; Close only
// guarantees no further batches are delivered.
func (s *Stdio) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return nil
}

func (s *Stdio) readBatches() {
	buf := make([]byte, batchSize)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		n, err := os.Stdin.Read(buf)
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.Debug().Err(err).Msg("stdin closed")
			}
			return
		}
		if n == 0 {
			continue
		}

		batch := make([]byte, n)
		copy(batch, buf[:n])

		select {
		case s.batches <- batch:
		case <-s.ctx.Done():
			return
		default:
			s.log.Warn().Msg("command backlog full, dropping batch")
		}
	}
}
