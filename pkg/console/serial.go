package console

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// Serial is a Console over a serial port, the surface an operator plugs a
// terminal into.
type Serial struct {
	port string
	baud int

	conn    serial.Port
	batches chan []byte
	log     zerolog.Logger
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	open    bool
}

// NewSerial prepares a serial console on the named port. A baud of 0
// selects DefaultBaudRate. Open starts delivery.
func NewSerial(port string, baud int, log zerolog.Logger) *Serial {
	if baud == 0 {
		baud = DefaultBaudRate
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:    port,
		baud:    baud,
		batches: make(chan []byte, DefaultBufferSize),
		log:     log.With().Str("console", port).Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Ports returns the serial ports visible on this host.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// Open opens the port and starts the reader goroutine.
func (s *Serial) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return fmt.Errorf("already open")
	}

	conn, err := serial.Open(s.port, &serial.Mode{BaudRate: s.baud})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.port, err)
	}

	s.conn = conn
	s.open = true

	go s.readBatches()

	return nil
}

// IsOpen reports whether the port is currently open.
func (s *Serial) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Write sends echo or telemetry bytes to the operator side.
func (s *Serial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return 0, fmt.Errorf("not open")
	}
	return s.conn.Write(p)
}

// Batches returns the channel of pending input batches.
func (s *Serial) Batches() <-chan []byte {
	return s.batches
}

// Close stops the reader and closes the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}

	s.cancel()

	// The conn stays set so a reader mid call never sees nil; the closed
	// port fails its next read and the goroutine exits.
	err := s.conn.Close()
	s.open = false

	close(s.batches)

	return err
}

// readBatches delivers each port read as one batch. One batch is one
// command frame; the dispatcher drops malformed ones whole.
func (s *Serial) readBatches() {
	buf := make([]byte, batchSize)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		n, err := s.conn.Read(buf)
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.Error().Err(err).Msg("serial read failed")
			}
			return
		}
		if n == 0 {
			continue
		}

		batch := make([]byte, n)
		copy(batch, buf[:n])

		// The send happens under the lock so Close cannot close the
		// channel between the open check and the send.
		s.mu.Lock()
		if !s.open {
			s.mu.Unlock()
			return
		}
		select {
		case s.batches <- batch:
		default:
			s.log.Warn().Msg("command backlog full, dropping batch")
		}
		s.mu.Unlock()
	}
}
