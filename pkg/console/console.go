// Package console carries the operator command channel: input arrives as
// whole read batches (one batch is parsed as one command frame), output
// lines are echoed back on the same transport.
package console

import "io"

const (
	// DefaultBaudRate matches the shield's USB serial profile.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the pending-batch channel depth.
	DefaultBufferSize = 16
	// batchSize bounds one read batch: marker, command byte and payload,
	// with room for line endings from interactive terminals.
	batchSize = 64
)

// Console is a byte-batch command transport.
type Console interface {
	io.Writer
	Batches() <-chan []byte
	Close() error
}

var (
	_ Console = (*Serial)(nil)
	_ Console = (*Stdio)(nil)
	_ Console = (*Pipe)(nil)
)
