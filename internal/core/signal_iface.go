package core

import "errors"

// Frame is a raw, already encoded signaling message.
type Frame []byte

// ConnID identifies one transport connection. Never reused.
type ConnID string

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the gate decides when to Close() it.
type SignalConnection interface {
	// TrySend queues f without blocking. ErrBackpressure when the queue is full.
	TrySend(f Frame) error
	// Ping sends a transport level heartbeat probe.
	Ping() error
	// Close flushes queued frames, then closes with a protocol close code.
	Close(code int, reason string)
}
