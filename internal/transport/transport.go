// Package transport moves command class frames between the host and the
// controller stick.
// Backend: serial API framing over a USB CDC ACM or UART port.
package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("transport: closed")
	// ErrNAK is returned when the controller rejects a frame.
	ErrNAK = errors.New("transport: frame not acknowledged")
	// ErrCAN is returned when the controller drops a frame because of a collision.
	ErrCAN = errors.New("transport: frame cancelled")
	// ErrTxFailed is returned when the controller reports that a frame
	// never reached the node.
	ErrTxFailed = errors.New("transport: transmit failed")
	// ErrChecksum marks an inbound frame whose checksum does not match.
	ErrChecksum = errors.New("transport: checksum mismatch")
)

// Frame is one command class command addressed to or received from a node.
type Frame struct {
	NodeID    uint8  `json:"node_id"`
	ClassID   uint8  `json:"class_id"`
	CommandID uint8  `json:"command_id"`
	Payload   []byte `json:"payload"`
}

func (f Frame) String() string {
	return fmt.Sprintf("node %d 0x%02X/0x%02X [% X]", f.NodeID, f.ClassID, f.CommandID, f.Payload)
}

// Transport is the abstract interface for a controller link.
type Transport interface {
	// Send delivers a frame to the controller. It returns once the
	// controller acknowledged the frame; there is no retransmission.
	Send(ctx context.Context, f Frame) error

	// OnFrame registers the handler for inbound command frames. The handler
	// runs on the read goroutine.
	OnFrame(handler func(Frame))

	// Lifecycle
	Close() error
}
