package core

import "context"

// Frame is a raw text payload as it travels over the socket.
type Frame []byte

// SignalConnection abstracts the realtime messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues a frame without blocking.
	TrySend(Frame) error
	Close()
	// Done is closed once the connection is gone for any reason.
	Done() <-chan struct{}
	// Err reports why Done was closed. Nil after a local Close.
	Err() error
}

// SignalDialer opens one SignalConnection. onFrame is invoked from the
// adapter's read loop for each inbound frame, in arrival order.
type SignalDialer interface {
	Dial(ctx context.Context, url string, onFrame func(Frame)) (SignalConnection, error)
}
