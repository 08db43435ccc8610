package moq

import (
	"context"
	"io"
)

// Connection is the capability the core requires of a host transport
// (§6.2). quic-go and webtransport-go sessions both satisfy this through
// a thin adapter; the core never names either concretely.
type Connection interface {
	AcceptBidi(ctx context.Context) (Stream, error)
	OpenBidi(ctx context.Context) (Stream, error)
	AcceptUni(ctx context.Context) (RecvStream, error)
	OpenUni(ctx context.Context) (SendStream, error)

	// CloseWithError closes the whole connection, mapping code/reason to
	// the transport's native close mechanism.
	CloseWithError(code ErrorCode, reason string) error
}

// SendStream is the write half of a stream.
type SendStream interface {
	io.Writer
	SetPriority(priority int32)
	Reset(code ErrorCode)
	Close() error
}

// RecvStream is the read half of a stream.
type RecvStream interface {
	io.Reader
	// Closed blocks until the peer resets the stream or it ends cleanly,
	// returning the reset error or nil.
	Closed(ctx context.Context) error
}

// Stream is a bidirectional stream: both control-plane directions of one
// logical exchange (Session/Announce/Subscribe/Info).
type Stream interface {
	SendStream
	RecvStream
}
