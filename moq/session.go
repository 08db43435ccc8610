package moq

import (
	"bufio"
	"context"
	"sync"
)

// Session is one MoQ connection: a control-stream setup handshake plus
// the publisher and subscriber halves that serve and consume tracks over
// it (§6.3). The core owns no goroutine scheduling policy beyond "one
// goroutine per inbound/outbound stream, coordinated through Watch
// cells" — see §5.
type Session struct {
	conn Connection
	pub  *publisher
	sub  *subscriber

	closeOnce sync.Once
	closed    *Watch[*Error]
}

// Connect performs the initiator side of setup over transport and
// returns a running Session.
func Connect(ctx context.Context, transport Connection) (*Session, error) {
	stream, err := transport.OpenBidi(ctx)
	if err != nil {
		return nil, WrapError(TransportError, err)
	}
	if err := setupClient(stream); err != nil {
		stream.Reset(errorCode(err))
		transport.CloseWithError(errorCode(err), err.Error())
		return nil, err
	}
	return newSession(ctx, transport, stream), nil
}

// Accept performs the responder side of setup over transport and
// returns a running Session.
func Accept(ctx context.Context, transport Connection) (*Session, error) {
	stream, err := transport.AcceptBidi(ctx)
	if err != nil {
		return nil, WrapError(TransportError, err)
	}
	if err := setupServer(stream); err != nil {
		stream.Reset(errorCode(err))
		transport.CloseWithError(errorCode(err), err.Error())
		return nil, err
	}
	return newSession(ctx, transport, stream), nil
}

func newSession(ctx context.Context, transport Connection, control Stream) *Session {
	s := &Session{
		conn:   transport,
		closed: NewWatch[*Error](nil),
	}
	s.pub = newPublisher(s)
	s.sub = newSubscriber(s)

	go s.acceptLoop(ctx)
	_ = control // the session control stream is reserved for future use (§4.8.2); closing it tears down the session via acceptLoop observing the connection close instead.

	return s
}

// acceptLoop starts the bidirectional and unidirectional accept loops as
// goroutines (each spawns a sub-task per inbound stream) and returns
// immediately.
func (s *Session) acceptLoop(ctx context.Context) {
	go s.acceptBidiLoop(ctx)
	go s.acceptUniLoop(ctx)
}

func (s *Session) acceptBidiLoop(ctx context.Context) {
	for {
		stream, err := s.conn.AcceptBidi(ctx)
		if err != nil {
			s.Close(WrapError(TransportError, err))
			return
		}
		go s.serveBidi(ctx, stream)
	}
}

func (s *Session) acceptUniLoop(ctx context.Context) {
	for {
		stream, err := s.conn.AcceptUni(ctx)
		if err != nil {
			s.Close(WrapError(TransportError, err))
			return
		}
		go s.sub.serveGroup(ctx, stream)
	}
}

func (s *Session) serveBidi(ctx context.Context, stream Stream) {
	// br carries every read for this stream's lifetime, starting with
	// the kind tag — see the ReadVarInt doc comment on why a
	// freshly-wrapped reader per call would corrupt the rest of the
	// stream.
	br := bufio.NewReader(stream)

	kind, err := ReadVarInt(br)
	if err != nil {
		stream.Reset(ProtocolError)
		return
	}
	switch StreamKind(kind) {
	case StreamAnnounce:
		s.pub.serveAnnounce(ctx, stream, br)
	case StreamSubscribe:
		s.pub.serveSubscribe(ctx, stream, br)
	default:
		stream.Reset(ProtocolError)
	}
}

// Publish makes broadcast available to the peer under path: inbound
// Subscribe/Announce requests matching it are served from the local
// Origin registry.
func (s *Session) Publish(path string, broadcast *BroadcastConsumer) {
	s.pub.origin.Publish(path, broadcast)
}

// Subscribe requests path from the peer, returning a consumer whose
// tracks are populated on demand as the caller subscribes to them.
func (s *Session) Subscribe(ctx context.Context, path string) *BroadcastConsumer {
	return s.sub.subscribeBroadcast(ctx, path)
}

// Announced requests the peer's broadcasts under prefix, returning a
// live stream of (suffix, broadcast) as local proxies.
func (s *Session) Announced(ctx context.Context, prefix string) *OriginConsumer {
	return s.sub.announced(ctx, prefix)
}

// PublisherIdle blocks until the peer has no open Announce subscription
// against anything this session has Published (§4.6), or ctx is done. A
// caller uses this to stop feeding a session whose peer isn't watching.
func (s *Session) PublisherIdle(ctx context.Context) error {
	return s.pub.origin.Unused(ctx)
}

// SendSubscribeUpdate narrows or widens an active remote subscription at
// any later time (§4.8.2). tc must be a TrackConsumer obtained, directly
// or via a BroadcastConsumer, from this session's Subscribe; it returns a
// ProtocolError if the peer subscription behind tc is no longer active.
func (s *Session) SendSubscribeUpdate(tc *TrackConsumer, upd SubscribeUpdate) error {
	return s.sub.sendUpdate(tc, upd)
}

// Close tears down the session, closing the transport with err's wire
// code and every locally-owned producer/consumer derived from it.
func (s *Session) Close(err *Error) {
	if err == nil {
		err = CancelErr
	}
	s.closeOnce.Do(func() {
		s.closed.Modify(func(v **Error) { *v = err })
		s.closed.Close()
		s.conn.CloseWithError(err.Code, err.Message)
		s.pub.close()
		s.sub.close()
	})
}

// Done reports whether the session has already closed, without blocking.
func (s *Session) Done() bool {
	v, _ := s.closed.Read()
	return v != nil
}

// Closed blocks until the session closes and returns the terminal
// error.
func (s *Session) Closed(ctx context.Context) *Error {
	for {
		v, epoch := s.closed.Read()
		if v != nil {
			return v
		}
		ch, _ := s.closed.Changed(epoch)
		select {
		case <-ch:
		case <-ctx.Done():
			return WrapError(CancelError, ctx.Err())
		}
	}
}

func errorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ProtocolError
}
