// Package quictransport adapts quic-go and webtransport-go connections to
// the moq.Connection/Stream capability interfaces (§6.2, §9). The core
// package never imports either library directly; everything transport
// specific lives here.
package quictransport

import (
	"context"
	"crypto/tls"
	"net"

	quicgo "github.com/quic-go/quic-go"

	"github.com/moqfabric/fabric/moq"
)

// Dial opens a native QUIC connection to addr and returns it as a
// moq.Connection, ready to pass to moq.Connect.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config, quicConf *quicgo.Config) (moq.Connection, error) {
	conn, err := quicgo.DialAddr(ctx, addr, tlsConf, quicConf)
	if err != nil {
		return nil, err
	}
	return &quicConn{conn: conn}, nil
}

// Listener accepts native QUIC connections, handing each back as a
// moq.Connection for moq.Accept.
type Listener struct {
	ln *quicgo.Listener
}

// Listen starts a QUIC listener on addr.
func Listen(addr string, tlsConf *tls.Config, quicConf *quicgo.Config) (*Listener, error) {
	ln, err := quicgo.ListenAddr(addr, tlsConf, quicConf)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln}, nil
}

// Accept blocks for the next inbound connection.
func (l *Listener) Accept(ctx context.Context) (moq.Connection, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &quicConn{conn: conn}, nil
}

// Addr returns the listener's local address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// quicConn wraps *quicgo.Conn as moq.Connection.
type quicConn struct {
	conn *quicgo.Conn
}

func (c *quicConn) AcceptBidi(ctx context.Context) (moq.Stream, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return &quicStream{stream: s}, nil
}

func (c *quicConn) OpenBidi(ctx context.Context) (moq.Stream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &quicStream{stream: s}, nil
}

func (c *quicConn) AcceptUni(ctx context.Context) (moq.RecvStream, error) {
	s, err := c.conn.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return &quicRecvStream{stream: s}, nil
}

func (c *quicConn) OpenUni(ctx context.Context) (moq.SendStream, error) {
	s, err := c.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &quicSendStream{stream: s}, nil
}

func (c *quicConn) CloseWithError(code moq.ErrorCode, reason string) error {
	return c.conn.CloseWithError(quicgo.ApplicationErrorCode(code), reason)
}

// quicStream wraps a bidirectional *quicgo.Stream.
type quicStream struct {
	stream *quicgo.Stream
}

func (s *quicStream) Read(b []byte) (int, error)  { return s.stream.Read(b) }
func (s *quicStream) Write(b []byte) (int, error) { return s.stream.Write(b) }
func (s *quicStream) Close() error                { return s.stream.Close() }

func (s *quicStream) SetPriority(priority int32) {
	s.stream.SetPriority(priority)
}

func (s *quicStream) Reset(code moq.ErrorCode) {
	s.stream.CancelWrite(quicgo.StreamErrorCode(code))
	s.stream.CancelRead(quicgo.StreamErrorCode(code))
}

func (s *quicStream) Closed(ctx context.Context) error {
	select {
	case <-s.stream.Context().Done():
		return context.Cause(s.stream.Context())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// quicSendStream wraps a uni *quicgo.SendStream.
type quicSendStream struct {
	stream *quicgo.SendStream
}

func (s *quicSendStream) Write(b []byte) (int, error) { return s.stream.Write(b) }
func (s *quicSendStream) Close() error                { return s.stream.Close() }

func (s *quicSendStream) SetPriority(priority int32) {
	s.stream.SetPriority(priority)
}

func (s *quicSendStream) Reset(code moq.ErrorCode) {
	s.stream.CancelWrite(quicgo.StreamErrorCode(code))
}

// quicRecvStream wraps a uni *quicgo.ReceiveStream.
type quicRecvStream struct {
	stream *quicgo.ReceiveStream
}

func (s *quicRecvStream) Read(b []byte) (int, error) { return s.stream.Read(b) }

func (s *quicRecvStream) Closed(ctx context.Context) error {
	select {
	case <-s.stream.Context().Done():
		return context.Cause(s.stream.Context())
	case <-ctx.Done():
		return ctx.Err()
	}
}
