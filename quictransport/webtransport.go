package quictransport

import (
	"context"
	"net/http"

	"github.com/quic-go/quic-go/http3"
	webtransport "github.com/quic-go/webtransport-go"

	"github.com/moqfabric/fabric/moq"
)

// NewWebTransportServer builds a webtransport-go Server with its H3 field
// properly initialized.
//
// webtransport-go v0.9.1's H3 field changed from a value to a pointer
// without NewServer being updated for every caller, so a zero-value Server
// panics inside ServeQUICConn on a nil dereference the first time a
// connection arrives. Building the *http3.Server ourselves and running
// ConfigureHTTP3Server on it up front avoids that path entirely.
func NewWebTransportServer(checkOrigin func(*http.Request) bool) *webtransport.Server {
	h3 := &http3.Server{Handler: http.DefaultServeMux}
	webtransport.ConfigureHTTP3Server(h3)
	return &webtransport.Server{H3: h3, CheckOrigin: checkOrigin}
}

// UpgradeWebTransport upgrades an incoming HTTP/3 request to a WebTransport
// session and returns it as a moq.Connection, ready for moq.Accept.
func UpgradeWebTransport(srv *webtransport.Server, w http.ResponseWriter, r *http.Request) (moq.Connection, error) {
	sess, err := srv.Upgrade(w, r)
	if err != nil {
		return nil, err
	}
	return &wtConn{sess: sess}, nil
}

// DialWebTransport is the client side of UpgradeWebTransport.
func DialWebTransport(ctx context.Context, d *webtransport.Dialer, url string, header http.Header) (moq.Connection, error) {
	_, sess, err := d.Dial(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return &wtConn{sess: sess}, nil
}

// wtConn wraps *webtransport.Session as moq.Connection.
type wtConn struct {
	sess *webtransport.Session
}

func (c *wtConn) AcceptBidi(ctx context.Context) (moq.Stream, error) {
	s, err := c.sess.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return &wtStream{stream: s}, nil
}

func (c *wtConn) OpenBidi(ctx context.Context) (moq.Stream, error) {
	s, err := c.sess.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &wtStream{stream: s}, nil
}

func (c *wtConn) AcceptUni(ctx context.Context) (moq.RecvStream, error) {
	s, err := c.sess.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return &wtRecvStream{stream: s}, nil
}

func (c *wtConn) OpenUni(ctx context.Context) (moq.SendStream, error) {
	s, err := c.sess.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &wtSendStream{stream: s}, nil
}

func (c *wtConn) CloseWithError(code moq.ErrorCode, reason string) error {
	return c.sess.CloseWithError(webtransport.SessionErrorCode(code), reason)
}

// wtStream wraps a bidirectional *webtransport.Stream.
type wtStream struct {
	stream *webtransport.Stream
}

func (s *wtStream) Read(b []byte) (int, error)  { return s.stream.Read(b) }
func (s *wtStream) Write(b []byte) (int, error) { return s.stream.Write(b) }
func (s *wtStream) Close() error                { return s.stream.Close() }

// SetPriority is a no-op: WebTransport streams don't expose per-stream
// send priority the way a raw QUIC stream does.
func (s *wtStream) SetPriority(priority int32) {}

func (s *wtStream) Reset(code moq.ErrorCode) {
	s.stream.CancelWrite(webtransport.StreamErrorCode(code))
	s.stream.CancelRead(webtransport.StreamErrorCode(code))
}

func (s *wtStream) Closed(ctx context.Context) error {
	select {
	case <-s.stream.Context().Done():
		return context.Cause(s.stream.Context())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wtSendStream wraps a uni *webtransport.SendStream.
type wtSendStream struct {
	stream *webtransport.SendStream
}

func (s *wtSendStream) Write(b []byte) (int, error) { return s.stream.Write(b) }
func (s *wtSendStream) Close() error                { return s.stream.Close() }
func (s *wtSendStream) SetPriority(priority int32)  {}

func (s *wtSendStream) Reset(code moq.ErrorCode) {
	s.stream.CancelWrite(webtransport.StreamErrorCode(code))
}

// wtRecvStream wraps a uni *webtransport.ReceiveStream.
type wtRecvStream struct {
	stream *webtransport.ReceiveStream
}

func (s *wtRecvStream) Read(b []byte) (int, error) { return s.stream.Read(b) }

func (s *wtRecvStream) Closed(ctx context.Context) error {
	select {
	case <-s.stream.Context().Done():
		return context.Cause(s.stream.Context())
	case <-ctx.Done():
		return ctx.Err()
	}
}
