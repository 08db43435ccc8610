package moq

import (
	"context"
	"io"
	"sync"
)

// fakeStream is an in-memory Stream backed by a pair of io.Pipes, the same
// pattern used for transport-free handshake tests in the rtmp reference
// example. It is deliberately minimal: Closed is never called anywhere in
// this package's production code, so it just blocks until explicitly
// marked done.
type fakeStream struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu     sync.Mutex
	done   bool
	doneCh chan struct{}
	err    error
}

func newFakeStream(r *io.PipeReader, w *io.PipeWriter) *fakeStream {
	return &fakeStream{r: r, w: w, doneCh: make(chan struct{})}
}

func (s *fakeStream) Write(p []byte) (int, error) {
	if s.w == nil {
		return 0, io.ErrClosedPipe
	}
	return s.w.Write(p)
}

func (s *fakeStream) Read(p []byte) (int, error) {
	if s.r == nil {
		return 0, io.ErrClosedPipe
	}
	return s.r.Read(p)
}

func (s *fakeStream) SetPriority(int32) {}

func (s *fakeStream) Reset(code ErrorCode) {
	e := NewError(code, "stream reset")
	if s.w != nil {
		s.w.CloseWithError(e)
	}
	if s.r != nil {
		s.r.CloseWithError(e)
	}
	s.markDone(e)
}

func (s *fakeStream) Close() error {
	var err error
	if s.w != nil {
		err = s.w.Close()
	}
	s.markDone(nil)
	return err
}

func (s *fakeStream) markDone(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.err = err
	close(s.doneCh)
}

func (s *fakeStream) Closed(ctx context.Context) error {
	select {
	case <-s.doneCh:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fakeConn is one half of an in-memory Connection pair: streams opened on
// one side arrive as Accept calls on the other.
type fakeConn struct {
	bidiOut chan Stream
	bidiIn  chan Stream
	uniOut  chan RecvStream
	uniIn   chan RecvStream
}

// newFakeConnPair returns two endpoints of an in-memory connection, wired
// so that OpenBidi/OpenUni on one side surfaces as AcceptBidi/AcceptUni on
// the other.
func newFakeConnPair() (a, b *fakeConn) {
	bidiAtoB := make(chan Stream, 16)
	bidiBtoA := make(chan Stream, 16)
	uniAtoB := make(chan RecvStream, 16)
	uniBtoA := make(chan RecvStream, 16)

	a = &fakeConn{bidiOut: bidiAtoB, bidiIn: bidiBtoA, uniOut: uniAtoB, uniIn: uniBtoA}
	b = &fakeConn{bidiOut: bidiBtoA, bidiIn: bidiAtoB, uniOut: uniBtoA, uniIn: uniAtoB}
	return a, b
}

func (c *fakeConn) OpenBidi(ctx context.Context) (Stream, error) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	local := newFakeStream(r2, w1)
	remote := newFakeStream(r1, w2)
	select {
	case c.bidiOut <- remote:
		return local, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) AcceptBidi(ctx context.Context) (Stream, error) {
	select {
	case s := <-c.bidiIn:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) OpenUni(ctx context.Context) (SendStream, error) {
	r, w := io.Pipe()
	local := newFakeStream(nil, w)
	remote := newFakeStream(r, nil)
	select {
	case c.uniOut <- remote:
		return local, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) AcceptUni(ctx context.Context) (RecvStream, error) {
	select {
	case s := <-c.uniIn:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) CloseWithError(code ErrorCode, reason string) error {
	return nil
}
