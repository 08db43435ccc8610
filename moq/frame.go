package moq

import (
	"bytes"
	"context"
)

// frameState is the mutable payload behind a Frame's Watch cell.
type frameState struct {
	chunks [][]byte
	total  uint64
	done   bool
	err    *Error // nil when done is true and termination was clean
}

// FrameProducer writes chunks to a frame of a declared size. Write is
// synchronous (non-async): each call appends one whole chunk atomically, so
// a partial chunk is never observable, and wakes blocked readers, as do
// Finish and Abort.
type FrameProducer struct {
	Size  uint64
	watch *Watch[frameState]
}

// NewFrame allocates a frame producer/consumer pair for a payload of the
// given declared size. size is advisory to consumers and enforced here on
// write.
func NewFrame(size uint64) *FrameProducer {
	return &FrameProducer{Size: size, watch: NewWatch(frameState{})}
}

// Write appends chunk to the frame. It panics if the cumulative length
// would exceed the declared size — a programming error in the caller, not
// a recoverable condition.
func (p *FrameProducer) Write(chunk []byte) {
	p.watch.Modify(func(s *frameState) {
		if s.done {
			panic("moq: write to finished frame")
		}
		if s.total+uint64(len(chunk)) > p.Size {
			panic("moq: frame write exceeds declared size")
		}
		s.total += uint64(len(chunk))
		s.chunks = append(s.chunks, chunk)
	})
}

// Finish terminates the frame in the ok state. It panics if the
// cumulative length written is less than the declared size.
func (p *FrameProducer) Finish() {
	p.watch.Modify(func(s *frameState) {
		if s.done {
			return
		}
		if s.total != p.Size {
			panic("moq: frame finished with size mismatch")
		}
		s.done = true
	})
}

// Abort terminates the frame with err; subsequent reads fail with it.
func (p *FrameProducer) Abort(err *Error) {
	p.watch.Modify(func(s *frameState) {
		if s.done {
			return
		}
		s.done = true
		s.err = err
	})
}

// Close terminates the frame with CancelErr if it has not already
// finished or aborted — the Go stand-in for "the producer was dropped".
func (p *FrameProducer) Close() {
	p.watch.Modify(func(s *frameState) {
		if !s.done {
			s.done = true
			s.err = CancelErr
		}
	})
}

// Consume returns a fresh cursor over the frame, independent from any
// other consumer's read position.
func (p *FrameProducer) Consume() *FrameConsumer {
	return &FrameConsumer{Size: p.Size, watch: p.watch}
}

// FrameConsumer is a cursor over a frame's chunks. Cloning (via
// FrameProducer.Consume, or a caller keeping two FrameConsumer values over
// the same watch) gives each reader an independent index.
type FrameConsumer struct {
	Size  uint64
	watch *Watch[frameState]
	index int
}

// Read returns the next chunk, nil on clean end, or an error if the frame
// was aborted or its producer was dropped without finishing. Read is
// cancel-safe at chunk granularity: on ctx cancellation no index is
// consumed.
func (c *FrameConsumer) Read(ctx context.Context) ([]byte, error) {
	for {
		s, epoch := c.watch.Read()
		if c.index < len(s.chunks) {
			chunk := s.chunks[c.index]
			c.index++
			return chunk, nil
		}
		if s.done {
			if s.err != nil {
				return nil, s.err
			}
			return nil, nil
		}

		ch, _ := c.watch.Changed(epoch)
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, WrapError(CancelError, ctx.Err())
		}
	}
}

// ReadAll waits until the frame is terminated, then returns every chunk
// concatenated. No partial state is committed until completion, which is
// what makes this cancel-safe to retry after a dropped call: a caller
// that cancels and calls ReadAll again sees the same result once the
// frame eventually finishes.
func (c *FrameConsumer) ReadAll(ctx context.Context) ([]byte, error) {
	cursor := &FrameConsumer{Size: c.Size, watch: c.watch}
	var buf bytes.Buffer
	for {
		chunk, err := cursor.Read(ctx)
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			return buf.Bytes(), nil
		}
		buf.Write(chunk)
	}
}
