package moq

import (
	"bytes"
	"context"
)

// groupState is the mutable payload behind a Group's Watch cell.
type groupState struct {
	frames []*FrameProducer
	done   bool
	err    *Error
}

// GroupProducer appends frames to an ordered sequence sharing one sequence
// number. A group is terminated exactly once, by Finish or Abort;
// appending a frame afterward is a programming error (panic).
type GroupProducer struct {
	Sequence uint64
	watch    *Watch[groupState]
}

// NewGroup allocates a group producer/consumer pair for the given
// sequence number.
func NewGroup(sequence uint64) *GroupProducer {
	return &GroupProducer{Sequence: sequence, watch: NewWatch(groupState{})}
}

// WriteFrame writes payload as a single complete frame. The payload
// convention used by the session and scheduler layers (§4.3, §4.9) is
// that the first VarInt of payload is a microsecond timestamp; the core
// itself treats payload as opaque bytes.
func (p *GroupProducer) WriteFrame(payload []byte) {
	fp := p.WriteFrameChunks(uint64(len(payload)))
	fp.Write(payload)
	fp.Finish()
}

// WriteFrameChunks appends a new frame of declared size and returns its
// producer for chunked writes. It panics if the group has already
// terminated.
func (p *GroupProducer) WriteFrameChunks(size uint64) *FrameProducer {
	fp := NewFrame(size)
	p.watch.Modify(func(s *groupState) {
		if s.done {
			panic("moq: write to finished group")
		}
		s.frames = append(s.frames, fp)
	})
	return fp
}

// Finish terminates the group in the ok state.
func (p *GroupProducer) Finish() {
	p.watch.Modify(func(s *groupState) {
		if !s.done {
			s.done = true
		}
	})
}

// Abort terminates the group with err.
func (p *GroupProducer) Abort(err *Error) {
	p.watch.Modify(func(s *groupState) {
		if !s.done {
			s.done = true
			s.err = err
		}
	})
}

// Close terminates the group with CancelErr if it has not already
// terminated — the Go stand-in for "the producer was dropped".
func (p *GroupProducer) Close() {
	p.watch.Modify(func(s *groupState) {
		if !s.done {
			s.done = true
			s.err = CancelErr
		}
	})
}

// Consume returns a fresh cursor over the group's frames, independent
// from any other consumer's read position.
func (p *GroupProducer) Consume() *GroupConsumer {
	return &GroupConsumer{Sequence: p.Sequence, watch: p.watch}
}

// GroupConsumer is a cursor over a group's frames.
type GroupConsumer struct {
	Sequence uint64
	watch    *Watch[groupState]
	index    int
	active   *FrameConsumer // stashed partially-read frame, for cancel-safety
}

// ReadFrame returns the next frame's full payload, nil on clean group end,
// or an error if the group aborted or its producer dropped. It is
// cancel-safe: the in-progress FrameConsumer is stashed in c.active and
// resumed on the next call rather than re-created.
func (c *GroupConsumer) ReadFrame(ctx context.Context) ([]byte, error) {
	if c.active == nil {
		fc, done, err := c.nextFrame(ctx)
		if err != nil || done {
			return nil, err
		}
		c.active = fc
	}

	payload, err := c.active.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	c.active = nil
	return payload, nil
}

// nextFrame waits for and returns the FrameConsumer at c.index, advancing
// it. done is true on clean group end (no error).
func (c *GroupConsumer) nextFrame(ctx context.Context) (*FrameConsumer, bool, error) {
	for {
		s, epoch := c.watch.Read()
		if c.index < len(s.frames) {
			fp := s.frames[c.index]
			c.index++
			return fp.Consume(), false, nil
		}
		if s.done {
			return nil, true, asError(s.err)
		}

		ch, _ := c.watch.Changed(epoch)
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, false, WrapError(CancelError, ctx.Err())
		}
	}
}

// BufferFramesUntil peeks frames starting at the consumer's current read
// position, without consuming them, until it finds one whose leading
// VarInt timestamp exceeds cutoffUs. It returns true (leaving the
// consumer's position unchanged) as soon as such a frame is found, or
// false once the group terminates without producing one.
//
// This assumes the timestamp VarInt is contained in a frame's first
// written chunk, which holds for every producer in this package (they
// write whole frames via WriteFrame).
func (c *GroupConsumer) BufferFramesUntil(ctx context.Context, cutoffUs uint64) (bool, error) {
	offset := c.index
	for {
		s, epoch := c.watch.Read()
		for offset < len(s.frames) {
			ts, ok, err := peekTimestamp(ctx, s.frames[offset])
			if err != nil {
				return false, err
			}
			if ok && ts > cutoffUs {
				return true, nil
			}
			offset++
		}
		if s.done {
			return false, asError(s.err)
		}

		ch, _ := c.watch.Changed(epoch)
		select {
		case <-ch:
		case <-ctx.Done():
			return false, WrapError(CancelError, ctx.Err())
		}
	}
}

// peekTimestamp reads (without advancing any consumer of record) the
// leading VarInt of a frame's first chunk, waiting for that chunk to arrive.
// ok is false if the frame ends without a chunk or the chunk does not start
// with a valid VarInt.
func peekTimestamp(ctx context.Context, fp *FrameProducer) (uint64, bool, error) {
	peek := fp.Consume()
	chunk, err := peek.Read(ctx)
	if err != nil {
		return 0, false, err
	}
	if chunk == nil {
		return 0, false, nil
	}
	ts, err := ReadVarInt(bytes.NewReader(chunk))
	if err != nil {
		return 0, false, nil
	}
	return ts, true, nil
}
