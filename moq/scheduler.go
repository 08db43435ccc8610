package moq

import (
	"bytes"
	"context"
	"time"
)

// Scheduler arbitrates between concurrently-arriving groups on a single
// track, trading latency for smoothness via one knob (§4.9). With
// latency = 0 it always jumps to whichever group is furthest ahead;
// with latency = -1 (treated as unbounded) it never skips and simply
// drains groups in the order the track hands them out.
type Scheduler struct {
	latency time.Duration

	groupCh chan *GroupConsumer
	doneCh  chan error

	current      *GroupConsumer
	pending      []*GroupConsumer // ascending by sequence
	maxTimestamp uint64

	// cutoffStale is true once pending[0] has been observed to terminate
	// without ever exceeding the skip cutoff, so Read stops re-racing a
	// candidate that cannot win until pending[0] changes.
	cutoffStale bool
}

// Unbounded disables skip-forward entirely; only group termination
// advances to the next pending group.
const Unbounded = time.Duration(-1)

// NewScheduler starts pulling groups from track in the background and
// returns a scheduler that serves them in timestamp-monotonic order. ctx
// bounds the background pull; it should outlive every call to Read.
func NewScheduler(ctx context.Context, track *TrackConsumer, latency time.Duration) *Scheduler {
	s := &Scheduler{
		latency: latency,
		groupCh: make(chan *GroupConsumer),
		doneCh:  make(chan error, 1),
	}
	go s.pull(ctx, track)
	return s
}

func (s *Scheduler) pull(ctx context.Context, track *TrackConsumer) {
	for {
		g, err := track.NextGroup(ctx)
		if err != nil || g == nil {
			s.doneCh <- err
			return
		}
		select {
		case s.groupCh <- g:
		case <-ctx.Done():
			s.doneCh <- WrapError(CancelError, ctx.Err())
			return
		}
	}
}

type frameResult struct {
	payload []byte
	err     error
}

type cutoffResult struct {
	exceeded bool
	err      error
}

// Read returns the next frame in scheduled order, or nil, nil once the
// track ends cleanly with no group left to drain.
func (s *Scheduler) Read(ctx context.Context) ([]byte, error) {
	for {
		if s.current == nil {
			if promoted := s.promote(); !promoted {
				select {
				case g := <-s.groupCh:
					s.arrive(g)
					continue
				case err := <-s.doneCh:
					return nil, err
				case <-ctx.Done():
					return nil, WrapError(CancelError, ctx.Err())
				}
			}
		}

		payload, err := s.race(ctx)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			return payload, nil
		}
		// race returned (nil, nil): current ended, or a skip/arrival was
		// handled internally — loop to re-evaluate state.
	}
}

// promote pops the head of pending into current if current is empty,
// reporting whether it did.
func (s *Scheduler) promote() bool {
	if s.current != nil {
		return true
	}
	if len(s.pending) == 0 {
		return false
	}
	s.current = s.pending[0]
	s.pending = s.pending[1:]
	s.cutoffStale = false
	return true
}

// arrive applies the "new group arrives" transition: drop if older than
// current, adopt as current if there is none, else insert into pending
// at the ascending partition point.
func (s *Scheduler) arrive(g *GroupConsumer) {
	if s.current != nil && g.Sequence < s.current.Sequence {
		return
	}
	if s.current == nil {
		s.current = g
		return
	}
	i := 0
	for i < len(s.pending) && s.pending[i].Sequence < g.Sequence {
		i++
	}
	s.pending = append(s.pending, nil)
	copy(s.pending[i+1:], s.pending[i:])
	s.pending[i] = g
	if i == 0 {
		s.cutoffStale = false
	}
}

// race runs the single select described in §4.9: current yielding a
// frame, a new group arriving, or the lead pending group buffering past
// the skip cutoff. It returns a frame payload when one should be
// delivered to the caller, or (nil, nil) after handling an internal
// state transition that the caller should loop on.
func (s *Scheduler) race(ctx context.Context) ([]byte, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frameCh := make(chan frameResult, 1)
	go func() {
		payload, err := s.current.ReadFrame(attemptCtx)
		frameCh <- frameResult{payload, err}
	}()

	var cutoffCh chan cutoffResult
	if len(s.pending) > 0 && s.latency >= 0 && !s.cutoffStale {
		cutoffUs := s.maxTimestamp + uint64(s.latency.Microseconds())
		lead := s.pending[0]
		cutoffCh = make(chan cutoffResult, 1)
		go func() {
			ok, err := lead.BufferFramesUntil(attemptCtx, cutoffUs)
			cutoffCh <- cutoffResult{ok, err}
		}()
	}

	select {
	case g := <-s.groupCh:
		cancel()
		s.arrive(g)
		return nil, nil

	case r := <-frameCh:
		cancel()
		if r.err != nil {
			if isCancel(r.err) && ctx.Err() == nil {
				// Lost the race against the cutoff check; current is
				// still live, just re-enter and try again.
				return nil, nil
			}
			return nil, r.err
		}
		if r.payload == nil {
			// Current ended cleanly; promote the next pending group.
			s.current = nil
			s.promote()
			return nil, nil
		}
		ts := leadingTimestamp(r.payload)
		if ts > s.maxTimestamp {
			s.maxTimestamp = ts
		}
		return r.payload, nil

	case r := <-cutoffCh:
		cancel()
		if r.err != nil {
			if isCancel(r.err) && ctx.Err() == nil {
				return nil, nil
			}
			return nil, r.err
		}
		if r.exceeded {
			// Skip-forward: the lead pending group wins the race.
			// Drop current and any pending groups before it.
			s.current = s.pending[0]
			s.pending = s.pending[1:]
			s.cutoffStale = false
			return nil, nil
		}
		// Lead pending group terminated without ever exceeding the
		// cutoff; stop racing it until pending's head changes.
		s.cutoffStale = true
		return nil, nil

	case <-ctx.Done():
		cancel()
		return nil, WrapError(CancelError, ctx.Err())
	}
}

func isCancel(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Code == CancelError
}

// leadingTimestamp parses the microsecond timestamp VarInt convention
// (§4.3, §4.9) off the front of an already-reassembled frame payload.
// A malformed leading VarInt is treated as timestamp 0 rather than an
// error — the core doesn't interpret payload contents beyond this one
// scheduling hint.
func leadingTimestamp(payload []byte) uint64 {
	ts, err := ReadVarInt(bytes.NewReader(payload))
	if err != nil {
		return 0
	}
	return ts
}
