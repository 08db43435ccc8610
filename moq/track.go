package moq

import "context"

// Track names a single stream of groups within a broadcast, plus the
// priority a publisher advertises for it (§4.4).
type Track struct {
	Name     string
	Priority int8
}

// trackState is the mutable payload behind a Track's Watch cell.
type trackState struct {
	latest *GroupConsumer // nil until the first group is inserted
	done   bool
	err    *Error
}

// TrackProducer accepts new groups for a track, always fanning out the
// latest one (by sequence number, not insertion order) to consumers.
type TrackProducer struct {
	Info  Track
	watch *Watch[trackState]
}

// NewTrack allocates a track producer/consumer pair.
func NewTrack(info Track) *TrackProducer {
	return &TrackProducer{Info: info, watch: NewWatch(trackState{})}
}

// InsertGroup installs group as the track's latest if its sequence number
// is strictly greater than the current latest, reporting whether it did.
// A tie or regression is silently ignored rather than treated as an
// error — arriving groups racing each other is expected (§4.4).
func (p *TrackProducer) InsertGroup(group *GroupConsumer) bool {
	inserted := false
	p.watch.Modify(func(s *trackState) {
		if s.done {
			return
		}
		if s.latest != nil && group.Sequence <= s.latest.Sequence {
			return
		}
		s.latest = group
		inserted = true
	})
	return inserted
}

// CreateGroup starts a new group with the given sequence number and
// returns its producer, or nil if that sequence would not become the
// track's latest (i.e. a group at or after it already arrived).
func (p *TrackProducer) CreateGroup(sequence uint64) *GroupProducer {
	gp := NewGroup(sequence)
	if !p.InsertGroup(gp.Consume()) {
		return nil
	}
	return gp
}

// AppendGroup starts a new group one past the current latest sequence
// number (0 if the track is empty).
func (p *TrackProducer) AppendGroup() *GroupProducer {
	s, _ := p.watch.Read()
	sequence := uint64(0)
	if s.latest != nil {
		sequence = s.latest.Sequence + 1
	}
	gp := NewGroup(sequence)
	p.watch.Modify(func(s *trackState) {
		s.latest = gp.Consume()
	})
	return gp
}

// Finish terminates the track in the ok state; no further groups may be
// inserted.
func (p *TrackProducer) Finish() {
	p.watch.Modify(func(s *trackState) {
		if !s.done {
			s.done = true
		}
	})
}

// Abort terminates the track with err.
func (p *TrackProducer) Abort(err *Error) {
	p.watch.Modify(func(s *trackState) {
		if !s.done {
			s.done = true
			s.err = err
		}
	})
}

// Close terminates the track with CancelErr if it has not already
// terminated — the Go stand-in for "the producer was dropped".
func (p *TrackProducer) Close() {
	p.watch.Modify(func(s *trackState) {
		if !s.done {
			s.done = true
			s.err = CancelErr
		}
	})
}

// Consume returns a fresh cursor over the track's groups.
func (p *TrackProducer) Consume() *TrackConsumer {
	return &TrackConsumer{Info: p.Info, watch: p.watch}
}

// TrackConsumer is a cursor that follows a track's latest group, skipping
// over any it doesn't observe directly (a slow consumer only ever sees
// the most recent one at the time it calls NextGroup).
type TrackConsumer struct {
	Info  Track
	watch *Watch[trackState]
	prev  *uint64 // previous sequence number returned, if any
}

// Latest returns the track's current latest group sequence without
// affecting NextGroup's dedup tracking, or ok=false if no group has
// arrived yet.
func (c *TrackConsumer) Latest() (sequence uint64, ok bool) {
	s, _ := c.watch.Read()
	if s.latest == nil {
		return 0, false
	}
	return s.latest.Sequence, true
}

// NextGroup blocks until a group with a sequence number different from
// the last one returned becomes latest, then returns it. It returns nil,
// nil on clean track end.
func (c *TrackConsumer) NextGroup(ctx context.Context) (*GroupConsumer, error) {
	for {
		s, epoch := c.watch.Read()
		if s.latest != nil && (c.prev == nil || s.latest.Sequence != *c.prev) {
			seq := s.latest.Sequence
			c.prev = &seq
			return s.latest, nil
		}
		if s.done {
			return nil, asError(s.err)
		}

		ch, _ := c.watch.Changed(epoch)
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, WrapError(CancelError, ctx.Err())
		}
	}
}

// Closed blocks until the track terminates and returns the terminal
// error, or nil on clean end.
func (c *TrackConsumer) Closed(ctx context.Context) error {
	for {
		s, epoch := c.watch.Read()
		if s.done {
			return asError(s.err)
		}
		ch, _ := c.watch.Changed(epoch)
		select {
		case <-ch:
		case <-ctx.Done():
			return WrapError(CancelError, ctx.Err())
		}
	}
}
