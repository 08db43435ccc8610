package moq

import (
	"context"
	"sync"
)

// requestQueueSize bounds how many not-yet-subscribed tracks a broadcast
// producer can have pending before Subscribe blocks the caller. Matches the
// teacher reference's bounded async channel.
const requestQueueSize = 32

// Broadcast names a published broadcast and carries no state of its own;
// the producer/consumer pair below hold the actual track map (§4.5).
type Broadcast struct {
	Path string
}

// broadcastState is the mutable payload behind a Broadcast's Watch cell,
// used only to signal Unused — track bookkeeping lives in the plain
// mutex-guarded maps below since it's read far more than it's watched.
type broadcastState struct{}

// BroadcastProducer holds the tracks a publisher has made available,
// plus a bounded queue of tracks a subscriber asked for that the
// publisher hasn't created yet.
type BroadcastProducer struct {
	Info Broadcast

	mu        sync.Mutex
	published map[string]*TrackConsumer
	requested map[string]*TrackProducer

	queue  chan *TrackProducer
	watch  *Watch[broadcastState] // closed when the producer is dropped
}

// NewBroadcast allocates an empty broadcast producer/consumer pair.
func NewBroadcast(path string) *BroadcastProducer {
	return &BroadcastProducer{
		Info:      Broadcast{Path: path},
		published: make(map[string]*TrackConsumer),
		requested: make(map[string]*TrackProducer),
		queue:     make(chan *TrackProducer, requestQueueSize),
		watch:     NewWatch(broadcastState{}),
	}
}

// Requested blocks until a consumer asks for a track this producer has
// not yet created (via Subscribe's dedup path, see BroadcastConsumer),
// returning its producer handle so the caller can start writing groups.
func (p *BroadcastProducer) Requested(ctx context.Context) (*TrackProducer, error) {
	select {
	case tp, ok := <-p.queue:
		if !ok {
			return nil, ErrClosed
		}
		return tp, nil
	case <-ctx.Done():
		return nil, WrapError(CancelError, ctx.Err())
	}
}

// Create registers a new track under name and returns its producer. If a
// consumer already called Subscribe for name, this reuses that pending
// request rather than creating a second one.
func (p *BroadcastProducer) Create(track Track) *TrackProducer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tp, ok := p.requested[track.Name]; ok {
		delete(p.requested, track.Name)
		p.published[track.Name] = tp.Consume()
		return tp
	}

	tp := NewTrack(track)
	p.published[track.Name] = tp.Consume()
	return tp
}

// Insert publishes an already-produced track consumer under its own
// name, returning the previous one at that name if any.
func (p *BroadcastProducer) Insert(tc *TrackConsumer) *TrackConsumer {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.published[tc.Info.Name]
	p.published[tc.Info.Name] = tc
	return prev
}

// Remove unpublishes name, returning its consumer if present.
func (p *BroadcastProducer) Remove(name string) *TrackConsumer {
	p.mu.Lock()
	defer p.mu.Unlock()
	tc, ok := p.published[name]
	if !ok {
		return nil
	}
	delete(p.published, name)
	return tc
}

// Consume returns a fresh handle for subscribing to this broadcast's
// tracks.
func (p *BroadcastProducer) Consume() *BroadcastConsumer {
	return &BroadcastConsumer{Info: p.Info, producer: p}
}

// Close releases this producer's hold on the broadcast; Unused callers
// waiting on it wake.
func (p *BroadcastProducer) Close() {
	p.watch.Close()
}

// Unused blocks until every BroadcastConsumer derived from this producer
// has been dropped (i.e. until Close is called) — the Go stand-in for
// Rust's reference-counted Drop-driven watch::Sender::closed.
func (p *BroadcastProducer) Unused(ctx context.Context) error {
	for {
		_, epoch := p.watch.Read()
		if p.watch.Closed() {
			return nil
		}
		ch, _ := p.watch.Changed(epoch)
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return WrapError(CancelError, ctx.Err())
		}
	}
}

// BroadcastConsumer resolves track names against a broadcast, deduping
// concurrent subscribers of a not-yet-published track onto one pending
// request.
type BroadcastConsumer struct {
	Info     Broadcast
	producer *BroadcastProducer
}

// Subscribe returns a consumer for track. If it's already published, the
// caller gets a fresh cursor on the existing track. If it's pending
// (another caller already subscribed first), the caller gets a cursor on
// that same pending track rather than issuing a second request. Otherwise
// a new pending TrackProducer is queued for BroadcastProducer.Requested,
// and a background goroutine removes it from the pending set once the
// track is terminated (Finish, Abort or Close).
func (c *BroadcastConsumer) Subscribe(ctx context.Context, name string) (*TrackConsumer, error) {
	p := c.producer

	p.mu.Lock()
	if tc, ok := p.published[name]; ok {
		p.mu.Unlock()
		return tc.clone(), nil
	}
	if tp, ok := p.requested[name]; ok {
		tc := tp.Consume()
		p.mu.Unlock()
		return tc, nil
	}

	tp := NewTrack(Track{Name: name})
	p.requested[name] = tp
	p.mu.Unlock()

	select {
	case p.queue <- tp:
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.requested, name)
		p.mu.Unlock()
		return nil, WrapError(CancelError, ctx.Err())
	}

	// Rust's reference would drop the pending entry once every
	// TrackConsumer clone of it is dropped. Go has no destructors, so the
	// pending entry instead lives until the publisher terminates the
	// track (Finish/Abort/Close) rather than until the last reader loses
	// interest.
	go func() {
		tp.Consume().Closed(context.Background())
		p.mu.Lock()
		delete(p.requested, name)
		p.mu.Unlock()
	}()

	return tp.Consume(), nil
}

// Closed blocks until the underlying producer is closed.
func (c *BroadcastConsumer) Closed(ctx context.Context) error {
	return c.producer.Unused(ctx)
}

// clone returns an independent cursor sharing tc's underlying track.
func (tc *TrackConsumer) clone() *TrackConsumer {
	cp := *tc
	cp.prev = nil
	return &cp
}
