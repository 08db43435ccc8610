package moq

import (
	"context"
	"strings"
	"sync"
)

// originUpdate is one pending (suffix, broadcast) pair queued for an
// OriginConsumer.
type originUpdate struct {
	suffix    string
	broadcast *BroadcastConsumer
}

// originSubscriber is one live OriginConsumer's inbox: a queue guarded by
// its own mutex plus a 1-buffered wake channel, so Publish never blocks
// on a slow consumer (§4.6).
type originSubscriber struct {
	mu      sync.Mutex
	prefix  string
	updates []originUpdate
	notify  chan struct{}
	closed  bool
}

func (s *originSubscriber) insert(path string, broadcast *BroadcastConsumer) bool {
	suffix, ok := strings.CutPrefix(path, s.prefix)
	if !ok {
		return false
	}
	s.mu.Lock()
	s.updates = append(s.updates, originUpdate{suffix: suffix, broadcast: broadcast})
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// close marks the subscriber closed and reports whether this call is the
// one that did so, so a caller only adjusts aggregate liveness once even
// if Close is called twice.
func (s *originSubscriber) close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.mu.Unlock()
	close(s.notify)
	return true
}

// Origin is a registry of published broadcasts indexed by path, with
// live prefix-filtered streaming of announce/unannounce events to
// subscribers (§4.6).
type Origin struct {
	mu          sync.Mutex
	active      map[string]*BroadcastConsumer
	subscribers []*originSubscriber

	// live counts OriginConsumers created by ConsumePrefix/ConsumeAll that
	// have not yet been Close'd. Unused blocks until it reaches zero.
	live *Watch[int]
}

// NewOrigin allocates an empty origin registry.
func NewOrigin() *Origin {
	return &Origin{active: make(map[string]*BroadcastConsumer), live: NewWatch(0)}
}

// Unused blocks until every OriginConsumer registered against this origin
// (via ConsumePrefix/ConsumeAll) has been closed, or ctx is done. A caller
// that never registered a consumer sees it return immediately — nobody is
// watching this origin's announcements either way. The session layer uses
// this to tear down a publisher side once no peer is watching it (§4.6).
func (o *Origin) Unused(ctx context.Context) error {
	for {
		n, epoch := o.live.Read()
		if n <= 0 {
			return nil
		}
		ch, _ := o.live.Changed(epoch)
		select {
		case <-ch:
		case <-ctx.Done():
			return WrapError(CancelError, ctx.Err())
		}
	}
}

// Publish announces broadcast under path, replacing and returning any
// previous broadcast at that path, and fans the insertion out live to
// every subscriber whose prefix matches. It reports whether path was
// previously unoccupied.
func (o *Origin) Publish(path string, broadcast *BroadcastConsumer) (*BroadcastConsumer, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	live := o.subscribers[:0]
	for _, s := range o.subscribers {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			continue
		}
		s.insert(path, broadcast)
		live = append(live, s)
	}
	o.subscribers = live

	prev, existed := o.active[path]
	o.active[path] = broadcast
	return prev, !existed
}

// Unpublish removes path from the registry. Unlike Publish, this does
// not fan out an event to subscribers — removal is observed by
// consumers via the BroadcastConsumer they already hold closing, not
// through OriginConsumer.Next (§4.8.5).
func (o *Origin) Unpublish(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, path)
}

// Consume looks up the broadcast currently published at path.
func (o *Origin) Consume(path string) (*BroadcastConsumer, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	bc, ok := o.active[path]
	return bc, ok
}

// ConsumePrefix subscribes to every broadcast whose path starts with
// prefix, both the current snapshot and future announcements.
func (o *Origin) ConsumePrefix(prefix string) *OriginConsumer {
	o.mu.Lock()
	defer o.mu.Unlock()

	sub := &originSubscriber{prefix: prefix, notify: make(chan struct{}, 1)}
	for path, bc := range o.active {
		if suffix, ok := strings.CutPrefix(path, prefix); ok {
			sub.updates = append(sub.updates, originUpdate{suffix: suffix, broadcast: bc})
		}
	}
	o.subscribers = append(o.subscribers, sub)
	o.live.Modify(func(n *int) { *n++ })
	return &OriginConsumer{origin: o, sub: sub, snapshotLeft: len(sub.updates)}
}

// ConsumeAll subscribes to every broadcast in the registry.
func (o *Origin) ConsumeAll() *OriginConsumer {
	return o.ConsumePrefix("")
}

// OriginConsumer streams (suffix, broadcast) announcements matching one
// prefix subscription.
type OriginConsumer struct {
	origin *Origin
	sub    *originSubscriber

	// snapshotLeft counts the entries seeded at subscription time that
	// Next has not yet returned. Once it reaches zero, every further
	// update is a live announcement rather than part of the initial
	// enumeration — the boundary the session's Announce handler uses to
	// emit the Live marker (§4.8.5).
	snapshotLeft int
}

// Next blocks until another broadcast is announced under the
// subscription's prefix, returning its suffix (path with the prefix
// stripped) and consumer. It returns false once the subscription is
// closed with no further updates pending.
func (c *OriginConsumer) Next(ctx context.Context) (string, *BroadcastConsumer, bool, error) {
	for {
		c.sub.mu.Lock()
		if len(c.sub.updates) > 0 {
			u := c.sub.updates[0]
			c.sub.updates = c.sub.updates[1:]
			c.sub.mu.Unlock()
			if c.snapshotLeft > 0 {
				c.snapshotLeft--
			}
			return u.suffix, u.broadcast, true, nil
		}
		closed := c.sub.closed
		c.sub.mu.Unlock()
		if closed {
			return "", nil, false, nil
		}

		select {
		case _, ok := <-c.sub.notify:
			if !ok {
				// Drain any updates queued before close.
				continue
			}
		case <-ctx.Done():
			return "", nil, false, WrapError(CancelError, ctx.Err())
		}
	}
}

// Close unsubscribes, releasing this consumer's slot in the origin. Safe
// to call more than once.
func (c *OriginConsumer) Close() {
	if c.sub.close() {
		c.origin.live.Modify(func(n *int) { *n-- })
	}
}

// SnapshotDone reports whether every entry present at subscription time
// has been returned by Next, i.e. any further update is a live
// announcement rather than part of the initial enumeration.
func (c *OriginConsumer) SnapshotDone() bool {
	return c.snapshotLeft <= 0
}
