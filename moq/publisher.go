package moq

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// publisher is the serving half of a Session: the broadcasts this side
// makes available, and the goroutines that answer inbound Announce and
// Subscribe streams against them (§4.8.3, §4.8.5).
type publisher struct {
	session *Session
	origin  *Origin
}

func newPublisher(s *Session) *publisher {
	return &publisher{session: s, origin: NewOrigin()}
}

func (p *publisher) close() {
	// Producers published through p.origin are owned by the caller of
	// Session.Publish, not by the session; nothing to tear down here
	// beyond letting in-flight stream goroutines observe ctx.Done().
}

// serveAnnounce answers one inbound Announce stream: decode the
// requested prefix, then stream back Announce messages for the local
// origin's current and future entries under it. br already has the
// stream's kind tag consumed by the caller.
func (p *publisher) serveAnnounce(ctx context.Context, stream Stream, br *bufio.Reader) {
	var req AnnouncePlease
	if err := req.Decode(br); err != nil {
		stream.Reset(ProtocolError)
		return
	}

	oc := p.origin.ConsumePrefix(req.Prefix)
	defer oc.Close()

	// Every write to stream — from this loop and from the
	// close-forwarding goroutines it spawns below — goes through wmu so
	// Announce messages are never interleaved mid-encode.
	var wmu sync.Mutex
	encode := func(msg interface{ Encode(io.Writer) error }) error {
		wmu.Lock()
		defer wmu.Unlock()
		return msg.Encode(stream)
	}

	livesSent := false
	for {
		suffix, bc, ok, err := oc.Next(ctx)
		if err != nil {
			stream.Reset(errorCode(err))
			return
		}
		if !ok {
			stream.Close()
			return
		}

		if err := encode(&Announce{Suffix: suffix, Active: true}); err != nil {
			return
		}

		if !livesSent && oc.SnapshotDone() {
			livesSent = true
			if err := encode(&Announce{Live: true}); err != nil {
				return
			}
		}

		// Forward the BroadcastConsumer's eventual close as an
		// (suffix, active=false) event (§4.8.5).
		go func(suffix string, bc *BroadcastConsumer) {
			_ = bc.Closed(ctx)
			_ = encode(&Announce{Suffix: suffix, Active: false})
		}(suffix, bc)
	}
}

// serveSubscribe answers one inbound Subscribe stream: resolve the
// requested broadcast/track, send the initial Info, then stream every
// qualifying group as it arrives until the stream or track ends. br
// already has the stream's kind tag consumed by the caller.
func (p *publisher) serveSubscribe(ctx context.Context, stream Stream, br *bufio.Reader) {
	var req Subscribe
	if err := req.Decode(br); err != nil {
		stream.Reset(ProtocolError)
		return
	}

	bc, ok := p.origin.Consume(req.BroadcastPath)
	if !ok {
		stream.Reset(NotFoundError)
		return
	}

	tc, err := bc.Subscribe(ctx, req.TrackName)
	if err != nil {
		stream.Reset(errorCode(err))
		return
	}

	latest, _ := tc.Latest()
	info := &Info{LatestGroup: latest, Priority: tc.Info.Priority, GroupOrder: req.GroupOrder}
	if err := info.Encode(stream); err != nil {
		return
	}

	filter := &subscribeFilter{priority: tc.Info.Priority, groupOrder: req.GroupOrder, groupMin: req.GroupMin, groupMax: req.GroupMax}

	// The subscriber may narrow or widen the subscription at any later
	// time by sending SubscribeUpdate on the same stream (§4.8.2); every
	// read after the initial Subscribe is one, so this loop just applies
	// them until the stream closes.
	go func() {
		for {
			var upd SubscribeUpdate
			if err := upd.Decode(br); err != nil {
				return
			}
			filter.apply(upd)
		}
	}()

	drops := &dropCoalescer{stream: stream}
	defer drops.flush()

	for {
		group, err := tc.NextGroup(ctx)
		if err != nil {
			return
		}
		if group == nil {
			return
		}
		priority, _, groupMin, groupMax := filter.snapshot()
		if groupMin != 0 && group.Sequence < groupMin {
			continue
		}
		if groupMax != 0 && group.Sequence > groupMax {
			continue
		}

		sendStream, err := p.session.conn.OpenUni(ctx)
		if err != nil {
			drops.report(group.Sequence, TransportError)
			continue
		}
		drops.flush()
		go p.serveGroupStream(ctx, sendStream, req.ID, priority, group)
	}
}

// subscribeFilter holds the group-order/range/priority a subscription is
// currently scoped to, mutated live by incoming SubscribeUpdate messages
// and read once per group by serveSubscribe's delivery loop (§4.8.2).
type subscribeFilter struct {
	mu         sync.Mutex
	priority   int8
	groupOrder GroupOrder
	groupMin   uint64
	groupMax   uint64
}

func (f *subscribeFilter) snapshot() (priority int8, order GroupOrder, groupMin, groupMax uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.priority, f.groupOrder, f.groupMin, f.groupMax
}

func (f *subscribeFilter) apply(u SubscribeUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priority = u.Priority
	f.groupOrder = u.GroupOrder
	f.groupMin = u.GroupMin
	f.groupMax = u.GroupMax
}

// serveGroupStream writes one group's header and frames to a freshly
// opened uni stream (§4.8.3 step 5). priority is forwarded to the
// transport as stream priority before anything else is written, so the
// transport can schedule this group relative to other in-flight ones
// (§3, §4.4).
func (p *publisher) serveGroupStream(ctx context.Context, stream SendStream, subscribeID uint64, priority int8, group *GroupConsumer) {
	stream.SetPriority(int32(priority))
	if err := WriteVarInt(stream, uint64(DataStreamGroup)); err != nil {
		stream.Reset(TransportError)
		return
	}
	header := &GroupHeader{SubscribeID: subscribeID, GroupSequence: group.Sequence}
	if err := header.Encode(stream); err != nil {
		stream.Reset(TransportError)
		return
	}

	for {
		payload, err := group.ReadFrame(ctx)
		if err != nil {
			stream.Reset(errorCode(err))
			return
		}
		if payload == nil {
			stream.Close()
			return
		}
		fh := &FrameHeader{Size: uint64(len(payload))}
		if err := fh.Encode(stream); err != nil {
			stream.Reset(TransportError)
			return
		}
		if _, err := stream.Write(payload); err != nil {
			stream.Reset(TransportError)
			return
		}
	}
}

// dropCoalescer batches consecutive GroupDrop reports into one message
// per run, per §4.8.3 step 6.
type dropCoalescer struct {
	mu    sync.Mutex
	base  uint64
	count uint64
	code  ErrorCode
	open  bool

	stream io.Writer
}

func (d *dropCoalescer) report(seq uint64, code ErrorCode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open && code == d.code && seq == d.base+d.count {
		d.count++
		return
	}
	d.flushLocked()
	d.base, d.count, d.code, d.open = seq, 1, code, true
}

func (d *dropCoalescer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked()
}

func (d *dropCoalescer) flushLocked() {
	if !d.open {
		return
	}
	msg := &GroupDrop{BaseSequence: d.base, AdditionalCount: d.count - 1, Code: d.code}
	_ = msg.Encode(d.stream)
	d.open = false
}
