package moq

import (
	"bufio"
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// subscriber is the requesting half of a Session: broadcasts it has
// asked the peer for, and the bookkeeping that routes inbound group data
// streams back to the right TrackProducer (§4.8.4, §4.8.5).
type subscriber struct {
	session *Session

	nextID atomic.Uint64

	mu            sync.Mutex
	subscriptions map[uint64]*TrackProducer
	remote        map[*Watch[trackState]]*remoteSubscription

	remoteOrigin *Origin
}

// remoteSubscription is the send side of an active wire Subscribe: the
// control stream a SubscribeUpdate (§4.8.2) has to be written to, guarded
// so it can't interleave with subscribeTrack's own writes on the same
// stream.
type remoteSubscription struct {
	mu     sync.Mutex
	stream Stream
}

func newSubscriber(s *Session) *subscriber {
	return &subscriber{
		session:       s,
		subscriptions: make(map[uint64]*TrackProducer),
		remote:        make(map[*Watch[trackState]]*remoteSubscription),
		remoteOrigin:  NewOrigin(),
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tp := range s.subscriptions {
		tp.Close()
		delete(s.subscriptions, id)
	}
}

// subscribeBroadcast returns a BroadcastConsumer for path whose tracks
// are requested from the peer lazily, the first time a caller actually
// subscribes to one (§4.5's auto-requested tracks wired to the wire
// protocol).
func (s *subscriber) subscribeBroadcast(ctx context.Context, path string) *BroadcastConsumer {
	bp := NewBroadcast(path)
	go func() {
		for {
			tp, err := bp.Requested(ctx)
			if err != nil {
				return
			}
			go s.subscribeTrack(ctx, path, tp)
		}
	}()
	return bp.Consume()
}

// subscribeTrack opens a wire Subscribe stream for one track and routes
// its Info/GroupDrop replies; inbound group data streams are routed to
// tp separately, by the session's uni-accept loop (§4.8.4).
func (s *subscriber) subscribeTrack(ctx context.Context, broadcastPath string, tp *TrackProducer) {
	stream, err := s.session.conn.OpenBidi(ctx)
	if err != nil {
		tp.Abort(WrapError(TransportError, err))
		return
	}
	stream.SetPriority(int32(tp.Info.Priority))

	id := s.nextID.Add(1)
	msg := &Subscribe{
		ID:            id,
		BroadcastPath: broadcastPath,
		TrackName:     tp.Info.Name,
		Priority:      tp.Info.Priority,
		GroupOrder:    GroupOrderAny,
	}
	if err := WriteVarInt(stream, uint64(StreamSubscribe)); err != nil {
		tp.Abort(WrapError(TransportError, err))
		return
	}
	if err := msg.Encode(stream); err != nil {
		tp.Abort(WrapError(TransportError, err))
		return
	}

	// br is reused for Info and every subsequent GroupDrop on this
	// stream — see the ReadVarInt doc comment on why a fresh wrapper per
	// read would corrupt a multi-message stream.
	br := bufio.NewReader(stream)

	var info Info
	if err := info.Decode(br); err != nil {
		tp.Abort(WrapError(ProtocolError, err))
		return
	}

	rs := &remoteSubscription{stream: stream}
	s.mu.Lock()
	s.subscriptions[id] = tp
	s.remote[tp.watch] = rs
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subscriptions, id)
		delete(s.remote, tp.watch)
		s.mu.Unlock()
	}()

	// Drain GroupDrop notifications for the lifetime of the
	// subscription; the core surfaces them as no-op telemetry since the
	// data model has no "missing group" signal of its own.
	for {
		var drop GroupDrop
		if err := drop.Decode(br); err != nil {
			tp.Close()
			return
		}
	}
}

// sendUpdate writes a SubscribeUpdate on tc's backing wire subscription,
// or a ProtocolError if tc isn't (or is no longer) backed by one.
func (s *subscriber) sendUpdate(tc *TrackConsumer, upd SubscribeUpdate) error {
	s.mu.Lock()
	rs, ok := s.remote[tc.watch]
	s.mu.Unlock()
	if !ok {
		return NewError(ProtocolError, "no active remote subscription for track")
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	// No kind prefix: like GroupDrop in the other direction, every message
	// on this stream after the initial Subscribe is a SubscribeUpdate, so
	// the stream's direction alone identifies it.
	if err := upd.Encode(rs.stream); err != nil {
		return WrapError(TransportError, err)
	}
	return nil
}

// serveGroup handles one inbound uni group-data stream: decode its
// header, resolve the registered TrackProducer, and populate one group
// from the stream's frames (§4.8.4 step 3).
func (s *subscriber) serveGroup(ctx context.Context, stream RecvStream) {
	// br carries every read for this stream's lifetime: the kind tag,
	// the header, and every FrameHeader/payload pair in the loop below.
	br := bufio.NewReader(stream)

	kind, err := ReadVarInt(br)
	if err != nil {
		return
	}
	if DataStreamKind(kind) != DataStreamGroup {
		return
	}

	var header GroupHeader
	if err := header.Decode(br); err != nil {
		return
	}

	s.mu.Lock()
	tp, ok := s.subscriptions[header.SubscribeID]
	s.mu.Unlock()
	if !ok {
		return
	}

	gp := tp.CreateGroup(header.GroupSequence)
	if gp == nil {
		// Not strictly newer than the track's current latest; the
		// sender already knows this from our side's GroupMin/GroupMax,
		// so this is a benign race, not a protocol violation.
		return
	}

	for {
		var fh FrameHeader
		if err := fh.Decode(br); err != nil {
			if err == io.EOF {
				gp.Finish()
			} else {
				gp.Abort(WrapError(TransportError, err))
			}
			return
		}
		payload := make([]byte, fh.Size)
		if _, err := io.ReadFull(br, payload); err != nil {
			gp.Abort(WrapError(TransportError, err))
			return
		}
		gp.WriteFrame(payload)
	}
}

// announced requests the peer's broadcasts under prefix and mirrors
// them into a local Origin as they're announced, returning a consumer
// over that mirror (§4.8.5).
func (s *subscriber) announced(ctx context.Context, prefix string) *OriginConsumer {
	stream, err := s.session.conn.OpenBidi(ctx)
	if err != nil {
		return s.remoteOrigin.ConsumePrefix(prefix)
	}

	if err := WriteVarInt(stream, uint64(StreamAnnounce)); err != nil {
		return s.remoteOrigin.ConsumePrefix(prefix)
	}
	req := &AnnouncePlease{Prefix: prefix}
	if err := req.Encode(stream); err != nil {
		return s.remoteOrigin.ConsumePrefix(prefix)
	}

	consumer := s.remoteOrigin.ConsumePrefix(prefix)

	go func() {
		br := bufio.NewReader(stream)
		active := make(map[string]*BroadcastProducer)
		for {
			var msg Announce
			if err := msg.Decode(br); err != nil {
				return
			}
			if msg.Live {
				continue // the wire's snapshot boundary; local mirroring doesn't need it
			}
			path := prefix + msg.Suffix
			if msg.Active {
				if _, exists := active[msg.Suffix]; exists {
					continue
				}
				bp := NewBroadcast(path)
				active[msg.Suffix] = bp
				s.remoteOrigin.Publish(path, bp.Consume())
			} else if bp, exists := active[msg.Suffix]; exists {
				delete(active, msg.Suffix)
				bp.Close()
				s.remoteOrigin.Unpublish(path)
			}
		}
	}()

	return consumer
}
