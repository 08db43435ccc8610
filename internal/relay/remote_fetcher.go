package relay

import (
	"context"
	"crypto/tls"
	"log/slog"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/moqfabric/fabric/internal/sdn"
	"github.com/moqfabric/fabric/moq"
	"github.com/moqfabric/fabric/quictransport"
)

// RemoteFetcher discovers remote broadcast paths via the SDN controller
// and publishes them into the local origin so that subscribers receive
// content transparently from other relays.
//
// It periodically polls the SDN announce table and, for each broadcast
// path that is not locally available, dials the relay that holds it and
// subscribes, publishing the resulting *moq.BroadcastConsumer into
// Origin exactly as a locally-announced broadcast would be.
type RemoteFetcher struct {
	// SDNClient is used to query the SDN controller for announcements and routes.
	SDNClient *sdn.Client

	// Origin is the shared registry that local peers publish into and
	// consume from. Must be the same *moq.Origin used by Server.
	Origin *moq.Origin

	// TLSConfig is the TLS configuration for outgoing relay-to-relay QUIC connections.
	TLSConfig *tls.Config

	// QUICConfig is the QUIC configuration for outgoing relay-to-relay connections.
	QUICConfig *quicgo.Config

	// PollInterval is how often to query the SDN for new announcements.
	// Default: 5s.
	PollInterval time.Duration

	mu       sync.Mutex
	sessions map[string]*remoteSession     // address → session
	tracked  map[string]context.CancelFunc // broadcastPath → cancel func
}

// remoteSession holds a connection to a remote relay.
type remoteSession struct {
	session  *moq.Session
	refCount int
}

// Run starts the periodic poll loop. It blocks until ctx is cancelled.
func (f *RemoteFetcher) Run(ctx context.Context) {
	f.mu.Lock()
	f.sessions = make(map[string]*remoteSession)
	f.tracked = make(map[string]context.CancelFunc)
	f.mu.Unlock()

	interval := f.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	slog.Info("remote fetcher started", "poll_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.cleanup()
			return
		case <-ticker.C:
			f.poll(ctx)
		}
	}
}

// poll queries the SDN for all announcements and publishes any
// broadcast paths not yet locally available.
func (f *RemoteFetcher) poll(ctx context.Context) {
	entries, err := f.SDNClient.ListAll(ctx)
	if err != nil {
		slog.Warn("remote fetcher: failed to list announcements", "error", err)
		return
	}

	// Build set of currently announced remote broadcast paths
	remoteSet := make(map[string]string) // broadcastPath → relay name
	for _, e := range entries {
		// Keep the first relay found for each broadcast path
		if _, exists := remoteSet[e.BroadcastPath]; !exists {
			remoteSet[e.BroadcastPath] = e.Relay
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Register new remote paths
	for bp, relay := range remoteSet {
		if _, already := f.tracked[bp]; already {
			continue // already tracking
		}

		if _, ok := f.Origin.Consume(bp); ok {
			continue // already published locally (or by an earlier fetch)
		}

		f.startRemoteHandler(ctx, bp, relay)
	}

	// Remove tracked paths that are no longer in the remote set
	for bp, cancel := range f.tracked {
		if _, exists := remoteSet[bp]; !exists {
			cancel()
			delete(f.tracked, bp)
		}
	}
}

// startRemoteHandler dials the source relay (via SDN routing) and
// publishes the subscribed broadcast into Origin. Caller must hold f.mu.
func (f *RemoteFetcher) startRemoteHandler(ctx context.Context, broadcastPath, sourceRelay string) {
	route, err := f.SDNClient.Route(ctx, sourceRelay)
	if err != nil {
		slog.Warn("remote fetcher: route query failed",
			"broadcast_path", broadcastPath,
			"target", sourceRelay,
			"error", err)
		return
	}

	nextHopAddr := route.NextHopAddress
	if nextHopAddr == "" {
		slog.Warn("remote fetcher: next hop has no address",
			"broadcast_path", broadcastPath,
			"next_hop", route.NextHop)
		return
	}

	rs, err := f.getOrDialSession(ctx, nextHopAddr)
	if err != nil {
		slog.Warn("remote fetcher: failed to dial next hop",
			"address", nextHopAddr,
			"error", err)
		return
	}

	pathCtx, cancel := context.WithCancel(ctx)
	f.tracked[broadcastPath] = cancel
	rs.refCount++

	bc := rs.session.Subscribe(pathCtx, broadcastPath)
	f.Origin.Publish(broadcastPath, bc)

	slog.Info("remote fetcher: published remote broadcast",
		"broadcast_path", broadcastPath,
		"source_relay", sourceRelay,
		"next_hop", route.NextHop,
		"next_hop_addr", nextHopAddr)

	go func() {
		<-pathCtx.Done()
		f.Origin.Unpublish(broadcastPath)

		f.mu.Lock()
		defer f.mu.Unlock()
		if rs, ok := f.sessions[nextHopAddr]; ok {
			rs.refCount--
			if rs.refCount <= 0 {
				rs.session.Close(moq.NewError(moq.NoError, "no more remote tracks"))
				delete(f.sessions, nextHopAddr)
			}
		}
	}()
}

// getOrDialSession returns an existing session or dials a new one.
// Caller must hold f.mu.
func (f *RemoteFetcher) getOrDialSession(ctx context.Context, address string) (*remoteSession, error) {
	if rs, ok := f.sessions[address]; ok {
		if !rs.session.Done() {
			return rs, nil
		}
		// Session is dead, remove and reconnect
		delete(f.sessions, address)
	}

	// Dial new connection — release lock during dial
	f.mu.Unlock()
	conn, err := quictransport.Dial(ctx, address, f.TLSConfig, f.QUICConfig)
	var sess *moq.Session
	if err == nil {
		sess, err = moq.Connect(ctx, conn)
	}
	f.mu.Lock()

	if err != nil {
		return nil, err
	}

	// Double-check: another goroutine might have created the session
	if rs, ok := f.sessions[address]; ok {
		sess.Close(moq.NewError(moq.NoError, "duplicate session"))
		return rs, nil
	}

	rs := &remoteSession{
		session: sess,
	}
	f.sessions[address] = rs
	return rs, nil
}

// cleanup closes all remote sessions. Called when the fetcher is stopping.
func (f *RemoteFetcher) cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for bp, cancel := range f.tracked {
		cancel()
		delete(f.tracked, bp)
	}

	for addr, rs := range f.sessions {
		rs.session.Close(moq.NewError(moq.NoError, "fetcher stopping"))
		delete(f.sessions, addr)
	}

	slog.Info("remote fetcher stopped")
}
