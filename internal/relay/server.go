package relay

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"sync"

	quicgo "github.com/quic-go/quic-go"
	webtransport "github.com/quic-go/webtransport-go"

	"github.com/moqfabric/fabric/moq"
	"github.com/moqfabric/fabric/quictransport"
)

// Server accepts MoQ sessions over native QUIC and WebTransport and
// relays broadcasts between them. Every connected peer shares one
// *moq.Origin: a peer's Announce fans its broadcasts into the origin,
// and the origin's full set is published back out to every other peer
// (§4.6). This package does no loop prevention across non-star
// topologies.
type Server struct {
	Addr       string
	TLSConfig  *tls.Config
	QUICConfig *quicgo.Config
	Config     *Config

	CheckHTTPOrigin func(r *http.Request) bool

	// AnnounceRegistrar pushes announcements to the SDN controller.
	// If nil, auto-announce is disabled.
	AnnounceRegistrar AnnounceRegistrar

	origin   *moq.Origin
	listener *quictransport.Listener
	wt       *webtransport.Server

	initOnce sync.Once

	statusHandler *statusHandler
	peerRegistry  *peerRegistry
}

func (s *Server) init() {
	s.initOnce.Do(func() {
		if s.TLSConfig == nil {
			panic("no tls config")
		}

		checkOrigin := s.CheckHTTPOrigin
		if checkOrigin == nil {
			checkOrigin = func(*http.Request) bool { return false }
		}

		s.origin = moq.NewOrigin()
		s.wt = quictransport.NewWebTransportServer(checkOrigin)
		s.statusHandler = newStatusHandler()
		s.peerRegistry = newPeerRegistry()
	})
}

func (s *Server) Status() Status {
	s.init()

	status := s.statusHandler.getStatus()
	status.PeerCount = s.peerRegistry.peerCount()
	return status
}

// Origin returns the shared broadcast registry every connected peer
// publishes into and consumes from. Exposed so the owner of a Server
// (typically the cli package) can wire a RemoteFetcher against the
// same registry.
func (s *Server) Origin() *moq.Origin {
	s.init()

	return s.origin
}

func (s *Server) ListenAndServe() error {
	s.init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := quictransport.Listen(s.Addr, s.TLSConfig, s.QUICConfig)
	if err != nil {
		return err
	}
	s.listener = ln

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			return err
		}
		go s.acceptConn(ctx, conn)
	}
}

func (s *Server) acceptConn(ctx context.Context, conn moq.Connection) {
	sess, err := moq.Accept(ctx, conn)
	if err != nil {
		slog.Error("failed to accept session", "err", err)
		return
	}
	defer sess.Close(moq.NewError(moq.NoError, "relay done"))

	if err := s.Relay(ctx, sess); err != nil {
		slog.Error("relay session ended", "err", err)
	}
}

func (s *Server) HandleWebTransport(w http.ResponseWriter, r *http.Request) error {
	s.init()

	conn, err := quictransport.UpgradeWebTransport(s.wt, w, r)
	if err != nil {
		return err
	}

	ctx := r.Context()
	go s.acceptConn(ctx, conn)
	return nil
}

func (s *Server) Close() error {
	s.init()

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Close()
}

// Relay registers sess as a peer, bridging its announced broadcasts
// into the shared origin and streaming the origin's broadcasts back
// out to sess until the session ends.
func (s *Server) Relay(ctx context.Context, sess *moq.Session) error {
	s.init()

	if s.statusHandler != nil {
		s.statusHandler.incrementConnections()
		defer s.statusHandler.decrementConnections()
	}

	if s.peerRegistry != nil {
		peerID := s.peerRegistry.register(sess)
		defer s.peerRegistry.deregister(peerID)
	}

	go s.publishKnown(ctx, sess)

	announced := sess.Announced(ctx, "")
	defer announced.Close()

	for {
		path, bc, ok, err := announced.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if s.AnnounceRegistrar != nil {
			s.AnnounceRegistrar.Register(path)
		}

		s.origin.Publish(path, bc)
	}
}

// publishKnown streams the origin's broadcasts (both those already
// known and any announced afterward) out to sess as its own
// publications, so every peer sees every other peer's content. It stops
// early once sess's peer has no open Announce request against anything
// published into sess — no point feeding a peer that isn't watching.
func (s *Server) publishKnown(ctx context.Context, sess *moq.Session) {
	oc := s.origin.ConsumePrefix("")
	defer oc.Close()

	idleCtx, cancelIdle := context.WithCancel(ctx)
	defer cancelIdle()
	idle := make(chan error, 1)
	go func() { idle <- sess.PublisherIdle(idleCtx) }()

	type update struct {
		path string
		bc   *moq.BroadcastConsumer
		ok   bool
		err  error
	}
	updates := make(chan update)
	go func() {
		for {
			path, bc, ok, err := oc.Next(ctx)
			select {
			case updates <- update{path, bc, ok, err}:
			case <-ctx.Done():
				return
			}
			if err != nil || !ok {
				return
			}
		}
	}()

	for {
		select {
		case u := <-updates:
			if u.err != nil || !u.ok {
				return
			}
			sess.Publish(u.path, u.bc)
		case <-idle:
			slog.Debug("peer has stopped watching announcements, stopping relay feed")
			return
		case <-ctx.Done():
			return
		}
	}
}
