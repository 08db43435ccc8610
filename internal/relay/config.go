package relay

// Config holds the relay-specific settings layered on top of the MoQ
// session core: topology identity and SDN wiring. Group fan-out and
// catch-up delivery are handled entirely by moq.Session/moq.Origin, so
// there is no relay-side cache sizing to configure here.
type Config struct {
	// NodeID is the unique identifier for this relay node.
	NodeID string

	// Region is the geographic region this node belongs to.
	Region string
}

// AnnounceRegistrar is implemented by sdn.Client and allows the relay
// server to push announcement state to the SDN controller.
type AnnounceRegistrar interface {
	Register(broadcastPath string)
	Deregister(broadcastPath string)
}
