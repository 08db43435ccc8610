package moq

import "bufio"

// setupClient writes ClientSetup on stream and decodes the ServerSetup
// reply, failing with Version if CURRENT isn't among the replied version
// (the only version this module ever offers or accepts).
func setupClient(stream Stream) error {
	cs := &ClientSetup{Versions: []uint64{CURRENT}}
	if err := WriteVarInt(stream, uint64(StreamSession)); err != nil {
		return WrapError(TransportError, err)
	}
	if err := cs.Encode(stream); err != nil {
		return WrapError(TransportError, err)
	}

	// ServerSetup's extensions are a variable number of length-prefixed
	// fields; decoding them needs one persistent byte source; see the
	// ReadVarInt doc comment on why a fresh bufio.Reader per read would
	// silently drop bytes.
	br := bufio.NewReader(stream)
	var ss ServerSetup
	if err := ss.Decode(br); err != nil {
		return WrapError(ProtocolError, err)
	}
	if ss.Version != CURRENT {
		return NewError(VersionError, "server selected unsupported version")
	}
	return nil
}

// setupServer decodes the peer's ClientSetup and replies with a
// ServerSetup, failing with Version if the peer never offered CURRENT.
func setupServer(stream Stream) error {
	br := bufio.NewReader(stream)

	kind, err := ReadVarInt(br)
	if err != nil {
		return WrapError(TransportError, err)
	}
	if StreamKind(kind) != StreamSession {
		return NewError(ProtocolError, "expected Session stream kind")
	}

	var cs ClientSetup
	if err := cs.Decode(br); err != nil {
		return WrapError(ProtocolError, err)
	}
	if !cs.SupportsCurrent() {
		return NewError(VersionError, "client did not offer a supported version")
	}

	ss := &ServerSetup{Version: CURRENT}
	if err := ss.Encode(stream); err != nil {
		return WrapError(TransportError, err)
	}
	return nil
}

