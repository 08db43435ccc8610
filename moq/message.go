package moq

import "io"

// CURRENT is the only wire version this module understands. The rest of
// the repo's history carries DRAFT_00..04 and FORK_00..04; this core does
// not attempt to interoperate with them (see the Version error path).
const CURRENT = 0x00000001

// StreamKind identifies the first VarInt sent on a stream.
type StreamKind uint64

const (
	StreamSession   StreamKind = 0x0
	StreamAnnounce  StreamKind = 0x1
	StreamSubscribe StreamKind = 0x2
	StreamInfo      StreamKind = 0x3
)

// DataStreamKind identifies the first VarInt on a uni stream.
type DataStreamKind uint64

const DataStreamGroup DataStreamKind = 0x0

// GroupOrder is the subscriber's preferred delivery order hint.
type GroupOrder uint8

const (
	GroupOrderAny  GroupOrder = 0
	GroupOrderAsc  GroupOrder = 1
	GroupOrderDesc GroupOrder = 2
)

// ClientSetup is the first message sent by the session initiator on the
// control stream.
type ClientSetup struct {
	Versions   []uint64
	Extensions map[uint64][]byte
}

func (m *ClientSetup) Encode(w io.Writer) error {
	if err := WriteVarInt(w, uint64(len(m.Versions))); err != nil {
		return err
	}
	for _, v := range m.Versions {
		if err := WriteVarInt(w, v); err != nil {
			return err
		}
	}
	return encodeExtensions(w, m.Extensions)
}

func (m *ClientSetup) Decode(r io.Reader) error {
	n, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	m.Versions = make([]uint64, n)
	for i := range m.Versions {
		v, err := ReadVarInt(r)
		if err != nil {
			return err
		}
		m.Versions[i] = v
	}
	m.Extensions, err = decodeExtensions(r)
	return err
}

// SupportsCurrent reports whether CURRENT is among the offered versions.
func (m *ClientSetup) SupportsCurrent() bool {
	for _, v := range m.Versions {
		if v == CURRENT {
			return true
		}
	}
	return false
}

// ServerSetup is the session responder's reply to ClientSetup.
type ServerSetup struct {
	Version    uint64
	Extensions map[uint64][]byte
}

func (m *ServerSetup) Encode(w io.Writer) error {
	if err := WriteVarInt(w, m.Version); err != nil {
		return err
	}
	return encodeExtensions(w, m.Extensions)
}

func (m *ServerSetup) Decode(r io.Reader) error {
	v, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	m.Version = v
	m.Extensions, err = decodeExtensions(r)
	return err
}

func encodeExtensions(w io.Writer, ext map[uint64][]byte) error {
	if err := WriteVarInt(w, uint64(len(ext))); err != nil {
		return err
	}
	for id, body := range ext {
		if err := WriteVarInt(w, id); err != nil {
			return err
		}
		if err := WriteBytes(w, body); err != nil {
			return err
		}
	}
	return nil
}

func decodeExtensions(r io.Reader) (map[uint64][]byte, error) {
	n, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	ext := make(map[uint64][]byte, n)
	for i := uint64(0); i < n; i++ {
		id, err := ReadVarInt(r)
		if err != nil {
			return nil, err
		}
		body, err := ReadBytes(r)
		if err != nil {
			return nil, err
		}
		ext[id] = body
	}
	return ext, nil
}

// Subscribe is sent by a subscriber on a freshly opened Subscribe bidi
// stream to request a track.
type Subscribe struct {
	ID            uint64
	BroadcastPath string
	TrackName     string
	Priority      int8
	GroupOrder    GroupOrder
	GroupMin      uint64 // 0 = unset
	GroupMax      uint64 // 0 = unset
}

func (m *Subscribe) Encode(w io.Writer) error {
	if err := WriteVarInt(w, m.ID); err != nil {
		return err
	}
	if err := WriteString(w, m.BroadcastPath); err != nil {
		return err
	}
	if err := WriteString(w, m.TrackName); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(m.Priority)}); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(m.GroupOrder)}); err != nil {
		return err
	}
	if err := WriteVarInt(w, m.GroupMin); err != nil {
		return err
	}
	return WriteVarInt(w, m.GroupMax)
}

func (m *Subscribe) Decode(r io.Reader) error {
	var err error
	if m.ID, err = ReadVarInt(r); err != nil {
		return err
	}
	if m.BroadcastPath, err = ReadString(r); err != nil {
		return err
	}
	if m.TrackName, err = ReadString(r); err != nil {
		return err
	}
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return errShortVarInt
	}
	m.Priority = int8(b[0])
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return errShortVarInt
	}
	m.GroupOrder = GroupOrder(b[0])
	if m.GroupMin, err = ReadVarInt(r); err != nil {
		return err
	}
	m.GroupMax, err = ReadVarInt(r)
	return err
}

// SubscribeUpdate may be sent by the subscriber at any later time to
// narrow or widen an active subscription.
type SubscribeUpdate struct {
	Priority   int8
	GroupOrder GroupOrder
	GroupMin   uint64
	GroupMax   uint64
}

func (m *SubscribeUpdate) Encode(w io.Writer) error {
	if _, err := w.Write([]byte{byte(m.Priority), byte(m.GroupOrder)}); err != nil {
		return err
	}
	if err := WriteVarInt(w, m.GroupMin); err != nil {
		return err
	}
	return WriteVarInt(w, m.GroupMax)
}

func (m *SubscribeUpdate) Decode(r io.Reader) error {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return errShortVarInt
	}
	m.Priority = int8(b[0])
	m.GroupOrder = GroupOrder(b[1])
	var err error
	if m.GroupMin, err = ReadVarInt(r); err != nil {
		return err
	}
	m.GroupMax, err = ReadVarInt(r)
	return err
}

// Info answers a Subscribe once, describing the track as the publisher
// currently sees it.
type Info struct {
	LatestGroup uint64 // 0 if empty
	Priority    int8
	GroupOrder  GroupOrder
}

func (m *Info) Encode(w io.Writer) error {
	if err := WriteVarInt(w, m.LatestGroup); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(m.Priority), byte(m.GroupOrder)}); err != nil {
		return err
	}
	return nil
}

func (m *Info) Decode(r io.Reader) error {
	var err error
	if m.LatestGroup, err = ReadVarInt(r); err != nil {
		return err
	}
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return errShortVarInt
	}
	m.Priority = int8(b[0])
	m.GroupOrder = GroupOrder(b[1])
	return nil
}

// GroupDrop reports a batch of group sequences the publisher could not
// serve. Consecutive drops are coalesced by the caller into one message.
type GroupDrop struct {
	BaseSequence    uint64
	AdditionalCount uint64
	Code            ErrorCode
}

func (m *GroupDrop) Encode(w io.Writer) error {
	if err := WriteVarInt(w, m.BaseSequence); err != nil {
		return err
	}
	if err := WriteVarInt(w, m.AdditionalCount); err != nil {
		return err
	}
	return WriteVarInt(w, uint64(m.Code))
}

func (m *GroupDrop) Decode(r io.Reader) error {
	var err error
	if m.BaseSequence, err = ReadVarInt(r); err != nil {
		return err
	}
	if m.AdditionalCount, err = ReadVarInt(r); err != nil {
		return err
	}
	code, err := ReadVarInt(r)
	m.Code = ErrorCode(code)
	return err
}

// AnnouncePlease is sent by a subscriber opening an Announce stream to
// request announcements under prefix.
type AnnouncePlease struct {
	Prefix string
}

func (m *AnnouncePlease) Encode(w io.Writer) error { return WriteString(w, m.Prefix) }
func (m *AnnouncePlease) Decode(r io.Reader) error {
	s, err := ReadString(r)
	m.Prefix = s
	return err
}

// announceLiveByte, sent with an empty suffix, is the reserved encoding
// used to signal that the initial snapshot has been fully delivered. Its absence in older wire
// iterations means "snapshot boundary unknown", not an error (see §9).
const announceActiveByte = 1
const announceInactiveByte = 0
const announceLiveByte = 2

// Announce reports one insertion or removal under an announced prefix, or
// (suffix="", marker=live) the end of the initial snapshot.
type Announce struct {
	Suffix string
	Active bool
	Live   bool
}

func (m *Announce) Encode(w io.Writer) error {
	if m.Live {
		if err := WriteString(w, ""); err != nil {
			return err
		}
		_, err := w.Write([]byte{announceLiveByte})
		return err
	}
	if err := WriteString(w, m.Suffix); err != nil {
		return err
	}
	b := byte(announceInactiveByte)
	if m.Active {
		b = announceActiveByte
	}
	_, err := w.Write([]byte{b})
	return err
}

func (m *Announce) Decode(r io.Reader) error {
	suffix, err := ReadString(r)
	if err != nil {
		return err
	}
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return errShortVarInt
	}
	switch b[0] {
	case announceLiveByte:
		*m = Announce{Live: true}
	case announceActiveByte:
		*m = Announce{Suffix: suffix, Active: true}
	default:
		*m = Announce{Suffix: suffix, Active: false}
	}
	return nil
}

// GroupHeader is the header written at the start of a uni data stream,
// after the DataStreamGroup kind VarInt.
type GroupHeader struct {
	SubscribeID    uint64
	GroupSequence  uint64
}

func (m *GroupHeader) Encode(w io.Writer) error {
	if err := WriteVarInt(w, m.SubscribeID); err != nil {
		return err
	}
	return WriteVarInt(w, m.GroupSequence)
}

func (m *GroupHeader) Decode(r io.Reader) error {
	var err error
	if m.SubscribeID, err = ReadVarInt(r); err != nil {
		return err
	}
	m.GroupSequence, err = ReadVarInt(r)
	return err
}

// FrameHeader precedes exactly Size bytes of frame payload on a group
// data stream.
type FrameHeader struct {
	Size uint64
}

func (m *FrameHeader) Encode(w io.Writer) error { return WriteVarInt(w, m.Size) }
func (m *FrameHeader) Decode(r io.Reader) error {
	v, err := ReadVarInt(r)
	m.Size = v
	return err
}
