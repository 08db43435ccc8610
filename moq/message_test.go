package moq

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_RoundTrip(t *testing.T) {
	tests := map[string]struct {
		encode func(w *bytes.Buffer) error
		decode func(r *bytes.Buffer) (interface{}, error)
		want   interface{}
	}{
		"ClientSetup": {
			encode: func(w *bytes.Buffer) error {
				return (&ClientSetup{Versions: []uint64{CURRENT, 9}, Extensions: map[uint64][]byte{1: {0xAA}}}).Encode(w)
			},
			decode: func(r *bytes.Buffer) (interface{}, error) {
				var m ClientSetup
				err := m.Decode(r)
				return &m, err
			},
			want: &ClientSetup{Versions: []uint64{CURRENT, 9}, Extensions: map[uint64][]byte{1: {0xAA}}},
		},
		"ServerSetup": {
			encode: func(w *bytes.Buffer) error {
				return (&ServerSetup{Version: CURRENT, Extensions: map[uint64][]byte{}}).Encode(w)
			},
			decode: func(r *bytes.Buffer) (interface{}, error) {
				var m ServerSetup
				err := m.Decode(r)
				return &m, err
			},
			want: &ServerSetup{Version: CURRENT, Extensions: map[uint64][]byte{}},
		},
		"Subscribe": {
			encode: func(w *bytes.Buffer) error {
				return (&Subscribe{ID: 7, BroadcastPath: "/room/a", TrackName: "video", Priority: 5, GroupOrder: GroupOrderDesc, GroupMin: 10, GroupMax: 20}).Encode(w)
			},
			decode: func(r *bytes.Buffer) (interface{}, error) {
				var m Subscribe
				err := m.Decode(r)
				return &m, err
			},
			want: &Subscribe{ID: 7, BroadcastPath: "/room/a", TrackName: "video", Priority: 5, GroupOrder: GroupOrderDesc, GroupMin: 10, GroupMax: 20},
		},
		"Subscribe negative priority": {
			encode: func(w *bytes.Buffer) error {
				return (&Subscribe{ID: 1, BroadcastPath: "p", TrackName: "t", Priority: -5, GroupOrder: GroupOrderAsc}).Encode(w)
			},
			decode: func(r *bytes.Buffer) (interface{}, error) {
				var m Subscribe
				err := m.Decode(r)
				return &m, err
			},
			want: &Subscribe{ID: 1, BroadcastPath: "p", TrackName: "t", Priority: -5, GroupOrder: GroupOrderAsc},
		},
		"SubscribeUpdate": {
			encode: func(w *bytes.Buffer) error {
				return (&SubscribeUpdate{Priority: -3, GroupOrder: GroupOrderAsc, GroupMin: 4, GroupMax: 8}).Encode(w)
			},
			decode: func(r *bytes.Buffer) (interface{}, error) {
				var m SubscribeUpdate
				err := m.Decode(r)
				return &m, err
			},
			want: &SubscribeUpdate{Priority: -3, GroupOrder: GroupOrderAsc, GroupMin: 4, GroupMax: 8},
		},
		"Info": {
			encode: func(w *bytes.Buffer) error {
				return (&Info{LatestGroup: 42, Priority: 1, GroupOrder: GroupOrderAny}).Encode(w)
			},
			decode: func(r *bytes.Buffer) (interface{}, error) {
				var m Info
				err := m.Decode(r)
				return &m, err
			},
			want: &Info{LatestGroup: 42, Priority: 1, GroupOrder: GroupOrderAny},
		},
		"GroupDrop": {
			encode: func(w *bytes.Buffer) error {
				return (&GroupDrop{BaseSequence: 3, AdditionalCount: 2, Code: NotFoundError}).Encode(w)
			},
			decode: func(r *bytes.Buffer) (interface{}, error) {
				var m GroupDrop
				err := m.Decode(r)
				return &m, err
			},
			want: &GroupDrop{BaseSequence: 3, AdditionalCount: 2, Code: NotFoundError},
		},
		"AnnouncePlease": {
			encode: func(w *bytes.Buffer) error {
				return (&AnnouncePlease{Prefix: "r1/"}).Encode(w)
			},
			decode: func(r *bytes.Buffer) (interface{}, error) {
				var m AnnouncePlease
				err := m.Decode(r)
				return &m, err
			},
			want: &AnnouncePlease{Prefix: "r1/"},
		},
		"Announce active": {
			encode: func(w *bytes.Buffer) error {
				return (&Announce{Suffix: "alice", Active: true}).Encode(w)
			},
			decode: func(r *bytes.Buffer) (interface{}, error) {
				var m Announce
				err := m.Decode(r)
				return &m, err
			},
			want: &Announce{Suffix: "alice", Active: true},
		},
		"Announce inactive": {
			encode: func(w *bytes.Buffer) error {
				return (&Announce{Suffix: "bob", Active: false}).Encode(w)
			},
			decode: func(r *bytes.Buffer) (interface{}, error) {
				var m Announce
				err := m.Decode(r)
				return &m, err
			},
			want: &Announce{Suffix: "bob", Active: false},
		},
		"Announce live": {
			encode: func(w *bytes.Buffer) error {
				return (&Announce{Live: true}).Encode(w)
			},
			decode: func(r *bytes.Buffer) (interface{}, error) {
				var m Announce
				err := m.Decode(r)
				return &m, err
			},
			want: &Announce{Live: true},
		},
		"GroupHeader": {
			encode: func(w *bytes.Buffer) error {
				return (&GroupHeader{SubscribeID: 9, GroupSequence: 100}).Encode(w)
			},
			decode: func(r *bytes.Buffer) (interface{}, error) {
				var m GroupHeader
				err := m.Decode(r)
				return &m, err
			},
			want: &GroupHeader{SubscribeID: 9, GroupSequence: 100},
		},
		"FrameHeader": {
			encode: func(w *bytes.Buffer) error {
				return (&FrameHeader{Size: 1500}).Encode(w)
			},
			decode: func(r *bytes.Buffer) (interface{}, error) {
				var m FrameHeader
				err := m.Decode(r)
				return &m, err
			},
			want: &FrameHeader{Size: 1500},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, tt.encode(&buf))
			got, err := tt.decode(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Zero(t, buf.Len(), "decode should consume exactly what encode wrote")
		})
	}
}

func TestClientSetup_SupportsCurrent(t *testing.T) {
	assert.True(t, (&ClientSetup{Versions: []uint64{9, CURRENT, 11}}).SupportsCurrent())
	assert.False(t, (&ClientSetup{Versions: []uint64{9, 10}}).SupportsCurrent())
}
