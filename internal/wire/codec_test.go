package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meshcall/internal/domain"
)

func TestJSON_FieldNames(t *testing.T) {
	data, err := JSON{}.Encode(&Message{
		Type:        EventJoinRoom,
		RoomID:      "R1",
		DisplayName: "alice",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"join-room","roomId":"R1","displayName":"alice"}`, string(data))
}

func TestJSON_DecodesBrowserCandidate(t *testing.T) {
	raw := `{"type":"ice-candidate","to":"b","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}}`
	m, err := JSON{}.Decode([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, EventICECandidate, m.Type)
	assert.Equal(t, domain.ConnectionID("b"), m.To)
	require.NotNil(t, m.Candidate)
	require.NotNil(t, m.Candidate.SDPMid)
	require.NotNil(t, m.Candidate.SDPMLineIndex)
	assert.Equal(t, "0", *m.Candidate.SDPMid)
	assert.Equal(t, uint16(0), *m.Candidate.SDPMLineIndex)
	assert.Nil(t, m.Candidate.UsernameFragment)
}

func TestMsgpack_PreservesRosterOrderAndTimestamp(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	in := &Message{
		Type: EventRosterSnapshot,
		Members: domain.Roster{
			{ConnectionID: "a", DisplayName: "alice"},
			{ConnectionID: "b", DisplayName: "bob"},
		},
		Timestamp: &ts,
	}
	data, err := Msgpack{}.Encode(in)
	require.NoError(t, err)

	out, err := Msgpack{}.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []domain.ConnectionID{"a", "b"}, out.Members.IDs())
	require.NotNil(t, out.Timestamp)
	assert.True(t, ts.Equal(*out.Timestamp))
}

func TestCodecByName(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "", want: CodecJSON},
		{name: "json", want: CodecJSON},
		{name: "msgpack", want: CodecMsgpack},
		{name: "protobuf", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := CodecByName(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownCodec)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Name())
		})
	}
}

func TestDecode_RejectsGarbage(t *testing.T) {
	_, err := JSON{}.Decode([]byte("{not json"))
	assert.Error(t, err)
}
