package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{name: "empty", in: "", want: DefaultDisplayName},
		{name: "blank", in: "   ", want: DefaultDisplayName},
		{name: "trimmed", in: "  alice ", want: "alice"},
		{name: "at limit", in: strings.Repeat("a", MaxDisplayNameLen), want: strings.Repeat("a", MaxDisplayNameLen)},
		{name: "too long", in: strings.Repeat("a", MaxDisplayNameLen+1), wantErr: ErrDisplayNameTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeDisplayName(tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoomIDValidate(t *testing.T) {
	assert.ErrorIs(t, RoomID("").Validate(), ErrEmptyRoomID)
	assert.NoError(t, RoomID("r").Validate())
}

func TestRoster(t *testing.T) {
	r := Roster{{ConnectionID: "b"}, {ConnectionID: "a"}}
	assert.True(t, r.Contains("a"))
	assert.False(t, r.Contains("c"))
	assert.Equal(t, []ConnectionID{"b", "a"}, r.IDs())
	assert.Empty(t, Roster(nil).IDs())
}
