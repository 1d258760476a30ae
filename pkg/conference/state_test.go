package conference

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectionStateText(t *testing.T) {
	for _, s := range []ConnectionState{Idle, Connecting, Connected, Failed} {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var got ConnectionState
		require.NoError(t, got.UnmarshalText(text))
		require.Equal(t, s, got)
	}

	var s ConnectionState
	require.Error(t, s.UnmarshalText([]byte("bogus")))
}

func TestStateJSON(t *testing.T) {
	state := State{
		ConnectionState: Connected,
		IsSupported:     true,
		RoomID:          1234,
		Feeds:           []FeedInfo{{ID: 2, Display: "bob", Ready: true}},
		Err:             ErrJoinFailed,
	}
	data, err := json.Marshal(state)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"connectionState": "connected",
		"isSupported": true,
		"roomId": 1234,
		"audioEnabled": false,
		"videoEnabled": false,
		"feeds": [{"id": 2, "display": "bob", "ready": true}]
	}`, string(data))

	other := state
	other.Feeds = []FeedInfo{{ID: 2, Display: "bob", Ready: true}}
	require.True(t, state.Equal(other))
	other.Feeds[0].Ready = false
	require.False(t, state.Equal(other))
	require.Equal(t, ErrJoinFailed.Error(), state.ErrorString())
}
