package videoroom

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		check   func(t *testing.T, ev *Event)
	}{
		{
			name:    "joined with publishers",
			payload: `{"videoroom":"joined","room":1234,"id":11,"private_id":99,"publishers":[{"id":21,"display":"kim"},{"id":22,"display":"lee"}]}`,
			check: func(t *testing.T, ev *Event) {
				require.Equal(t, KindJoined, ev.Kind)
				require.Equal(t, uint64(1234), ev.Room)
				require.Equal(t, uint64(11), ev.ID)
				require.Equal(t, uint64(99), ev.PrivateID)
				require.Equal(t, []Publisher{{ID: 21, Display: "kim"}, {ID: 22, Display: "lee"}}, ev.Publishers)
				require.False(t, ev.IsError())
			},
		},
		{
			name:    "created",
			payload: `{"videoroom":"created","room":1234,"permanent":false}`,
			check: func(t *testing.T, ev *Event) {
				require.Equal(t, KindCreated, ev.Kind)
				require.Equal(t, uint64(1234), ev.Room)
			},
		},
		{
			name:    "room not found",
			payload: `{"videoroom":"event","error_code":426,"error":"No such room (1234)"}`,
			check: func(t *testing.T, ev *Event) {
				require.Equal(t, KindEvent, ev.Kind)
				require.True(t, ev.IsError())
				require.True(t, ev.IsRoomNotFound())
			},
		},
		{
			name:    "room not found by message only",
			payload: `{"videoroom":"event","error":"Room not found"}`,
			check: func(t *testing.T, ev *Event) {
				require.True(t, ev.IsError())
				require.True(t, ev.IsRoomNotFound())
			},
		},
		{
			name:    "other error",
			payload: `{"videoroom":"event","error_code":428,"error":"No such feed (5)"}`,
			check: func(t *testing.T, ev *Event) {
				require.True(t, ev.IsError())
				require.False(t, ev.IsRoomNotFound())
				require.Equal(t, ErrorCodeNoSuchFeed, ev.ErrorCode)
			},
		},
		{
			name:    "leaving feed",
			payload: `{"videoroom":"event","room":1234,"leaving":21}`,
			check: func(t *testing.T, ev *Event) {
				require.Equal(t, uint64(21), ev.Leaving)
				require.False(t, ev.LeavingOK)
			},
		},
		{
			name:    "leaving ok",
			payload: `{"videoroom":"event","leaving":"ok"}`,
			check: func(t *testing.T, ev *Event) {
				require.Zero(t, ev.Leaving)
				require.True(t, ev.LeavingOK)
			},
		},
		{
			name:    "unpublished feed",
			payload: `{"videoroom":"event","room":1234,"unpublished":22}`,
			check: func(t *testing.T, ev *Event) {
				require.Equal(t, uint64(22), ev.Unpublished)
				require.False(t, ev.UnpublishedOK)
			},
		},
		{
			name:    "unpublished ok sentinel",
			payload: `{"videoroom":"event","unpublished":"ok"}`,
			check: func(t *testing.T, ev *Event) {
				require.Zero(t, ev.Unpublished)
				require.True(t, ev.UnpublishedOK)
			},
		},
		{
			name:    "string ids",
			payload: `{"videoroom":"event","room":"1234","unpublished":"22","publishers":[{"id":"23"}]}`,
			check: func(t *testing.T, ev *Event) {
				require.Equal(t, uint64(1234), ev.Room)
				require.Equal(t, uint64(22), ev.Unpublished)
				require.Equal(t, []Publisher{{ID: 23}}, ev.Publishers)
			},
		},
		{
			name:    "malformed publisher skipped",
			payload: `{"videoroom":"event","room":1234,"leaving":21,"publishers":[{"display":"no id"},{"id":22,"display":"lee"},{"id":{},"display":"bad"}]}`,
			check: func(t *testing.T, ev *Event) {
				require.Equal(t, uint64(21), ev.Leaving)
				require.Equal(t, []Publisher{{ID: 22, Display: "lee"}}, ev.Publishers)
				require.Equal(t, 2, ev.SkippedPublishers)
			},
		},
		{
			name:    "configured",
			payload: `{"videoroom":"event","room":1234,"configured":"ok","audio_codec":"opus"}`,
			check: func(t *testing.T, ev *Event) {
				require.True(t, ev.Configured)
			},
		},
		{
			name:    "subscriber attached",
			payload: `{"videoroom":"attached","room":1234,"id":21,"display":"kim"}`,
			check: func(t *testing.T, ev *Event) {
				require.Equal(t, KindAttached, ev.Kind)
				require.Equal(t, uint64(21), ev.ID)
			},
		},
		{
			name:    "room destroyed",
			payload: `{"videoroom":"destroyed","room":1234}`,
			check: func(t *testing.T, ev *Event) {
				require.Equal(t, KindDestroyed, ev.Kind)
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(test.payload))
			require.NoError(t, err)
			test.check(t, ev)
		})
	}
}

func TestParseEventErrors(t *testing.T) {
	for _, payload := range []string{
		``,
		`not json`,
		`{"videoroom":"event","leaving":"someone"}`,
		`{"videoroom":"event","unpublished":-1}`,
	} {
		_, err := ParseEvent([]byte(payload))
		require.Error(t, err, payload)
	}
}

func TestRequests(t *testing.T) {
	tests := []struct {
		req      Request
		expected string
	}{
		{JoinPublisher(1234, "kim"), `{"request":"join","room":1234,"ptype":"publisher","display":"kim"}`},
		{JoinSubscriber(1234, 21, 0), `{"request":"join","room":1234,"ptype":"subscriber","feed":21}`},
		{JoinSubscriber(1234, 21, 99), `{"request":"join","room":1234,"ptype":"subscriber","feed":21,"private_id":99}`},
		{Create(1234, 10, 512000), `{"request":"create","room":1234,"publishers":10,"bitrate":512000}`},
		{Configure(false, true), `{"request":"configure","audio":false,"video":true}`},
		{Start(1234), `{"request":"start","room":1234}`},
		{Leave(), `{"request":"leave"}`},
	}

	for _, test := range tests {
		data, err := json.Marshal(test.req)
		require.NoError(t, err)
		require.JSONEq(t, test.expected, string(data))
	}
}
