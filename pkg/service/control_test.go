package service

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/logger"

	"github.com/campuslink/confcore/pkg/conference"
	"github.com/campuslink/confcore/pkg/mediastate"
)

type joinCall struct {
	room    uint64
	display string
}

type fakeController struct {
	lock   sync.Mutex
	joins  []joinCall
	leaves int
	audio  int
	video  int
	state  conference.State
}

func (c *fakeController) JoinRoom(roomID uint64, display string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.joins = append(c.joins, joinCall{room: roomID, display: display})
}

func (c *fakeController) LeaveRoom() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.leaves++
}

func (c *fakeController) ToggleAudio() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.audio++
}

func (c *fakeController) ToggleVideo() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.video++
}

func (c *fakeController) State() conference.State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

func (c *fakeController) snapshot() ([]joinCall, int, int, int) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]joinCall(nil), c.joins...), c.leaves, c.audio, c.video
}

type fakeParticipants []mediastate.ParticipantMediaState

func (p fakeParticipants) List() []mediastate.ParticipantMediaState {
	return p
}

func newControlServer(t *testing.T, c Controller, p ParticipantSource) *httptest.Server {
	mux := http.NewServeMux()
	NewControlService(c, p, logger.GetLogger()).SetupRoutes(mux)
	ts := httptest.NewServer(configureMiddlewares(mux))
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url string, body string) *http.Response {
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func TestControlService_Join(t *testing.T) {
	c := &fakeController{}
	ts := newControlServer(t, c, nil)

	t.Run("accepted", func(t *testing.T) {
		res := post(t, ts.URL+"/room/join", `{"room": 1234, "display": "alice"}`)
		require.Equal(t, http.StatusAccepted, res.StatusCode)
		joins, _, _, _ := c.snapshot()
		require.Equal(t, []joinCall{{room: 1234, display: "alice"}}, joins)
	})

	t.Run("room required", func(t *testing.T) {
		res := post(t, ts.URL+"/room/join", `{"display": "alice"}`)
		require.Equal(t, http.StatusBadRequest, res.StatusCode)

		var e errorResponse
		require.NoError(t, json.NewDecoder(res.Body).Decode(&e))
		require.Equal(t, ErrRoomRequired.Error(), e.Error)
	})

	t.Run("malformed body", func(t *testing.T) {
		res := post(t, ts.URL+"/room/join", `{"room": `)
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
	})

	t.Run("wrong method", func(t *testing.T) {
		res, err := http.Get(ts.URL + "/room/join")
		require.NoError(t, err)
		_ = res.Body.Close()
		require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
	})

	joins, _, _, _ := c.snapshot()
	require.Len(t, joins, 1)
}

func TestControlService_Commands(t *testing.T) {
	c := &fakeController{}
	ts := newControlServer(t, c, nil)

	require.Equal(t, http.StatusAccepted, post(t, ts.URL+"/room/audio", "").StatusCode)
	require.Equal(t, http.StatusAccepted, post(t, ts.URL+"/room/video", "").StatusCode)
	require.Equal(t, http.StatusAccepted, post(t, ts.URL+"/room/video", "").StatusCode)
	require.Equal(t, http.StatusAccepted, post(t, ts.URL+"/room/leave", "").StatusCode)

	_, leaves, audio, video := c.snapshot()
	require.Equal(t, 1, audio)
	require.Equal(t, 2, video)
	require.Equal(t, 1, leaves)
}

func TestControlService_State(t *testing.T) {
	c := &fakeController{
		state: conference.State{
			ConnectionState: conference.Connected,
			IsSupported:     true,
			RoomID:          1234,
			AudioEnabled:    false,
			VideoEnabled:    true,
			Feeds:           []conference.FeedInfo{{ID: 7, Display: "bob", Ready: true}},
			Err:             conference.ErrRenegotiationFailed,
		},
	}
	ts := newControlServer(t, c, nil)

	res, err := http.Get(ts.URL + "/room")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var raw map[string]interface{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&raw))
	require.Equal(t, "connected", raw["connectionState"])
	require.Equal(t, true, raw["isConnected"])
	require.Equal(t, false, raw["isConnecting"])
	require.Equal(t, float64(1234), raw["roomId"])
	require.Equal(t, false, raw["audioEnabled"])
	require.Equal(t, true, raw["videoEnabled"])
	require.Equal(t, conference.ErrRenegotiationFailed.Error(), raw["error"])
	require.Len(t, raw["feeds"], 1)
}

func TestControlService_Participants(t *testing.T) {
	p := fakeParticipants{
		{UserID: "u-1", DisplayName: "alice", AudioOn: true, LastUpdated: time.Now().Add(-time.Minute)},
		{UserID: "u-2", VideoOn: true, VideoDeviceLost: true},
	}
	ts := newControlServer(t, &fakeController{}, p)

	t.Run("json", func(t *testing.T) {
		res, err := http.Get(ts.URL + "/participants")
		require.NoError(t, err)
		defer res.Body.Close()

		var list []mediastate.ParticipantMediaState
		require.NoError(t, json.NewDecoder(res.Body).Decode(&list))
		require.Len(t, list, 2)
		require.Equal(t, "alice", list[0].DisplayName)
		require.True(t, list[1].VideoDeviceLost)
	})

	t.Run("text", func(t *testing.T) {
		res, err := http.Get(ts.URL + "/participants?format=text")
		require.NoError(t, err)
		defer res.Body.Close()

		body, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		out := string(body)
		require.Contains(t, out, "DISPLAY")
		require.Contains(t, out, "alice")
		require.Contains(t, out, "u-2")
		require.Contains(t, out, "minute ago")
	})

	t.Run("empty", func(t *testing.T) {
		empty := newControlServer(t, &fakeController{}, nil)
		res, err := http.Get(empty.URL + "/participants")
		require.NoError(t, err)
		defer res.Body.Close()

		body, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		require.Equal(t, "[]", string(bytes.TrimSpace(body)))
	})
}
