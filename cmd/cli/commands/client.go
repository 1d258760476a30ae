package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/campuslink/confcore/pkg/mediastate"
	"github.com/campuslink/confcore/pkg/service"
)

const requestTimeout = 10 * time.Second

// ControlClient talks to a running agent's control API.
type ControlClient struct {
	host string
	http *http.Client
}

func NewControlClient(host string) *ControlClient {
	return &ControlClient{
		host: strings.TrimSuffix(host, "/"),
		http: &http.Client{Timeout: requestTimeout},
	}
}

func (c *ControlClient) Join(ctx context.Context, room uint64, display string) error {
	body, err := json.Marshal(service.JoinRequest{Room: room, Display: display})
	if err != nil {
		return err
	}
	return c.post(ctx, "/room/join", body)
}

func (c *ControlClient) Leave(ctx context.Context) error {
	return c.post(ctx, "/room/leave", nil)
}

func (c *ControlClient) ToggleAudio(ctx context.Context) error {
	return c.post(ctx, "/room/audio", nil)
}

func (c *ControlClient) ToggleVideo(ctx context.Context) error {
	return c.post(ctx, "/room/video", nil)
}

func (c *ControlClient) State(ctx context.Context) (*service.StateResponse, error) {
	var state service.StateResponse
	if err := c.get(ctx, "/room", &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *ControlClient) Participants(ctx context.Context) ([]mediastate.ParticipantMediaState, error) {
	var list []mediastate.ParticipantMediaState
	if err := c.get(ctx, "/participants", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Events connects to the agent's event stream.
func (c *ControlClient) Events(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.host + "/events")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

func (c *ControlClient) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return checkResponse(res)
}

func (c *ControlClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+path, nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if err := checkResponse(res); err != nil {
		return err
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return errors.Wrap(err, "could not decode response")
	}
	return nil
}

func checkResponse(res *http.Response) error {
	if res.StatusCode < http.StatusBadRequest {
		return nil
	}
	var e struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(res.Body)
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return fmt.Errorf("agent returned %d: %s", res.StatusCode, e.Error)
	}
	return fmt.Errorf("agent returned %d", res.StatusCode)
}
