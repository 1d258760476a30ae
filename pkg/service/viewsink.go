package service

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/livekit/protocol/logger"

	"github.com/campuslink/confcore/pkg/conference"
	"github.com/campuslink/confcore/pkg/rtc/types"
)

const (
	pingFrequency = 10 * time.Second
	pingTimeout   = 2 * time.Second
	writeWait     = 5 * time.Second

	clientBuffer = 32
)

const (
	EventAttach = "attach"
	EventDetach = "detach"
	EventState  = "state"
)

type TrackInfo struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	MimeType string `json:"mimeType,omitempty"`
}

type ViewEvent struct {
	Type    string         `json:"type"`
	FeedID  uint64         `json:"feedId,omitempty"`
	Display string         `json:"display,omitempty"`
	Tracks  []TrackInfo    `json:"tracks,omitempty"`
	State   *StateResponse `json:"state,omitempty"`
}

type viewClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *viewClient) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// ViewSink renders remote feeds for a headless agent: every attach and
// detach, plus state changes, is streamed to websocket clients on /events.
type ViewSink struct {
	logger   logger.Logger
	upgrader websocket.Upgrader

	lock    sync.Mutex
	feeds   map[uint64]ViewEvent
	state   *StateResponse
	clients map[*viewClient]struct{}
}

func NewViewSink(l logger.Logger) *ViewSink {
	if l == nil {
		l = logger.GetLogger()
	}
	return &ViewSink{
		logger: l.WithName("viewsink"),
		upgrader: websocket.Upgrader{
			// the control API is local, origin checks are left to CORS
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		feeds:   make(map[uint64]ViewEvent),
		clients: make(map[*viewClient]struct{}),
	}
}

func (s *ViewSink) Attach(feedID uint64, stream *types.RemoteStream) {
	ev := ViewEvent{
		Type:   EventAttach,
		FeedID: feedID,
	}
	if stream != nil {
		ev.Display = stream.Display
		for _, t := range stream.Tracks {
			if t == nil {
				continue
			}
			ev.Tracks = append(ev.Tracks, TrackInfo{
				ID:       t.ID(),
				Kind:     t.Kind().String(),
				MimeType: t.Codec().MimeType,
			})
		}
	}

	s.lock.Lock()
	s.feeds[feedID] = ev
	s.lock.Unlock()

	s.logger.Debugw("feed attached", "feedID", feedID, "display", ev.Display, "tracks", len(ev.Tracks))
	s.broadcast(ev)
}

func (s *ViewSink) Detach(feedID uint64) {
	s.lock.Lock()
	_, ok := s.feeds[feedID]
	delete(s.feeds, feedID)
	s.lock.Unlock()
	if !ok {
		return
	}

	s.logger.Debugw("feed detached", "feedID", feedID)
	s.broadcast(ViewEvent{Type: EventDetach, FeedID: feedID})
}

// OnState is registered as an orchestrator state observer.
func (s *ViewSink) OnState(state conference.State) {
	res := newStateResponse(state)
	s.lock.Lock()
	s.state = res
	s.lock.Unlock()

	s.broadcast(ViewEvent{Type: EventState, State: res})
}

func (s *ViewSink) Attached() []uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	ids := make([]uint64, 0, len(s.feeds))
	for id := range s.feeds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *ViewSink) NumClients() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.clients)
}

func (s *ViewSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("could not upgrade events connection", err)
		return
	}

	c := &viewClient{
		conn: conn,
		send: make(chan []byte, clientBuffer),
		done: make(chan struct{}),
	}

	// register and snapshot under one lock so no event is missed or repeated
	s.lock.Lock()
	for _, ev := range s.snapshotLocked() {
		if payload, err := json.Marshal(ev); err == nil {
			c.send <- payload
		}
	}
	s.clients[c] = struct{}{}
	s.lock.Unlock()

	s.logger.Debugw("events client connected", "remote", r.RemoteAddr)

	go s.readWorker(c)
	s.writeWorker(c)

	s.lock.Lock()
	delete(s.clients, c)
	s.lock.Unlock()
	_ = conn.Close()
	s.logger.Debugw("events client disconnected", "remote", r.RemoteAddr)
}

func (s *ViewSink) snapshotLocked() []ViewEvent {
	events := make([]ViewEvent, 0, len(s.feeds)+1)
	if s.state != nil {
		events = append(events, ViewEvent{Type: EventState, State: s.state})
	}
	ids := make([]uint64, 0, len(s.feeds))
	for id := range s.feeds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		events = append(events, s.feeds[id])
	}
	if len(events) > clientBuffer {
		events = events[len(events)-clientBuffer:]
	}
	return events
}

func (s *ViewSink) broadcast(ev ViewEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Errorw("could not marshal view event", err, "type", ev.Type)
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	for c := range s.clients {
		select {
		case c.send <- payload:
		default:
			// a client that cannot keep up is dropped
			s.logger.Infow("dropping slow events client")
			c.close()
		}
	}
}

// readWorker only exists to notice the peer going away.
func (s *ViewSink) readWorker(c *viewClient) {
	defer c.close()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !IsWebSocketCloseError(err) {
				s.logger.Debugw("events client read failed", "error", err)
			}
			return
		}
	}
}

func (s *ViewSink) writeWorker(c *viewClient) {
	ticker := time.NewTicker(pingFrequency)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte(""), time.Now().Add(pingTimeout)); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(pingTimeout),
			)
			return
		}
	}
}

// CloseAll disconnects every events client.
func (s *ViewSink) CloseAll() {
	s.lock.Lock()
	defer s.lock.Unlock()
	for c := range s.clients {
		c.close()
	}
}

// IsWebSocketCloseError checks that error is normal/expected closure
func IsWebSocketCloseError(err error) bool {
	return errors.Is(err, io.EOF) ||
		strings.HasSuffix(err.Error(), "use of closed network connection") ||
		strings.HasSuffix(err.Error(), "connection reset by peer") ||
		websocket.IsCloseError(
			err,
			websocket.CloseAbnormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNormalClosure,
			websocket.CloseNoStatusReceived,
		)
}
