package conference

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"

	"github.com/campuslink/confcore/pkg/rtc/types"
	"github.com/campuslink/confcore/pkg/signalling"
	"github.com/campuslink/confcore/pkg/testutils"
	"github.com/campuslink/confcore/pkg/videoroom"
)

const (
	testPublisherID = 1
	testPrivateID   = 99
)

type sentRequest struct {
	handle uint64
	req    videoroom.Request
	jsep   *webrtc.SessionDescription
}

type fakeGateway struct {
	lock     sync.Mutex
	nextID   uint64
	sessions []*fakeSession
	requests []sentRequest
	creating int

	createErr  error
	createGate chan struct{}

	publishers    []videoroom.Publisher
	joinReplies   []string
	createReply   string
	configureErr  func(audio, video bool) error
	configureGate chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{nextID: 100}
}

func (g *fakeGateway) CreateSession(ctx context.Context) (signalling.Session, error) {
	g.lock.Lock()
	g.creating++
	gate, err := g.createGate, g.createErr
	g.lock.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return g.newSession(), nil
}

func (g *fakeGateway) newSession() *fakeSession {
	g.lock.Lock()
	defer g.lock.Unlock()
	s := &fakeSession{gw: g, id: g.allocID()}
	g.sessions = append(g.sessions, s)
	return s
}

func (g *fakeGateway) allocID() uint64 {
	g.nextID++
	return g.nextID
}

func (g *fakeGateway) createCalls() int {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.creating
}

func (g *fakeGateway) session(i int) *fakeSession {
	g.lock.Lock()
	defer g.lock.Unlock()
	if i >= len(g.sessions) {
		return nil
	}
	return g.sessions[i]
}

func (g *fakeGateway) sessionCount() int {
	g.lock.Lock()
	defer g.lock.Unlock()
	return len(g.sessions)
}

func (g *fakeGateway) holdConfigure() {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.configureGate = make(chan struct{})
}

func (g *fakeGateway) releaseConfigure() {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.configureGate != nil {
		close(g.configureGate)
		g.configureGate = nil
	}
}

// sent returns the recorded requests of the given kind, in order.
func (g *fakeGateway) sent(request, ptype string) []sentRequest {
	g.lock.Lock()
	defer g.lock.Unlock()
	var out []sentRequest
	for _, r := range g.requests {
		if r.req.Request == request && (ptype == "" || r.req.PType == ptype) {
			out = append(out, r)
		}
	}
	return out
}

// subscriberHandle returns the handle that joined feedID most recently.
func (g *fakeGateway) subscriberHandle(feedID uint64) *fakeHandle {
	g.lock.Lock()
	defer g.lock.Unlock()
	var found *fakeHandle
	for _, s := range g.sessions {
		for _, h := range s.handles {
			if h.feed == feedID {
				found = h
			}
		}
	}
	return found
}

func (g *fakeGateway) reply(ctx context.Context, h *fakeHandle, req videoroom.Request, jsep *webrtc.SessionDescription) (*signalling.Message, error) {
	g.lock.Lock()
	g.requests = append(g.requests, sentRequest{handle: h.id, req: req, jsep: jsep})

	switch req.Request {
	case "join":
		if req.PType == videoroom.PTypeSubscriber {
			h.feed = req.Feed
			g.lock.Unlock()
			return &signalling.Message{
				Data: mustJSON(map[string]interface{}{"videoroom": "attached", "room": req.Room, "id": req.Feed}),
				JSEP: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"},
			}, nil
		}
		h.publisher = true
		if len(g.joinReplies) > 0 {
			data := g.joinReplies[0]
			g.joinReplies = g.joinReplies[1:]
			g.lock.Unlock()
			return &signalling.Message{Data: json.RawMessage(data)}, nil
		}
		publishers := g.publishers
		g.lock.Unlock()
		return &signalling.Message{Data: mustJSON(map[string]interface{}{
			"videoroom":  "joined",
			"room":       req.Room,
			"id":         testPublisherID,
			"private_id": testPrivateID,
			"publishers": publishers,
		})}, nil

	case "create":
		data := g.createReply
		g.lock.Unlock()
		if data == "" {
			data = fmt.Sprintf(`{"videoroom":"created","room":%d}`, req.Room)
		}
		return &signalling.Message{Data: json.RawMessage(data)}, nil

	case "configure":
		gate, configureErr := g.configureGate, g.configureErr
		g.lock.Unlock()
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if configureErr != nil {
			if err := configureErr(*req.Audio, *req.Video); err != nil {
				return &signalling.Message{Data: mustJSON(map[string]interface{}{
					"videoroom":  "event",
					"error_code": 432,
					"error":      err.Error(),
				})}, nil
			}
		}
		return &signalling.Message{
			Data: json.RawMessage(`{"videoroom":"event","configured":"ok"}`),
			JSEP: &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"},
		}, nil

	case "start":
		g.lock.Unlock()
		return &signalling.Message{Data: json.RawMessage(`{"videoroom":"event","started":"ok"}`)}, nil

	case "leave":
		g.lock.Unlock()
		return &signalling.Message{Data: json.RawMessage(`{"videoroom":"event","leaving":"ok"}`)}, nil
	}

	g.lock.Unlock()
	return nil, errors.Errorf("unexpected request %s", req.Request)
}

type fakeSession struct {
	gw          *fakeGateway
	id          uint64
	handles     []*fakeHandle
	destroyed   int
	onDestroyed func()
}

func (s *fakeSession) ID() uint64 { return s.id }

func (s *fakeSession) Attach(_ context.Context, plugin string) (signalling.Handle, error) {
	s.gw.lock.Lock()
	defer s.gw.lock.Unlock()
	if s.destroyed > 0 {
		return nil, signalling.ErrSessionClosed
	}
	h := &fakeHandle{session: s, id: s.gw.allocID()}
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *fakeSession) Destroy(_ context.Context) error {
	s.gw.lock.Lock()
	defer s.gw.lock.Unlock()
	s.destroyed++
	return nil
}

func (s *fakeSession) OnDestroyed(f func()) {
	s.gw.lock.Lock()
	defer s.gw.lock.Unlock()
	s.onDestroyed = f
}

func (s *fakeSession) destroyCount() int {
	s.gw.lock.Lock()
	defer s.gw.lock.Unlock()
	return s.destroyed
}

func (s *fakeSession) handleCount() int {
	s.gw.lock.Lock()
	defer s.gw.lock.Unlock()
	return len(s.handles)
}

func (s *fakeSession) publisherHandle() *fakeHandle {
	s.gw.lock.Lock()
	defer s.gw.lock.Unlock()
	for _, h := range s.handles {
		if h.publisher {
			return h
		}
	}
	return nil
}

// remoteDestroy simulates the gateway dropping the session.
func (s *fakeSession) remoteDestroy() {
	s.gw.lock.Lock()
	f := s.onDestroyed
	s.gw.lock.Unlock()
	if f != nil {
		f()
	}
}

type fakeHandle struct {
	session   *fakeSession
	id        uint64
	feed      uint64
	publisher bool
	hangups   int
	detaches  int
	onMessage func(msg *signalling.Message)
	onCleanup func()
}

func (h *fakeHandle) ID() uint64 { return h.id }

func (h *fakeHandle) Send(ctx context.Context, body interface{}, jsep *webrtc.SessionDescription) (*signalling.Message, error) {
	req, ok := body.(videoroom.Request)
	if !ok {
		return nil, errors.Errorf("unexpected body %T", body)
	}
	return h.session.gw.reply(ctx, h, req, jsep)
}

func (h *fakeHandle) Hangup(_ context.Context) error {
	h.session.gw.lock.Lock()
	defer h.session.gw.lock.Unlock()
	h.hangups++
	return nil
}

func (h *fakeHandle) Detach(_ context.Context) error {
	h.session.gw.lock.Lock()
	defer h.session.gw.lock.Unlock()
	h.detaches++
	return nil
}

func (h *fakeHandle) OnMessage(f func(msg *signalling.Message)) {
	h.session.gw.lock.Lock()
	defer h.session.gw.lock.Unlock()
	h.onMessage = f
}

func (h *fakeHandle) OnCleanup(f func()) {
	h.session.gw.lock.Lock()
	defer h.session.gw.lock.Unlock()
	h.onCleanup = f
}

func (h *fakeHandle) counts() (hangups int, detaches int) {
	h.session.gw.lock.Lock()
	defer h.session.gw.lock.Unlock()
	return h.hangups, h.detaches
}

func (h *fakeHandle) push(data string) {
	h.session.gw.lock.Lock()
	f := h.onMessage
	h.session.gw.lock.Unlock()
	f(&signalling.Message{Data: json.RawMessage(data)})
}

func (h *fakeHandle) cleanup() {
	h.session.gw.lock.Lock()
	f := h.onCleanup
	h.session.gw.lock.Unlock()
	f()
}

type fakeMedia struct {
	unsupported bool

	lock        sync.Mutex
	publishers  []*fakePublisherPeer
	subscribers []*fakeSubscriberPeer
	answerErr   map[uint64]error
}

func (m *fakeMedia) Supported() bool {
	return !m.unsupported
}

func (m *fakeMedia) NewPublisher() (types.PublisherPeer, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	p := &fakePublisherPeer{enabled: map[webrtc.RTPCodecType]bool{
		webrtc.RTPCodecTypeAudio: true,
		webrtc.RTPCodecTypeVideo: true,
	}}
	m.publishers = append(m.publishers, p)
	return p, nil
}

func (m *fakeMedia) NewSubscriber(feedID uint64, display string) (types.SubscriberPeer, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	s := &fakeSubscriberPeer{feedID: feedID, display: display, answerErr: m.answerErr[feedID]}
	m.subscribers = append(m.subscribers, s)
	return s, nil
}

func (m *fakeMedia) publisher(i int) *fakePublisherPeer {
	m.lock.Lock()
	defer m.lock.Unlock()
	if i >= len(m.publishers) {
		return nil
	}
	return m.publishers[i]
}

func (m *fakeMedia) subscriber(feedID uint64) *fakeSubscriberPeer {
	m.lock.Lock()
	defer m.lock.Unlock()
	var found *fakeSubscriberPeer
	for _, s := range m.subscribers {
		if s.feedID == feedID {
			found = s
		}
	}
	return found
}

type fakePublisherPeer struct {
	lock    sync.Mutex
	offers  [][2]bool
	answers int
	enabled map[webrtc.RTPCodecType]bool
	stopped int
	closed  int
}

func (p *fakePublisherPeer) CreateOffer(_ context.Context, audio, video bool) (*webrtc.SessionDescription, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.offers = append(p.offers, [2]bool{audio, video})
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (p *fakePublisherPeer) SetAnswer(_ webrtc.SessionDescription) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.answers++
	return nil
}

func (p *fakePublisherPeer) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.enabled[kind] = enabled
}

func (p *fakePublisherPeer) StopTracks() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.stopped++
}

func (p *fakePublisherPeer) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.closed++
	return nil
}

func (p *fakePublisherPeer) isEnabled(kind webrtc.RTPCodecType) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.enabled[kind]
}

func (p *fakePublisherPeer) stopCount() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.stopped
}

type fakeSubscriberPeer struct {
	feedID    uint64
	display   string
	answerErr error

	lock    sync.Mutex
	onReady func(stream *types.RemoteStream)
	closed  int
}

func (s *fakeSubscriberPeer) CreateAnswer(_ context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if s.answerErr != nil {
		return nil, s.answerErr
	}
	s.lock.Lock()
	f := s.onReady
	s.lock.Unlock()
	if f != nil {
		f(&types.RemoteStream{FeedID: s.feedID, Display: s.display})
	}
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (s *fakeSubscriberPeer) OnStreamReady(f func(stream *types.RemoteStream)) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.onReady = f
}

func (s *fakeSubscriberPeer) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed++
	return nil
}

func (s *fakeSubscriberPeer) closeCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.closed
}

type fakeSink struct {
	lock     sync.Mutex
	attached map[uint64]*types.RemoteStream
	detached []uint64
}

func newFakeSink() *fakeSink {
	return &fakeSink{attached: make(map[uint64]*types.RemoteStream)}
}

func (s *fakeSink) Attach(feedID uint64, stream *types.RemoteStream) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.attached[feedID] = stream
}

func (s *fakeSink) Detach(feedID uint64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.attached, feedID)
	s.detached = append(s.detached, feedID)
}

func (s *fakeSink) isAttached(feedID uint64) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, ok := s.attached[feedID]
	return ok
}

func (s *fakeSink) detachCount(feedID uint64) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	n := 0
	for _, id := range s.detached {
		if id == feedID {
			n++
		}
	}
	return n
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func newTestOrchestrator(t *testing.T, gw *fakeGateway, media *fakeMedia, sink *fakeSink) *Orchestrator {
	t.Helper()
	o := NewOrchestrator(OrchestratorParams{
		Gateway:        gw,
		Media:          media,
		Sink:           sink,
		Logger:         logger.GetLogger(),
		RoomPublishers: 6,
		RoomBitrate:    128000,
		PublishAudio:   true,
		PublishVideo:   true,
		RequestTimeout: time.Second,
	})
	t.Cleanup(o.Close)
	return o
}

// inLoop runs f as a turn of o's event loop and waits for it.
func inLoop(o *Orchestrator, f func()) {
	done := make(chan struct{})
	if !o.loop.ops.Enqueue(func() {
		f()
		close(done)
	}) {
		return
	}
	<-done
}

func waitForState(t *testing.T, o *Orchestrator, expected ConnectionState) {
	t.Helper()
	testutils.WithTimeout(t, func() string {
		if s := o.State().ConnectionState; s != expected {
			return fmt.Sprintf("connection state %s, expected %s", s, expected)
		}
		return ""
	})
}

func joinAndConnect(t *testing.T, o *Orchestrator) {
	t.Helper()
	o.JoinRoom(1234, "alice")
	waitForState(t, o, Connected)
}
