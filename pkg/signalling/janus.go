package signalling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/logger"

	"github.com/campuslink/confcore/pkg/telemetry/prometheus"
	"github.com/campuslink/confcore/pkg/utils"
)

const (
	Subprotocol = "janus-protocol"

	writeWait                = 10 * time.Second
	defaultKeepaliveInterval = 25 * time.Second
	keepaliveTimeout         = 10 * time.Second
	transactionBuffer        = 4
)

type ClientParams struct {
	URL               string
	KeepaliveInterval time.Duration
	Dialer            *websocket.Dialer
	Logger            logger.Logger
}

// JanusClient is a Gateway speaking the Janus websocket API. The websocket is
// dialed lazily and redialed by the next CreateSession after it drops.
type JanusClient struct {
	params ClientParams
	logger logger.Logger

	lock sync.Mutex
	conn *janusConn
}

func NewJanusClient(params ClientParams) *JanusClient {
	if params.KeepaliveInterval <= 0 {
		params.KeepaliveInterval = defaultKeepaliveInterval
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	return &JanusClient{
		params: params,
		logger: params.Logger.WithValues("gateway", params.URL),
	}
}

func (c *JanusClient) CreateSession(ctx context.Context) (Session, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}
	return conn.createSession(ctx)
}

func (c *JanusClient) Close() error {
	c.lock.Lock()
	conn := c.conn
	c.conn = nil
	c.lock.Unlock()

	if conn == nil {
		return nil
	}
	return conn.close()
}

func (c *JanusClient) connection(ctx context.Context) (*janusConn, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.conn != nil && !c.conn.closed.Load() {
		return c.conn, nil
	}

	dialer := websocket.DefaultDialer
	if c.params.Dialer != nil {
		dialer = c.params.Dialer
	}
	d := *dialer
	d.Subprotocols = []string{Subprotocol}

	ws, _, err := d.DialContext(ctx, c.params.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not dial gateway")
	}
	c.logger.Infow("connected to gateway")

	c.conn = newJanusConn(ws, c.params.KeepaliveInterval, c.logger)
	return c.conn, nil
}

// ------------------------------------------------

type request struct {
	Janus       string                     `json:"janus"`
	Transaction string                     `json:"transaction"`
	SessionID   uint64                     `json:"session_id,omitempty"`
	HandleID    uint64                     `json:"handle_id,omitempty"`
	Plugin      string                     `json:"plugin,omitempty"`
	Body        interface{}                `json:"body,omitempty"`
	JSEP        *webrtc.SessionDescription `json:"jsep,omitempty"`
}

type response struct {
	Janus       string `json:"janus"`
	Transaction string `json:"transaction"`
	SessionID   uint64 `json:"session_id"`
	Sender      uint64 `json:"sender"`
	Data        struct {
		ID uint64 `json:"id"`
	} `json:"data"`
	PluginData *struct {
		Plugin string          `json:"plugin"`
		Data   json.RawMessage `json:"data"`
	} `json:"plugindata"`
	JSEP  *webrtc.SessionDescription `json:"jsep"`
	Error *struct {
		Code   int    `json:"code"`
		Reason string `json:"reason"`
	} `json:"error"`
	Reason string `json:"reason"`
}

type transaction struct {
	replies chan *response
}

type janusConn struct {
	logger    logger.Logger
	ws        *websocket.Conn
	keepalive time.Duration

	writeLock sync.Mutex

	lock         sync.Mutex
	transactions map[string]*transaction
	sessions     map[uint64]*janusSession

	closed atomic.Bool
	done   chan struct{}
}

func newJanusConn(ws *websocket.Conn, keepalive time.Duration, l logger.Logger) *janusConn {
	c := &janusConn{
		logger:       l,
		ws:           ws,
		keepalive:    keepalive,
		transactions: make(map[string]*transaction),
		sessions:     make(map[uint64]*janusSession),
		done:         make(chan struct{}),
	}
	go c.readWorker()
	return c
}

func (c *janusConn) close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.writeLock.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	c.writeLock.Unlock()
	return c.ws.Close()
}

func (c *janusConn) write(req *request) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(req); err != nil {
		return errors.Wrap(err, "could not write to gateway")
	}
	return nil
}

// call sends req and waits for its final reply. An ack is final only for a
// keepalive; anything else acked is answered later by an event carrying the
// same transaction.
func (c *janusConn) call(ctx context.Context, req *request) (*response, error) {
	req.Transaction = utils.NewGuid(utils.TransactionPrefix)
	tx := &transaction{replies: make(chan *response, transactionBuffer)}

	c.lock.Lock()
	c.transactions[req.Transaction] = tx
	c.lock.Unlock()
	defer func() {
		c.lock.Lock()
		delete(c.transactions, req.Transaction)
		c.lock.Unlock()
	}()

	if err := c.write(req); err != nil {
		prometheus.RecordSignallingRequest(req.Janus, "error")
		return nil, err
	}

	for {
		select {
		case res := <-tx.replies:
			switch res.Janus {
			case "ack":
				if req.Janus == "keepalive" {
					return res, nil
				}
			case "error":
				prometheus.RecordSignallingRequest(req.Janus, "error")
				gerr := &GatewayError{}
				if res.Error != nil {
					gerr.Code = res.Error.Code
					gerr.Reason = res.Error.Reason
				}
				return nil, gerr
			default:
				prometheus.RecordSignallingRequest(req.Janus, "success")
				return res, nil
			}

		case <-ctx.Done():
			prometheus.RecordSignallingRequest(req.Janus, "timeout")
			return nil, ctx.Err()

		case <-c.done:
			prometheus.RecordSignallingRequest(req.Janus, "error")
			return nil, ErrConnectionClosed
		}
	}
}

func (c *janusConn) readWorker() {
	defer c.shutdown()

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warnw("gateway connection lost", err)
			}
			return
		}

		res := &response{}
		if err := json.Unmarshal(payload, res); err != nil {
			c.logger.Warnw("could not decode gateway message", err)
			continue
		}
		c.dispatch(res)
	}
}

func (c *janusConn) dispatch(res *response) {
	if res.Transaction != "" {
		c.lock.Lock()
		tx := c.transactions[res.Transaction]
		c.lock.Unlock()
		if tx != nil {
			select {
			case tx.replies <- res:
			default:
				c.logger.Warnw("dropping gateway reply, transaction backlog full", nil,
					"transaction", res.Transaction, "janus", res.Janus)
			}
			return
		}
	}

	switch res.Janus {
	case "event":
		if h := c.handle(res.SessionID, res.Sender); h != nil {
			msg := &Message{JSEP: res.JSEP}
			if res.PluginData != nil {
				msg.Data = res.PluginData.Data
			}
			h.deliver(msg)
		}

	case "hangup", "detached":
		if h := c.handle(res.SessionID, res.Sender); h != nil {
			h.remoteCleanup(res.Janus, res.Reason)
		}

	case "timeout":
		if s := c.session(res.SessionID); s != nil {
			s.remoteDestroyed("timeout")
		}

	case "webrtcup", "media", "slowlink":
		c.logger.Debugw("gateway notification", "janus", res.Janus,
			"session", res.SessionID, "handle", res.Sender, "reason", res.Reason)

	default:
		c.logger.Debugw("unhandled gateway message", "janus", res.Janus, "transaction", res.Transaction)
	}
}

func (c *janusConn) shutdown() {
	c.closed.Store(true)
	close(c.done)
	_ = c.ws.Close()

	c.lock.Lock()
	sessions := make([]*janusSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.lock.Unlock()

	for _, s := range sessions {
		s.remoteDestroyed("connection closed")
	}
}

func (c *janusConn) session(id uint64) *janusSession {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.sessions[id]
}

func (c *janusConn) handle(sessionID, handleID uint64) *janusHandle {
	s := c.session(sessionID)
	if s == nil {
		return nil
	}
	return s.handle(handleID)
}

func (c *janusConn) createSession(ctx context.Context) (*janusSession, error) {
	res, err := c.call(ctx, &request{Janus: "create"})
	if err != nil {
		return nil, err
	}
	if res.Data.ID == 0 {
		return nil, ErrMissingID
	}

	s := &janusSession{
		conn:    c,
		id:      res.Data.ID,
		logger:  c.logger.WithValues("session", res.Data.ID),
		handles: make(map[uint64]*janusHandle),
		stop:    make(chan struct{}),
	}

	c.lock.Lock()
	c.sessions[s.id] = s
	c.lock.Unlock()

	go s.keepaliveWorker(c.keepalive)
	s.logger.Debugw("session created")
	return s, nil
}

func (c *janusConn) removeSession(id uint64) {
	c.lock.Lock()
	delete(c.sessions, id)
	c.lock.Unlock()
}

// ------------------------------------------------

type janusSession struct {
	conn   *janusConn
	id     uint64
	logger logger.Logger

	lock        sync.Mutex
	handles     map[uint64]*janusHandle
	onDestroyed func()

	destroyed atomic.Bool
	stop      chan struct{}
}

func (s *janusSession) ID() uint64 {
	return s.id
}

func (s *janusSession) OnDestroyed(f func()) {
	s.lock.Lock()
	s.onDestroyed = f
	s.lock.Unlock()
}

func (s *janusSession) Attach(ctx context.Context, plugin string) (Handle, error) {
	if s.destroyed.Load() {
		return nil, ErrSessionClosed
	}

	res, err := s.conn.call(ctx, &request{
		Janus:     "attach",
		SessionID: s.id,
		Plugin:    plugin,
	})
	if err != nil {
		return nil, err
	}
	if res.Data.ID == 0 {
		return nil, ErrMissingID
	}

	h := &janusHandle{
		session: s,
		id:      res.Data.ID,
	}

	s.lock.Lock()
	s.handles[h.id] = h
	s.lock.Unlock()

	s.logger.Debugw("handle attached", "handle", h.id, "plugin", plugin)
	return h, nil
}

func (s *janusSession) Destroy(ctx context.Context) error {
	if s.destroyed.Swap(true) {
		return ErrSessionClosed
	}
	s.release()

	_, err := s.conn.call(ctx, &request{
		Janus:     "destroy",
		SessionID: s.id,
	})
	if err == nil {
		s.logger.Debugw("session destroyed")
	}
	return err
}

func (s *janusSession) remoteDestroyed(reason string) {
	if s.destroyed.Swap(true) {
		return
	}
	s.release()
	s.logger.Infow("session dropped by gateway", "reason", reason)

	s.lock.Lock()
	onDestroyed := s.onDestroyed
	s.lock.Unlock()
	if onDestroyed != nil {
		onDestroyed()
	}
}

func (s *janusSession) release() {
	close(s.stop)
	s.conn.removeSession(s.id)

	s.lock.Lock()
	s.handles = make(map[uint64]*janusHandle)
	s.lock.Unlock()
}

func (s *janusSession) handle(id uint64) *janusHandle {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.handles[id]
}

func (s *janusSession) removeHandle(id uint64) {
	s.lock.Lock()
	delete(s.handles, id)
	s.lock.Unlock()
}

func (s *janusSession) keepaliveWorker(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), keepaliveTimeout)
			_, err := s.conn.call(ctx, &request{
				Janus:     "keepalive",
				SessionID: s.id,
			})
			cancel()
			if errors.Is(err, ErrConnectionClosed) {
				return
			}
			if err != nil {
				s.logger.Warnw("keepalive failed", err)
			}
		}
	}
}

// ------------------------------------------------

type janusHandle struct {
	session *janusSession
	id      uint64

	lock      sync.Mutex
	onMessage func(msg *Message)
	onCleanup func()

	closing   atomic.Bool
	cleanedUp atomic.Bool
}

func (h *janusHandle) ID() uint64 {
	return h.id
}

func (h *janusHandle) OnMessage(f func(msg *Message)) {
	h.lock.Lock()
	h.onMessage = f
	h.lock.Unlock()
}

func (h *janusHandle) OnCleanup(f func()) {
	h.lock.Lock()
	h.onCleanup = f
	h.lock.Unlock()
}

func (h *janusHandle) Send(ctx context.Context, body interface{}, jsep *webrtc.SessionDescription) (*Message, error) {
	if h.session.destroyed.Load() {
		return nil, ErrSessionClosed
	}

	res, err := h.session.conn.call(ctx, &request{
		Janus:     "message",
		SessionID: h.session.id,
		HandleID:  h.id,
		Body:      body,
		JSEP:      jsep,
	})
	if err != nil {
		return nil, err
	}

	msg := &Message{JSEP: res.JSEP}
	if res.PluginData != nil {
		msg.Data = res.PluginData.Data
	}
	return msg, nil
}

func (h *janusHandle) Hangup(ctx context.Context) error {
	h.closing.Store(true)
	if h.session.destroyed.Load() {
		return ErrSessionClosed
	}

	_, err := h.session.conn.call(ctx, &request{
		Janus:     "hangup",
		SessionID: h.session.id,
		HandleID:  h.id,
	})
	return err
}

func (h *janusHandle) Detach(ctx context.Context) error {
	h.closing.Store(true)
	h.session.removeHandle(h.id)
	if h.session.destroyed.Load() {
		return ErrSessionClosed
	}

	_, err := h.session.conn.call(ctx, &request{
		Janus:     "detach",
		SessionID: h.session.id,
		HandleID:  h.id,
	})
	return err
}

func (h *janusHandle) deliver(msg *Message) {
	h.lock.Lock()
	onMessage := h.onMessage
	h.lock.Unlock()

	if onMessage != nil {
		onMessage(msg)
	}
}

func (h *janusHandle) remoteCleanup(kind string, reason string) {
	if kind == "detached" {
		h.session.removeHandle(h.id)
	}
	if h.closing.Load() || h.cleanedUp.Swap(true) {
		return
	}
	h.session.logger.Debugw("handle cleaned up by gateway", "handle", h.id, "kind", kind, "reason", reason)

	h.lock.Lock()
	onCleanup := h.onCleanup
	h.lock.Unlock()
	if onCleanup != nil {
		onCleanup()
	}
}
