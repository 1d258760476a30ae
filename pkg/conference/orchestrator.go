package conference

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"

	"github.com/campuslink/confcore/pkg/rtc/types"
	"github.com/campuslink/confcore/pkg/signalling"
	"github.com/campuslink/confcore/pkg/telemetry/prometheus"
	"github.com/campuslink/confcore/pkg/utils"
	"github.com/campuslink/confcore/pkg/videoroom"
)

type OrchestratorParams struct {
	Gateway signalling.Gateway
	Media   types.MediaEngine
	Sink    ParticipantViewSink
	Logger  logger.Logger

	// used when a room has to be created before it can be joined
	RoomPublishers int
	RoomBitrate    uint32

	PublishAudio   bool
	PublishVideo   bool
	RequestTimeout time.Duration
	Workers        int
}

type publisherChannel struct {
	handle       signalling.Handle
	peer         types.PublisherPeer
	desiredAudio bool
	desiredVideo bool
	// set when the gateway already tore the handle down
	handleGone bool
	leaving    bool
}

// Orchestrator joins one videoroom, publishes the local stream and keeps a
// subscription for every other publisher. Public methods only schedule work
// and return immediately; outcomes are observed through State and
// OnStateChanged.
type Orchestrator struct {
	params      OrchestratorParams
	logger      logger.Logger
	loop        *eventLoop
	isSupported bool
	closeOnce   sync.Once

	// owned by the event loop
	state           ConnectionState
	failed          bool
	roomID          uint64
	display         string
	createAttempted bool
	session         signalling.Session
	publisher       *publisherChannel
	publisherID     uint64
	privateID       uint64
	feeds           *FeedRegistry
	reneg           *Renegotiator
	lastErr         error

	notifier *utils.ChangeNotifier[State]
	lock     sync.RWMutex
	snapshot State
}

func NewOrchestrator(params OrchestratorParams) *Orchestrator {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.RoomPublishers <= 0 {
		params.RoomPublishers = 10
	}
	l := params.Logger.WithName("conference")

	o := &Orchestrator{
		params:      params,
		logger:      l,
		loop:        newEventLoop(l, params.Workers, params.RequestTimeout),
		isSupported: params.Media != nil && params.Media.Supported(),
		notifier:    utils.NewChangeNotifier[State](),
	}
	o.feeds = newFeedRegistry(feedRegistryParams{
		Logger: l,
		Loop:   o.loop,
		Media:  params.Media,
		Sink:   params.Sink,
	})
	o.reneg = NewRenegotiator(RenegotiatorParams{
		Logger:     l,
		Desired:    o.desiredMedia,
		Exchange:   o.exchange,
		OnComplete: o.onRenegotiated,
	})
	o.snapshot = o.buildState()
	o.loop.afterTurn = o.publishState
	return o
}

func (o *Orchestrator) JoinRoom(roomID uint64, display string) {
	o.loop.post(func() {
		o.joinRoom(roomID, display)
	})
}

func (o *Orchestrator) LeaveRoom() {
	o.loop.post(o.leaveRoom)
}

func (o *Orchestrator) ToggleAudio() {
	o.loop.post(func() {
		o.toggle(webrtc.RTPCodecTypeAudio)
	})
}

func (o *Orchestrator) ToggleVideo() {
	o.loop.post(func() {
		o.toggle(webrtc.RTPCodecTypeVideo)
	})
}

// Close releases everything the orchestrator holds and waits for teardown to
// finish. Results of requests still in flight are disposed of.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.loop.post(func() {
			if o.hasResources() {
				o.cleanup(false)
			} else {
				o.loop.epoch++
				o.state = Idle
			}
			o.loop.closed = true
		})
		o.loop.close()
		o.logger.Debugw("orchestrator closed")
	})
}

func (o *Orchestrator) State() State {
	o.lock.RLock()
	defer o.lock.RUnlock()
	return o.snapshot
}

// OnStateChanged registers f under key. f runs on the orchestrator's event
// loop and must not block.
func (o *Orchestrator) OnStateChanged(key string, f func(State)) {
	o.notifier.AddObserver(key, f)
}

func (o *Orchestrator) RemoveStateObserver(key string) {
	o.notifier.RemoveObserver(key)
}

func (o *Orchestrator) joinRoom(roomID uint64, display string) {
	if !o.isSupported {
		o.setError(ErrNotSupported)
		return
	}
	if o.state != Idle {
		o.logger.Debugw("join already in progress", "state", o.state, "roomID", o.roomID)
		return
	}

	o.logger.Infow("joining room", "roomID", roomID, "display", display)
	o.failed = false
	o.lastErr = nil
	o.roomID = roomID
	o.display = display
	o.createAttempted = false
	o.setState(Connecting)
	o.feeds.ResetAll()

	epoch := o.loop.epoch
	o.loop.async(func(ctx context.Context) {
		session, err := o.params.Gateway.CreateSession(ctx)
		o.loop.deliver(epoch, func() {
			o.onSessionCreated(session, err)
		}, destroyOrphan(session, err))
	})
}

func (o *Orchestrator) onSessionCreated(session signalling.Session, err error) {
	if err != nil {
		o.fatal(errors.Wrapf(ErrJoinFailed, "create session: %v", err))
		return
	}
	o.session = session
	o.feeds.SetSession(session)

	epoch := o.loop.epoch
	session.OnDestroyed(func() {
		o.loop.deliver(epoch, o.onSessionDestroyed, nil)
	})

	o.loop.async(func(ctx context.Context) {
		handle, err := session.Attach(ctx, videoroom.Plugin)
		o.loop.deliver(epoch, func() {
			o.onPublisherAttached(handle, err)
		}, detachOrphan(handle))
	})
}

func (o *Orchestrator) onPublisherAttached(handle signalling.Handle, err error) {
	if err != nil {
		o.fatal(errors.Wrapf(ErrJoinFailed, "attach publisher: %v", err))
		return
	}

	peer, err := o.params.Media.NewPublisher()
	if err != nil {
		o.publisher = &publisherChannel{handle: handle}
		o.fatal(errors.Wrapf(ErrJoinFailed, "publisher peer: %v", err))
		return
	}
	o.publisher = &publisherChannel{
		handle:       handle,
		peer:         peer,
		desiredAudio: o.params.PublishAudio,
		desiredVideo: o.params.PublishVideo,
	}

	epoch := o.loop.epoch
	handle.OnMessage(func(msg *signalling.Message) {
		o.loop.deliver(epoch, func() {
			o.onRoomMessage(msg)
		}, nil)
	})
	handle.OnCleanup(func() {
		o.loop.deliver(epoch, o.onPublisherCleanup, nil)
	})

	o.sendJoin()
}

func (o *Orchestrator) sendJoin() {
	handle := o.publisher.handle
	req := videoroom.JoinPublisher(o.roomID, o.display)
	epoch := o.loop.epoch
	o.loop.async(func(ctx context.Context) {
		msg, err := handle.Send(ctx, req, nil)
		o.loop.deliver(epoch, func() {
			o.onJoinReply(msg, err)
		}, nil)
	})
}

func (o *Orchestrator) onJoinReply(msg *signalling.Message, err error) {
	if err != nil {
		o.fatal(errors.Wrapf(ErrJoinFailed, "%v", err))
		return
	}
	ev, err := videoroom.ParseEvent(msg.Data)
	if err != nil {
		o.fatal(errors.Wrapf(ErrJoinFailed, "%v", err))
		return
	}

	switch {
	case ev.IsRoomNotFound():
		if o.createAttempted {
			o.fatal(errors.Wrapf(ErrRoomNotFound, "room %d after create", o.roomID))
			return
		}
		o.createAttempted = true
		o.createRoom()
		return
	case ev.IsError():
		o.fatal(errors.Wrapf(ErrJoinFailed, "%d %s", ev.ErrorCode, ev.Error))
		return
	case ev.Kind != videoroom.KindJoined:
		o.fatal(errors.Wrapf(ErrJoinFailed, "unexpected reply %s", ev.Kind))
		return
	}

	o.publisherID = ev.ID
	o.privateID = ev.PrivateID
	o.feeds.SetPrivateID(ev.PrivateID)
	o.logger.Infow("joined room", "roomID", o.roomID, "publisherID", ev.ID, "publishers", len(ev.Publishers))

	o.addPublishers(ev.Publishers)
	o.reneg.Request()
}

func (o *Orchestrator) createRoom() {
	handle := o.publisher.handle
	req := videoroom.Create(o.roomID, o.params.RoomPublishers, o.params.RoomBitrate)
	epoch := o.loop.epoch
	o.logger.Infow("room not found, creating", "roomID", o.roomID)
	o.loop.async(func(ctx context.Context) {
		msg, err := handle.Send(ctx, req, nil)
		o.loop.deliver(epoch, func() {
			o.onRoomCreated(msg, err)
		}, nil)
	})
}

func (o *Orchestrator) onRoomCreated(msg *signalling.Message, err error) {
	if err != nil {
		o.fatal(errors.Wrapf(ErrRoomCreateFailed, "%v", err))
		return
	}
	ev, err := videoroom.ParseEvent(msg.Data)
	if err != nil {
		o.fatal(errors.Wrapf(ErrRoomCreateFailed, "%v", err))
		return
	}
	// someone else creating the room first is as good as creating it
	if ev.IsError() && ev.ErrorCode != videoroom.ErrorCodeRoomExists {
		o.fatal(errors.Wrapf(ErrRoomCreateFailed, "%d %s", ev.ErrorCode, ev.Error))
		return
	}
	if ev.Room != 0 && ev.Room != o.roomID {
		o.logger.Infow("room reassigned by gateway", "requested", o.roomID, "roomID", ev.Room)
		o.roomID = ev.Room
	}
	o.sendJoin()
}

func (o *Orchestrator) onRoomMessage(msg *signalling.Message) {
	ev, err := videoroom.ParseEvent(msg.Data)
	if err != nil {
		o.logger.Warnw("could not parse room event", err)
		return
	}

	if ev.Kind == videoroom.KindDestroyed {
		o.fatal(errors.Wrapf(ErrRoomNotFound, "room %d destroyed", o.roomID))
		return
	}
	if ev.IsError() {
		if ev.IsRoomNotFound() {
			o.fatal(errors.Wrapf(ErrRoomNotFound, "room %d", o.roomID))
			return
		}
		o.logger.Warnw("room error", nil, "code", ev.ErrorCode, "error", ev.Error)
		o.setError(errors.Errorf("room error %d: %s", ev.ErrorCode, ev.Error))
		return
	}

	o.addPublishers(ev.Publishers)
	if ev.Leaving != 0 && ev.Leaving != o.publisherID {
		o.feeds.DetachFeed(ev.Leaving, false)
	}
	if ev.Unpublished != 0 && ev.Unpublished != o.publisherID {
		o.feeds.DetachFeed(ev.Unpublished, false)
	}
}

func (o *Orchestrator) addPublishers(publishers []videoroom.Publisher) {
	for _, p := range publishers {
		if p.ID == o.publisherID {
			continue
		}
		o.feeds.EnsureFeed(p.ID, p.Display, o.roomID)
	}
}

func (o *Orchestrator) onPublisherCleanup() {
	if o.publisher == nil {
		return
	}
	o.logger.Warnw("publisher handle torn down by gateway", nil)
	o.publisher.handleGone = true
	o.fatal(ErrPublisherLost)
}

func (o *Orchestrator) onSessionDestroyed() {
	if o.session == nil {
		return
	}
	o.logger.Warnw("gateway session destroyed", nil, "roomID", o.roomID)
	prometheus.RecordError("session_lost")
	o.cleanup(true)
	o.failed = true
	o.setError(ErrSessionLost)
}

func (o *Orchestrator) leaveRoom() {
	if !o.hasResources() {
		if o.state == Connecting {
			// nothing acquired yet; whatever arrives later is an orphan
			o.loop.epoch++
			o.setState(Idle)
		}
		return
	}
	o.logger.Infow("leaving room", "roomID", o.roomID)
	if o.publisher != nil {
		o.publisher.leaving = true
	}
	o.cleanup(false)
}

func (o *Orchestrator) toggle(kind webrtc.RTPCodecType) {
	if o.state != Connected || o.publisher == nil {
		o.logger.Debugw("ignoring toggle while not connected", "kind", kind, "state", o.state)
		return
	}
	pub := o.publisher
	enabled := false
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		pub.desiredAudio = !pub.desiredAudio
		enabled = pub.desiredAudio
	case webrtc.RTPCodecTypeVideo:
		pub.desiredVideo = !pub.desiredVideo
		enabled = pub.desiredVideo
	default:
		return
	}
	pub.peer.SetTrackEnabled(kind, enabled)
	o.reneg.Request()
}

func (o *Orchestrator) desiredMedia() (bool, bool) {
	if o.publisher == nil {
		return false, false
	}
	return o.publisher.desiredAudio, o.publisher.desiredVideo
}

func (o *Orchestrator) exchange(generation uint64, audio, video bool) {
	pub := o.publisher
	if pub == nil {
		return
	}
	epoch := o.loop.epoch
	o.loop.async(func(ctx context.Context) {
		err := publish(ctx, pub, audio, video)
		o.loop.deliver(epoch, func() {
			o.reneg.Complete(generation, audio, video, err)
		}, nil)
	})
}

// publish runs one configure exchange on the publisher handle.
func publish(ctx context.Context, pub *publisherChannel, audio, video bool) error {
	offer, err := pub.peer.CreateOffer(ctx, audio, video)
	if err != nil {
		return errors.Wrap(err, "could not create offer")
	}
	msg, err := pub.handle.Send(ctx, videoroom.Configure(audio, video), offer)
	if err != nil {
		return errors.Wrap(err, "configure")
	}
	ev, err := videoroom.ParseEvent(msg.Data)
	if err != nil {
		return err
	}
	if ev.IsError() {
		return errors.Errorf("configure rejected: %d %s", ev.ErrorCode, ev.Error)
	}
	if msg.JSEP == nil || msg.JSEP.Type != webrtc.SDPTypeAnswer {
		return ErrNoAnswer
	}
	return pub.peer.SetAnswer(*msg.JSEP)
}

func (o *Orchestrator) onRenegotiated(audio, video bool, err error) {
	pub := o.publisher
	if pub == nil {
		return
	}
	if err != nil {
		o.logger.Warnw("renegotiation failed", err, "audio", audio, "video", video)
		o.setError(errors.Wrapf(ErrRenegotiationFailed, "%v", err))
		return
	}

	if pub.desiredAudio && !audio {
		o.logger.Infow("publishing without audio")
		pub.desiredAudio = false
		pub.peer.SetTrackEnabled(webrtc.RTPCodecTypeAudio, false)
	}
	if o.state == Connecting {
		o.logger.Infow("publishing", "roomID", o.roomID, "audio", audio, "video", video)
		o.setState(Connected)
	}
}

// fatal tears the session down and leaves err in the error slot.
func (o *Orchestrator) fatal(err error) {
	o.logger.Warnw("conference failed", err, "roomID", o.roomID)
	prometheus.RecordError("fatal")
	o.cleanup(false)
	o.failed = true
	o.setError(err)
}

func (o *Orchestrator) hasResources() bool {
	return o.session != nil || o.publisher != nil || o.feeds.Len() > 0
}

func (o *Orchestrator) setState(state ConnectionState) {
	if o.state == state {
		return
	}
	prometheus.RecordSessionState(o.state.String(), state.String())
	o.state = state
}

// setError keeps the most recent error only.
func (o *Orchestrator) setError(err error) {
	o.lastErr = err
}

func (o *Orchestrator) buildState() State {
	state := State{
		ConnectionState: o.state,
		IsSupported:     o.isSupported,
		RoomID:          o.roomID,
		Feeds:           o.feeds.Feeds(),
		Err:             o.lastErr,
	}
	if o.state == Idle {
		state.RoomID = 0
		if o.failed {
			state.ConnectionState = Failed
		}
	}
	if o.publisher != nil {
		state.AudioEnabled = o.publisher.desiredAudio
		state.VideoEnabled = o.publisher.desiredVideo
	}
	return state
}

func (o *Orchestrator) publishState() {
	state := o.buildState()

	o.lock.Lock()
	changed := !state.Equal(o.snapshot)
	o.snapshot = state
	o.lock.Unlock()

	if changed {
		o.notifier.NotifyChanged(state)
	}
}

func destroyOrphan(session signalling.Session, err error) func(ctx context.Context) {
	if err != nil || session == nil {
		return nil
	}
	return func(ctx context.Context) {
		_ = session.Destroy(ctx)
	}
}
