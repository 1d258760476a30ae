package conference

import (
	"context"
	"sort"

	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
	"github.com/thoas/go-funk"

	"github.com/livekit/protocol/logger"

	"github.com/campuslink/confcore/pkg/rtc/types"
	"github.com/campuslink/confcore/pkg/signalling"
	"github.com/campuslink/confcore/pkg/telemetry/prometheus"
	"github.com/campuslink/confcore/pkg/videoroom"
)

type FeedInfo struct {
	ID      uint64 `json:"id"`
	Display string `json:"display,omitempty"`
	Ready   bool   `json:"ready"`
}

type remoteFeed struct {
	id      uint64
	display string
	roomID  uint64
	logger  logger.Logger

	handle signalling.Handle
	peer   types.SubscriberPeer
	ready  bool
}

type feedRegistryParams struct {
	Logger logger.Logger
	Loop   *eventLoop
	Media  types.MediaEngine
	Sink   ParticipantViewSink
}

// FeedRegistry owns one subscriber handle per remote publisher, keyed by
// feed id. It lives on the conference event loop; none of its methods are
// safe to call from elsewhere.
type FeedRegistry struct {
	params    feedRegistryParams
	logger    logger.Logger
	loop      *eventLoop
	feeds     map[uint64]*remoteFeed
	session   signalling.Session
	privateID uint64
}

func newFeedRegistry(params feedRegistryParams) *FeedRegistry {
	return &FeedRegistry{
		params: params,
		logger: params.Logger,
		loop:   params.Loop,
		feeds:  make(map[uint64]*remoteFeed),
	}
}

func (r *FeedRegistry) SetSession(session signalling.Session) {
	r.session = session
}

// SetPrivateID records the token subscriber joins use to associate
// themselves with our publisher.
func (r *FeedRegistry) SetPrivateID(privateID uint64) {
	r.privateID = privateID
}

func (r *FeedRegistry) Len() int {
	return len(r.feeds)
}

func (r *FeedRegistry) Has(feedID uint64) bool {
	_, ok := r.feeds[feedID]
	return ok
}

func (r *FeedRegistry) Feeds() []FeedInfo {
	ids := funk.Keys(r.feeds).([]uint64)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	infos := make([]FeedInfo, 0, len(ids))
	for _, id := range ids {
		f := r.feeds[id]
		infos = append(infos, FeedInfo{ID: f.id, Display: f.display, Ready: f.ready})
	}
	return infos
}

// EnsureFeed subscribes to feedID unless it is already held. A feed under the
// same display name but a different id is the same participant republishing,
// so it is torn down first.
func (r *FeedRegistry) EnsureFeed(feedID uint64, display string, roomID uint64) {
	if feedID == 0 {
		return
	}
	if r.Has(feedID) {
		r.logger.Debugw("feed already attached", "feedID", feedID)
		return
	}
	if r.session == nil {
		r.logger.Warnw("cannot subscribe without a session", nil, "feedID", feedID)
		return
	}

	if display != "" {
		stale := funk.Filter(funk.Values(r.feeds), func(f *remoteFeed) bool {
			return f.display == display && f.id != feedID
		}).([]*remoteFeed)
		for _, f := range stale {
			r.logger.Infow("replacing feed with same display", "feedID", f.id, "replacement", feedID, "display", display)
			r.runTeardown(r.detach(f.id, false, "replaced"))
		}
	}

	f := &remoteFeed{
		id:      feedID,
		display: display,
		roomID:  roomID,
		logger:  r.logger.WithValues("feedID", feedID, "display", display),
	}
	r.feeds[feedID] = f
	prometheus.AddFeed()

	session := r.session
	epoch := r.loop.epoch
	r.loop.async(func(ctx context.Context) {
		handle, err := session.Attach(ctx, videoroom.Plugin)
		r.loop.deliver(epoch, func() {
			r.onAttached(f, handle, err)
		}, detachOrphan(handle))
	})
}

func (r *FeedRegistry) onAttached(f *remoteFeed, handle signalling.Handle, err error) {
	if !r.current(f) {
		f.logger.Debugw("feed went away while attaching")
		if handle != nil {
			r.loop.background(detachOrphan(handle))
		}
		return
	}
	if err != nil {
		f.logger.Warnw("could not attach subscriber handle", err)
		prometheus.RecordError("subscribe")
		r.runTeardown(r.detach(f.id, true, "failed"))
		return
	}
	f.handle = handle

	peer, err := r.params.Media.NewSubscriber(f.id, f.display)
	if err != nil {
		f.logger.Warnw("could not create subscriber peer", err)
		prometheus.RecordError("subscribe")
		r.runTeardown(r.detach(f.id, false, "failed"))
		return
	}
	f.peer = peer

	epoch := r.loop.epoch
	handle.OnMessage(func(msg *signalling.Message) {
		r.loop.deliver(epoch, func() {
			r.onFeedMessage(f, msg)
		}, nil)
	})
	handle.OnCleanup(func() {
		r.loop.deliver(epoch, func() {
			if r.current(f) {
				f.logger.Debugw("subscriber handle cleaned up by gateway")
				r.DetachFeed(f.id, true)
			}
		}, nil)
	})
	peer.OnStreamReady(func(stream *types.RemoteStream) {
		r.loop.deliver(epoch, func() {
			r.onStreamReady(f, stream)
		}, nil)
	})

	join := videoroom.JoinSubscriber(f.roomID, f.id, r.privateID)
	r.loop.async(func(ctx context.Context) {
		err := r.subscribe(ctx, f, handle, peer, join)
		r.loop.deliver(epoch, func() {
			r.onSubscribed(f, err)
		}, nil)
	})
}

// subscribe joins the feed and answers the offer it comes with.
func (r *FeedRegistry) subscribe(ctx context.Context, f *remoteFeed, handle signalling.Handle, peer types.SubscriberPeer, join videoroom.Request) error {
	msg, err := handle.Send(ctx, join, nil)
	if err != nil {
		return errors.Wrap(err, "subscriber join")
	}
	ev, err := videoroom.ParseEvent(msg.Data)
	if err != nil {
		return err
	}
	if ev.IsError() {
		return errors.Errorf("subscriber join rejected: %d %s", ev.ErrorCode, ev.Error)
	}
	if msg.JSEP == nil || msg.JSEP.Type != webrtc.SDPTypeOffer {
		return ErrNoOffer
	}
	return r.answer(ctx, f, handle, peer, *msg.JSEP)
}

func (r *FeedRegistry) answer(ctx context.Context, f *remoteFeed, handle signalling.Handle, peer types.SubscriberPeer, offer webrtc.SessionDescription) error {
	answer, err := peer.CreateAnswer(ctx, offer)
	if err != nil {
		return errors.Wrap(err, "could not create answer")
	}
	msg, err := handle.Send(ctx, videoroom.Start(f.roomID), answer)
	if err != nil {
		return errors.Wrap(err, "start")
	}
	ev, err := videoroom.ParseEvent(msg.Data)
	if err != nil {
		return err
	}
	if ev.IsError() {
		return errors.Errorf("start rejected: %d %s", ev.ErrorCode, ev.Error)
	}
	return nil
}

func (r *FeedRegistry) onSubscribed(f *remoteFeed, err error) {
	if !r.current(f) {
		return
	}
	if err != nil {
		f.logger.Warnw("feed subscription failed", err)
		prometheus.RecordError("subscribe")
		r.runTeardown(r.detach(f.id, false, "failed"))
		return
	}
	f.logger.Debugw("feed subscribed")
}

// onFeedMessage handles events the gateway pushes on a subscriber handle,
// such as a fresh offer when the publisher changes its media.
func (r *FeedRegistry) onFeedMessage(f *remoteFeed, msg *signalling.Message) {
	if !r.current(f) || f.handle == nil || f.peer == nil {
		return
	}
	if ev, err := videoroom.ParseEvent(msg.Data); err == nil && ev.IsError() {
		f.logger.Warnw("subscriber handle error", nil, "code", ev.ErrorCode, "error", ev.Error)
	}
	if msg.JSEP == nil || msg.JSEP.Type != webrtc.SDPTypeOffer {
		return
	}

	handle, peer, offer := f.handle, f.peer, *msg.JSEP
	epoch := r.loop.epoch
	r.loop.async(func(ctx context.Context) {
		err := r.answer(ctx, f, handle, peer, offer)
		r.loop.deliver(epoch, func() {
			if err != nil && r.current(f) {
				f.logger.Warnw("could not answer updated offer", err)
			}
		}, nil)
	})
}

func (r *FeedRegistry) onStreamReady(f *remoteFeed, stream *types.RemoteStream) {
	if !r.current(f) {
		return
	}
	f.ready = true
	f.logger.Infow("feed ready", "tracks", len(stream.Tracks))
	r.params.Sink.Attach(f.id, stream)
}

// DetachFeed drops feedID. skipHandleCleanup is for handles the gateway has
// already torn down; hanging those up again fails.
func (r *FeedRegistry) DetachFeed(feedID uint64, skipHandleCleanup bool) {
	reason := "detached"
	if skipHandleCleanup {
		reason = "lost"
	}
	r.runTeardown(r.detach(feedID, skipHandleCleanup, reason))
}

// ResetAll detaches every feed with full handle cleanup.
func (r *FeedRegistry) ResetAll() {
	teardowns := r.detachAll()
	if len(teardowns) == 0 {
		return
	}
	r.loop.background(func(ctx context.Context) {
		for _, teardown := range teardowns {
			teardown(ctx)
		}
	})
}

// detachAll empties the registry and returns the network teardown for each
// feed, in feed id order.
func (r *FeedRegistry) detachAll() []func(ctx context.Context) {
	ids := funk.Keys(r.feeds).([]uint64)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	teardowns := make([]func(ctx context.Context), 0, len(ids))
	for _, id := range ids {
		if teardown := r.detach(id, false, "reset"); teardown != nil {
			teardowns = append(teardowns, teardown)
		}
	}
	return teardowns
}

// detach removes the entry and notifies the sink right away. The returned
// func releases the handle and peer, and must run off the loop.
func (r *FeedRegistry) detach(feedID uint64, skipHandleCleanup bool, reason string) func(ctx context.Context) {
	f, ok := r.feeds[feedID]
	if !ok {
		return nil
	}
	delete(r.feeds, feedID)
	prometheus.SubFeed(reason)
	f.logger.Debugw("detaching feed", "reason", reason, "skipHandleCleanup", skipHandleCleanup)
	r.params.Sink.Detach(feedID)

	handle, peer := f.handle, f.peer
	return func(ctx context.Context) {
		if handle != nil && !skipHandleCleanup {
			if err := handle.Hangup(ctx); err != nil {
				f.logger.Debugw("subscriber hangup failed", "error", err)
			}
			if err := handle.Detach(ctx); err != nil {
				f.logger.Debugw("subscriber detach failed", "error", err)
			}
		}
		if peer != nil {
			if err := peer.Close(); err != nil {
				f.logger.Debugw("could not close subscriber peer", "error", err)
			}
		}
	}
}

func (r *FeedRegistry) runTeardown(teardown func(ctx context.Context)) {
	if teardown != nil {
		r.loop.background(teardown)
	}
}

// current reports whether f is still the registry's entry for its id.
func (r *FeedRegistry) current(f *remoteFeed) bool {
	return r.feeds[f.id] == f
}

func detachOrphan(handle signalling.Handle) func(ctx context.Context) {
	if handle == nil {
		return nil
	}
	return func(ctx context.Context) {
		_ = handle.Detach(ctx)
	}
}
