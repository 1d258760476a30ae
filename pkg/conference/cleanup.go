package conference

import (
	"context"

	"github.com/campuslink/confcore/pkg/videoroom"
)

// cleanup is the only path that releases the session. It is idempotent.
//
// Local state is dropped within the current turn, in order: remote feeds,
// local tracks, publisher, session. The matching network teardown runs in
// that same order on one background task, and a failing step does not stop
// the ones after it. When the teardown originated remotely the session is
// already gone on the gateway and is not destroyed again.
func (o *Orchestrator) cleanup(originatedFromRemote bool) {
	// results of anything still in flight are stale from here on
	o.loop.epoch++
	o.reneg.Reset()

	feedTeardowns := o.feeds.detachAll()

	pub := o.publisher
	if pub != nil && pub.peer != nil {
		pub.peer.StopTracks()
	}

	session := o.session
	destroySession := session != nil && !originatedFromRemote

	o.session = nil
	o.publisher = nil
	o.publisherID = 0
	o.privateID = 0
	o.createAttempted = false
	o.feeds.SetSession(nil)
	o.feeds.SetPrivateID(0)
	o.setState(Idle)

	if len(feedTeardowns) == 0 && pub == nil && !destroySession {
		return
	}

	l := o.logger
	o.loop.background(func(ctx context.Context) {
		if pub != nil && pub.leaving && !pub.handleGone && !originatedFromRemote {
			if _, err := pub.handle.Send(ctx, videoroom.Leave(), nil); err != nil {
				l.Debugw("leave request failed", "error", err)
			}
		}

		for _, teardown := range feedTeardowns {
			teardown(ctx)
		}

		if pub != nil {
			if !pub.handleGone && !originatedFromRemote {
				if err := pub.handle.Hangup(ctx); err != nil {
					l.Debugw("publisher hangup failed", "error", err)
				}
				if err := pub.handle.Detach(ctx); err != nil {
					l.Debugw("publisher detach failed", "error", err)
				}
			}
			if pub.peer != nil {
				if err := pub.peer.Close(); err != nil {
					l.Debugw("could not close publisher peer", "error", err)
				}
			}
		}

		if destroySession {
			if err := session.Destroy(ctx); err != nil {
				l.Debugw("session destroy failed", "error", err)
			}
		}
		l.Debugw("teardown complete", "remote", originatedFromRemote)
	})
}
