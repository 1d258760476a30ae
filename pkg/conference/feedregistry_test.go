package conference

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/logger"

	"github.com/campuslink/confcore/pkg/testutils"
	"github.com/campuslink/confcore/pkg/videoroom"
)

type registryHarness struct {
	loop  *eventLoop
	reg   *FeedRegistry
	gw    *fakeGateway
	media *fakeMedia
	sink  *fakeSink
}

func newRegistryHarness(t *testing.T) *registryHarness {
	loop := newEventLoop(logger.GetLogger(), 2, time.Second)
	h := &registryHarness{
		loop:  loop,
		gw:    newFakeGateway(),
		media: &fakeMedia{},
		sink:  newFakeSink(),
	}
	h.reg = newFeedRegistry(feedRegistryParams{
		Logger: logger.GetLogger(),
		Loop:   loop,
		Media:  h.media,
		Sink:   h.sink,
	})
	session := h.gw.newSession()
	h.run(func() {
		h.reg.SetSession(session)
		h.reg.SetPrivateID(testPrivateID)
	})
	t.Cleanup(loop.close)
	return h
}

func (h *registryHarness) run(f func()) {
	done := make(chan struct{})
	if !h.loop.ops.Enqueue(func() {
		f()
		close(done)
	}) {
		return
	}
	<-done
}

func (h *registryHarness) feedIDs() []uint64 {
	var ids []uint64
	h.run(func() {
		for _, f := range h.reg.Feeds() {
			ids = append(ids, f.ID)
		}
	})
	return ids
}

func (h *registryHarness) subscribeCount(feedID uint64) int {
	n := 0
	for _, s := range h.gw.sent("join", videoroom.PTypeSubscriber) {
		if s.req.Feed == feedID {
			n++
		}
	}
	return n
}

func TestFeedRegistryExclusivity(t *testing.T) {
	h := newRegistryHarness(t)

	steps := []struct {
		ensure  bool
		feedID  uint64
		display string
	}{
		{true, 2, "bob"},
		{true, 2, "bob"},
		{true, 3, "carol"},
		{false, 2, ""},
		{true, 2, "bob"},
		{true, 3, "carol"},
		{false, 3, ""},
		{true, 3, "carol"},
		{true, 2, "bob"},
	}
	for _, step := range steps {
		h.run(func() {
			if step.ensure {
				h.reg.EnsureFeed(step.feedID, step.display, 1234)
			} else {
				h.reg.DetachFeed(step.feedID, false)
			}
		})

		ids := h.feedIDs()
		seen := make(map[uint64]bool)
		for _, id := range ids {
			require.False(t, seen[id], "feed %d held twice", id)
			seen[id] = true
		}
	}
	require.Equal(t, []uint64{2, 3}, h.feedIDs())
	waitAttached(t, h.sink, 2, 3)

	// a feed detached while attaching may never have joined
	require.LessOrEqual(t, h.subscribeCount(2), 2)
	require.LessOrEqual(t, h.subscribeCount(3), 2)
}

func TestFeedRegistryDedupByDisplay(t *testing.T) {
	h := newRegistryHarness(t)

	h.run(func() {
		h.reg.EnsureFeed(1, "X", 1234)
	})
	waitAttached(t, h.sink, 1)

	h.run(func() {
		h.reg.EnsureFeed(2, "X", 1234)
	})
	require.Equal(t, []uint64{2}, h.feedIDs())
	waitAttached(t, h.sink, 2)
	require.False(t, h.sink.isAttached(1))

	old := h.gw.subscriberHandle(1)
	testutils.WithTimeout(t, func() string {
		if hangups, detaches := old.counts(); hangups != 1 || detaches != 1 {
			return "replaced feed not cleaned up"
		}
		return ""
	})
}

func TestFeedRegistryDetach(t *testing.T) {
	t.Run("unknown feed", func(t *testing.T) {
		h := newRegistryHarness(t)
		h.run(func() {
			h.reg.DetachFeed(42, false)
		})
		require.Zero(t, h.sink.detachCount(42))
	})

	t.Run("handle already gone", func(t *testing.T) {
		h := newRegistryHarness(t)
		h.run(func() {
			h.reg.EnsureFeed(2, "bob", 1234)
		})
		waitAttached(t, h.sink, 2)

		h.run(func() {
			h.reg.DetachFeed(2, true)
		})
		require.Empty(t, h.feedIDs())
		testutils.WithTimeout(t, func() string {
			if h.media.subscriber(2).closeCount() != 1 {
				return "peer not closed"
			}
			return ""
		})
		hangups, detaches := h.gw.subscriberHandle(2).counts()
		require.Zero(t, hangups)
		require.Zero(t, detaches)
	})

	t.Run("reset all", func(t *testing.T) {
		h := newRegistryHarness(t)
		h.run(func() {
			h.reg.EnsureFeed(2, "bob", 1234)
			h.reg.EnsureFeed(3, "carol", 1234)
		})
		waitAttached(t, h.sink, 2, 3)

		h.run(h.reg.ResetAll)
		require.Empty(t, h.feedIDs())
		require.False(t, h.sink.isAttached(2))
		require.False(t, h.sink.isAttached(3))

		testutils.WithTimeout(t, func() string {
			for _, id := range []uint64{2, 3} {
				if hangups, detaches := h.gw.subscriberHandle(id).counts(); hangups != 1 || detaches != 1 {
					return "feed handle not released"
				}
			}
			return ""
		})
	})

	t.Run("subscriber join carries private id", func(t *testing.T) {
		h := newRegistryHarness(t)
		h.run(func() {
			h.reg.EnsureFeed(7, "kim", 1234)
		})
		waitAttached(t, h.sink, 7)

		subs := h.gw.sent("join", videoroom.PTypeSubscriber)
		require.Len(t, subs, 1)
		require.Equal(t, uint64(testPrivateID), subs[0].req.PrivateID)
		require.Equal(t, uint64(1234), subs[0].req.Room)

		starts := h.gw.sent("start", "")
		require.Len(t, starts, 1)
		require.NotNil(t, starts[0].jsep)
	})
}
