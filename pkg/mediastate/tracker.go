package mediastate

import (
	"context"
	"sync"
	"time"

	"github.com/bep/debounce"

	"github.com/livekit/protocol/logger"
)

const publishTimeout = 5 * time.Second

type TrackerParams struct {
	Bus       Bus
	Store     *Store
	MeetingID ID
	UserID    ID
	Display   string
	// Debounce collapses bursts of local updates into one publish.
	Debounce time.Duration
	Logger   logger.Logger
}

// Tracker publishes the local participant's media state and merges what
// everyone else publishes into the store.
type Tracker struct {
	params   TrackerParams
	logger   logger.Logger
	debounce func(f func())

	lock  sync.Mutex
	local *Message
}

func NewTracker(params TrackerParams) *Tracker {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.Store == nil {
		params.Store = NewStore(DefaultMaxEntries, 0)
	}
	t := &Tracker{
		params: params,
		logger: params.Logger.WithValues("meetingID", params.MeetingID, "userID", params.UserID),
	}
	if params.Debounce > 0 {
		t.debounce = debounce.New(params.Debounce)
	}
	return t
}

func (t *Tracker) Enabled() bool {
	return t.params.MeetingID != "" && t.params.UserID != "" && t.params.Bus != nil
}

func (t *Tracker) Store() *Store {
	return t.params.Store
}

// Run merges incoming messages until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	if !t.Enabled() {
		t.logger.Debugw("media state tracking disabled")
		return nil
	}
	return t.params.Bus.Subscribe(ctx, t.params.MeetingID, t.onMessage)
}

func (t *Tracker) onMessage(msg Message) {
	if msg.MeetingID != t.params.MeetingID {
		return
	}
	if err := msg.Validate(); err != nil {
		t.logger.Debugw("ignoring media state", "error", err)
		return
	}
	state := t.params.Store.Merge(msg)
	t.logger.Debugw("media state updated", "participant", state.UserID, "audio", state.AudioOn, "video", state.VideoOn)
}

// Update records the local media state and schedules a publish. Identical
// consecutive states are not republished.
func (t *Tracker) Update(audio, video, videoDeviceLost bool) {
	msg := Message{
		MeetingID:       t.params.MeetingID,
		UserID:          t.params.UserID,
		Display:         t.params.Display,
		Audio:           audio,
		Video:           video,
		VideoDeviceLost: videoDeviceLost,
	}

	t.lock.Lock()
	if t.local != nil && *t.local == msg {
		t.lock.Unlock()
		return
	}
	t.local = &msg
	t.lock.Unlock()

	if !t.Enabled() {
		return
	}
	t.params.Store.Merge(msg)

	if t.debounce != nil {
		t.debounce(t.publishLatest)
	} else {
		t.publishLatest()
	}
}

// Flush publishes the latest local state right away.
func (t *Tracker) Flush(ctx context.Context) error {
	msg := t.latest()
	if msg == nil || !t.Enabled() {
		return nil
	}
	return t.params.Bus.Publish(ctx, *msg)
}

func (t *Tracker) publishLatest() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := t.Flush(ctx); err != nil {
		t.logger.Warnw("could not publish media state", err)
	}
}

func (t *Tracker) latest() *Message {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.local == nil {
		return nil
	}
	msg := *t.local
	return &msg
}
