package mediastate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/livekit/protocol/logger"

	"github.com/campuslink/confcore/pkg/telemetry/prometheus"
)

// Bus fans media state messages out to every participant of a meeting.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe hands every message published for meetingID to handler
	// until ctx is done.
	Subscribe(ctx context.Context, meetingID ID, handler func(Message)) error
}

func Channel(meetingID ID) string {
	return fmt.Sprintf("meeting:%s:media-state", meetingID)
}

type RedisBus struct {
	rc     redis.UniversalClient
	logger logger.Logger
}

func NewRedisBus(rc redis.UniversalClient, l logger.Logger) *RedisBus {
	return &RedisBus{
		rc:     rc,
		logger: l,
	}
}

func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := b.rc.Publish(ctx, Channel(msg.MeetingID), data).Err(); err != nil {
		return err
	}
	prometheus.RecordMediaStateMessage("out")
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, meetingID ID, handler func(Message)) error {
	channel := Channel(meetingID)
	sub := b.rc.Subscribe(ctx, channel)
	defer func() {
		_ = sub.Close()
		b.logger.Debugw("media state subscription closed", "channel", channel)
	}()
	b.logger.Debugw("subscribed to media state", "channel", channel)

	for ctx.Err() == nil {
		obj, err := sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			b.logger.Warnw("error receiving media state", err, "channel", channel)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		rm, ok := obj.(*redis.Message)
		if !ok {
			continue
		}
		msg, err := ParseMessage([]byte(rm.Payload))
		if err != nil {
			b.logger.Debugw("dropping media state message", "error", err)
			prometheus.RecordMediaStateMessage("invalid")
			continue
		}
		prometheus.RecordMediaStateMessage("in")
		handler(*msg)
	}
	return nil
}

// LocalBus delivers messages within the process. Handlers run on the
// publishing goroutine.
type LocalBus struct {
	lock     sync.RWMutex
	nextID   uint64
	handlers map[ID]map[uint64]func(Message)
}

func NewLocalBus() *LocalBus {
	return &LocalBus{
		handlers: make(map[ID]map[uint64]func(Message)),
	}
}

func (b *LocalBus) Publish(_ context.Context, msg Message) error {
	b.lock.RLock()
	handlers := make([]func(Message), 0, len(b.handlers[msg.MeetingID]))
	for _, h := range b.handlers[msg.MeetingID] {
		handlers = append(handlers, h)
	}
	b.lock.RUnlock()

	prometheus.RecordMediaStateMessage("out")
	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, meetingID ID, handler func(Message)) error {
	b.lock.Lock()
	b.nextID++
	id := b.nextID
	if b.handlers[meetingID] == nil {
		b.handlers[meetingID] = make(map[uint64]func(Message))
	}
	b.handlers[meetingID][id] = handler
	b.lock.Unlock()

	<-ctx.Done()

	b.lock.Lock()
	delete(b.handlers[meetingID], id)
	if len(b.handlers[meetingID]) == 0 {
		delete(b.handlers, meetingID)
	}
	b.lock.Unlock()
	return nil
}

func (b *LocalBus) Subscribers(meetingID ID) int {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return len(b.handlers[meetingID])
}
