package types

import (
	"context"

	"github.com/pion/webrtc/v3"
)

// RemoteStream is one remote feed's received media, handed to whoever
// renders it.
type RemoteStream struct {
	FeedID  uint64
	Display string
	Tracks  []*webrtc.TrackRemote
}

type PublisherPeer interface {
	// CreateOffer returns a complete (non-trickle) offer sending only the
	// requested kinds.
	CreateOffer(ctx context.Context, audio, video bool) (*webrtc.SessionDescription, error)
	SetAnswer(answer webrtc.SessionDescription) error
	// SetTrackEnabled mutes or unmutes a local track without renegotiating.
	SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool)
	StopTracks()
	Close() error
}

type SubscriberPeer interface {
	// CreateAnswer answers a remote offer receive-only.
	CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// OnStreamReady fires once, after every track announced by the offer
	// has arrived.
	OnStreamReady(f func(stream *RemoteStream))
	Close() error
}

type MediaEngine interface {
	// Supported reports whether real-time media can run at all.
	Supported() bool
	NewPublisher() (PublisherPeer, error)
	NewSubscriber(feedID uint64, display string) (SubscriberPeer, error)
}
