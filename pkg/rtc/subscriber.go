package rtc

import (
	"context"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/logger"

	"github.com/campuslink/confcore/pkg/rtc/types"
)

// Subscriber receives one remote feed. It never adds local tracks, so its
// answers are receive-only.
type Subscriber struct {
	logger  logger.Logger
	feedID  uint64
	display string
	pc      *webrtc.PeerConnection

	lock     sync.Mutex
	expected int
	tracks   []*webrtc.TrackRemote
	onReady  func(stream *types.RemoteStream)
	ready    bool

	bytesReceived atomic.Uint64
}

func newSubscriber(api *webrtc.API, conf webrtc.Configuration, feedID uint64, display string, l logger.Logger) (*Subscriber, error) {
	pc, err := api.NewPeerConnection(conf)
	if err != nil {
		return nil, errors.Wrap(err, "could not create subscriber connection")
	}

	s := &Subscriber{
		logger:  l.WithValues("pc", "subscriber", "feed", feedID),
		feedID:  feedID,
		display: display,
		pc:      pc,
	}
	pc.OnTrack(s.onTrack)
	return s, nil
}

func (s *Subscriber) CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	expected, err := ExpectedTracks(offer.SDP)
	if err != nil {
		return nil, err
	}
	s.lock.Lock()
	s.expected = expected
	s.lock.Unlock()

	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return nil, errors.Wrap(err, "could not set remote description")
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not create answer")
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return nil, errors.Wrap(err, "could not set local description")
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.maybeReady()
	return s.pc.LocalDescription(), nil
}

func (s *Subscriber) OnStreamReady(f func(stream *types.RemoteStream)) {
	s.lock.Lock()
	s.onReady = f
	s.lock.Unlock()

	s.maybeReady()
}

func (s *Subscriber) BytesReceived() uint64 {
	return s.bytesReceived.Load()
}

func (s *Subscriber) Close() error {
	return s.pc.Close()
}

func (s *Subscriber) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	s.logger.Debugw("remote track added", "kind", track.Kind().String(), "codec", track.Codec().MimeType)

	s.lock.Lock()
	s.tracks = append(s.tracks, track)
	s.lock.Unlock()

	go s.drain(track)
	s.maybeReady()
}

func (s *Subscriber) maybeReady() {
	s.lock.Lock()
	if s.ready || s.onReady == nil || s.expected == 0 || len(s.tracks) < s.expected {
		s.lock.Unlock()
		return
	}
	s.ready = true
	onReady := s.onReady
	stream := &types.RemoteStream{
		FeedID:  s.feedID,
		Display: s.display,
		Tracks:  append([]*webrtc.TrackRemote(nil), s.tracks...),
	}
	s.lock.Unlock()

	onReady(stream)
}

func (s *Subscriber) drain(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		s.onPacket(pkt)
	}
}

func (s *Subscriber) onPacket(pkt *rtp.Packet) {
	s.bytesReceived.Add(uint64(len(pkt.Payload)))
}

// ExpectedTracks counts the media sections of an offer that will deliver a
// track: audio or video, not rejected, and actually sending.
func ExpectedTracks(offer string) (int, error) {
	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(offer)); err != nil {
		return 0, errors.Wrap(err, "could not parse offer")
	}

	n := 0
	for _, md := range parsed.MediaDescriptions {
		if md.MediaName.Media != "audio" && md.MediaName.Media != "video" {
			continue
		}
		if md.MediaName.Port.Value == 0 {
			continue
		}
		if _, ok := md.Attribute("inactive"); ok {
			continue
		}
		if _, ok := md.Attribute("recvonly"); ok {
			continue
		}
		n++
	}
	return n, nil
}
