package rtc

import (
	"context"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"
)

var ErrTracksStopped = errors.New("local tracks stopped")

type localTrack struct {
	track    *webrtc.TrackLocalStaticSample
	sender   *webrtc.RTPSender
	writer   *TrackWriter
	attached bool
}

// Publisher sends the local audio and video tracks. Both transceivers exist
// for the lifetime of the connection; a kind that is not being published has
// its sender's track detached.
type Publisher struct {
	logger logger.Logger
	pc     *webrtc.PeerConnection
	ctx    context.Context
	cancel context.CancelFunc

	lock    sync.Mutex
	tracks  map[webrtc.RTPCodecType]*localTrack
	stopped bool
}

func newPublisher(api *webrtc.API, conf webrtc.Configuration, audioFile, videoFile string, l logger.Logger) (*Publisher, error) {
	pc, err := api.NewPeerConnection(conf)
	if err != nil {
		return nil, errors.Wrap(err, "could not create publisher connection")
	}

	p := &Publisher{
		logger: l.WithValues("pc", "publisher"),
		pc:     pc,
		tracks: make(map[webrtc.RTPCodecType]*localTrack),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	sources := []struct {
		kind webrtc.RTPCodecType
		mime string
		file string
	}{
		{webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus, audioFile},
		{webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8, videoFile},
	}
	for _, src := range sources {
		if err := p.addTrack(src.kind, src.mime, src.file); err != nil {
			_ = p.Close()
			return nil, err
		}
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debugw("connection state changed", "state", state.String())
	})
	return p, nil
}

func (p *Publisher) addTrack(kind webrtc.RTPCodecType, mime string, file string) error {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, kind.String(), streamID)
	if err != nil {
		return errors.Wrapf(err, "could not create %s track", kind)
	}

	transceiver, err := p.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return errors.Wrapf(err, "could not add %s transceiver", kind)
	}
	sender := transceiver.Sender()
	go p.readRTCP(sender)

	writer := NewTrackWriter(p.ctx, track, file, p.logger)
	if err := writer.Start(); err != nil {
		return errors.Wrapf(err, "could not start %s writer", kind)
	}

	p.tracks[kind] = &localTrack{
		track:    track,
		sender:   sender,
		writer:   writer,
		attached: true,
	}
	return nil
}

func (p *Publisher) CreateOffer(ctx context.Context, audio, video bool) (*webrtc.SessionDescription, error) {
	if err := p.selectTracks(audio, video); err != nil {
		return nil, err
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not create offer")
	}

	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, errors.Wrap(err, "could not set local description")
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.pc.LocalDescription(), nil
}

func (p *Publisher) selectTracks(audio, video bool) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.stopped {
		return ErrTracksStopped
	}

	for kind, lt := range p.tracks {
		want := (kind == webrtc.RTPCodecTypeAudio && audio) || (kind == webrtc.RTPCodecTypeVideo && video)
		if want == lt.attached {
			continue
		}
		var track webrtc.TrackLocal
		if want {
			track = lt.track
		}
		if err := lt.sender.ReplaceTrack(track); err != nil {
			return errors.Wrapf(err, "could not replace %s track", kind)
		}
		lt.attached = want
	}
	return nil
}

func (p *Publisher) SetAnswer(answer webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return errors.Wrap(err, "could not set remote description")
	}
	return nil
}

func (p *Publisher) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) {
	p.lock.Lock()
	lt := p.tracks[kind]
	p.lock.Unlock()

	if lt != nil {
		lt.writer.SetMuted(!enabled)
	}
}

func (p *Publisher) StopTracks() {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true
	for _, lt := range p.tracks {
		lt.writer.Stop()
	}
}

func (p *Publisher) TracksStopped() bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.stopped
}

func (p *Publisher) Close() error {
	p.StopTracks()
	p.cancel()
	return p.pc.Close()
}

func (p *Publisher) readRTCP(sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				p.logger.Debugw("keyframe requested")
			}
		}
	}
}
