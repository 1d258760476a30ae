package rtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"

	"github.com/campuslink/confcore/pkg/rtc/types"
)

const streamID = "confcore"

var ErrEngineUnavailable = errors.New("media engine unavailable")

type EngineParams struct {
	ICEServers    []string
	AudioFile     string
	VideoFile     string
	PionLevel     string
	LoggerFactory logging.LoggerFactory
	Logger        logger.Logger
}

// Engine builds peer connections sharing one codec and interceptor setup.
type Engine struct {
	params EngineParams
	logger logger.Logger
	api    *webrtc.API
	conf   webrtc.Configuration
	err    error
}

func NewEngine(params EngineParams) *Engine {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.LoggerFactory == nil {
		params.LoggerFactory = NewLoggerFactory(params.Logger, params.PionLevel)
	}
	e := &Engine{
		params: params,
		logger: params.Logger,
	}
	if len(params.ICEServers) > 0 {
		e.conf.ICEServers = []webrtc.ICEServer{{URLs: params.ICEServers}}
	}

	e.api, e.err = newAPI(params.LoggerFactory)
	if e.err != nil {
		e.logger.Errorw("media engine unavailable", e.err)
	}
	return e
}

func newAPI(lf logging.LoggerFactory) (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Wrap(err, "could not register codecs")
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, errors.Wrap(err, "could not register interceptors")
	}

	se := webrtc.SettingEngine{
		LoggerFactory: lf,
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

func (e *Engine) Supported() bool {
	return e.err == nil && e.api != nil
}

func (e *Engine) NewPublisher() (types.PublisherPeer, error) {
	if !e.Supported() {
		return nil, ErrEngineUnavailable
	}
	return newPublisher(e.api, e.conf, e.params.AudioFile, e.params.VideoFile, e.logger)
}

func (e *Engine) NewSubscriber(feedID uint64, display string) (types.SubscriberPeer, error) {
	if !e.Supported() {
		return nil, ErrEngineUnavailable
	}
	return newSubscriber(e.api, e.conf, feedID, display, e.logger)
}
