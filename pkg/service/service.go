package service

import (
	"context"
	"time"

	"github.com/google/wire"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/livekit/protocol/logger"

	"github.com/campuslink/confcore/pkg/conference"
	"github.com/campuslink/confcore/pkg/config"
	"github.com/campuslink/confcore/pkg/mediastate"
	"github.com/campuslink/confcore/pkg/rtc"
	"github.com/campuslink/confcore/pkg/rtc/types"
	"github.com/campuslink/confcore/pkg/signalling"
)

const redisConnectTimeout = 5 * time.Second

var ServiceSet = wire.NewSet(
	createGateway,
	wire.Bind(new(signalling.Gateway), new(*signalling.JanusClient)),
	createEngine,
	wire.Bind(new(types.MediaEngine), new(*rtc.Engine)),
	createViewSink,
	wire.Bind(new(conference.ParticipantViewSink), new(*ViewSink)),
	createOrchestrator,
	createRedisClient,
	createBus,
	createStore,
	createTracker,
	NewAgentServer,
)

func createGateway(conf *config.Config) *signalling.JanusClient {
	return signalling.NewJanusClient(signalling.ClientParams{
		URL:               conf.Gateway.URL,
		KeepaliveInterval: conf.Gateway.KeepaliveInterval,
		Logger:            logger.GetLogger(),
	})
}

func createEngine(conf *config.Config) *rtc.Engine {
	return rtc.NewEngine(rtc.EngineParams{
		ICEServers: conf.Media.ICEServers,
		AudioFile:  conf.Media.AudioFile,
		VideoFile:  conf.Media.VideoFile,
		PionLevel:  conf.Logging.PionLevel,
		Logger:     logger.GetLogger(),
	})
}

func createViewSink() *ViewSink {
	return NewViewSink(logger.GetLogger())
}

func createOrchestrator(
	conf *config.Config,
	gateway signalling.Gateway,
	media types.MediaEngine,
	sink conference.ParticipantViewSink,
) *conference.Orchestrator {
	return conference.NewOrchestrator(conference.OrchestratorParams{
		Gateway:        gateway,
		Media:          media,
		Sink:           sink,
		Logger:         logger.GetLogger(),
		RoomPublishers: conf.Room.Publishers,
		RoomBitrate:    conf.Room.Bitrate,
		PublishAudio:   conf.Media.PublishAudio,
		PublishVideo:   conf.Media.PublishVideo,
		RequestTimeout: conf.Gateway.RequestTimeout,
	})
}

// createRedisClient returns nil when redis is not configured; media state
// then stays local to this process.
func createRedisClient(conf *config.Config) (redis.UniversalClient, error) {
	if !conf.Redis.IsConfigured() {
		return nil, nil
	}

	logger.Infow("using redis for media state", "address", conf.Redis.Address)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{conf.Redis.Address},
		Username: conf.Redis.Username,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, errors.Wrap(err, "unable to connect to redis")
	}
	return rc, nil
}

func createBus(rc redis.UniversalClient) mediastate.Bus {
	if rc == nil {
		return mediastate.NewLocalBus()
	}
	return mediastate.NewRedisBus(rc, logger.GetLogger())
}

func createStore(conf *config.Config) *mediastate.Store {
	return mediastate.NewStore(conf.MediaState.MaxEntries, conf.MediaState.EntryTTL)
}

func createTracker(conf *config.Config, bus mediastate.Bus, store *mediastate.Store) *mediastate.Tracker {
	return mediastate.NewTracker(mediastate.TrackerParams{
		Bus:       bus,
		Store:     store,
		MeetingID: mediastate.ID(conf.MediaState.MeetingID),
		UserID:    mediastate.ID(conf.UserID),
		Display:   conf.Room.Display,
		Debounce:  conf.MediaState.PublishDebounce,
		Logger:    logger.GetLogger(),
	})
}
