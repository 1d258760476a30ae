package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/livekit/protocol/logger"
)

var (
	ErrGatewayURLNotSet = errors.New("gateway.url must be set")
	ErrInvalidRoom      = errors.New("room.publishers must be positive")
)

type Config struct {
	Development bool   `yaml:"development,omitempty"`
	UserID      string `yaml:"user_id,omitempty"`

	Gateway    GatewayConfig    `yaml:"gateway,omitempty"`
	Room       RoomConfig       `yaml:"room,omitempty"`
	Media      MediaConfig      `yaml:"media,omitempty"`
	MediaState MediaStateConfig `yaml:"media_state,omitempty"`
	Redis      RedisConfig      `yaml:"redis,omitempty"`
	API        APIConfig        `yaml:"api,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
}

type GatewayConfig struct {
	URL               string        `yaml:"url,omitempty"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval,omitempty"`
	RequestTimeout    time.Duration `yaml:"request_timeout,omitempty"`
}

type RoomConfig struct {
	// joined on startup when set
	ID      uint64 `yaml:"id,omitempty"`
	Display string `yaml:"display,omitempty"`

	// used when the room has to be created before joining
	Publishers int    `yaml:"publishers,omitempty"`
	Bitrate    uint32 `yaml:"bitrate,omitempty"`
}

type MediaConfig struct {
	ICEServers   []string `yaml:"ice_servers,omitempty"`
	AudioFile    string   `yaml:"audio_file,omitempty"`
	VideoFile    string   `yaml:"video_file,omitempty"`
	PublishAudio bool     `yaml:"publish_audio"`
	PublishVideo bool     `yaml:"publish_video"`
}

type MediaStateConfig struct {
	MeetingID       string        `yaml:"meeting_id,omitempty"`
	EntryTTL        time.Duration `yaml:"entry_ttl,omitempty"`
	MaxEntries      int           `yaml:"max_entries,omitempty"`
	PublishDebounce time.Duration `yaml:"publish_debounce,omitempty"`
}

type RedisConfig struct {
	Address  string `yaml:"address,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

func (r RedisConfig) IsConfigured() bool {
	return r.Address != ""
}

type APIConfig struct {
	BindAddress string   `yaml:"bind_address,omitempty"`
	Port        uint32   `yaml:"port,omitempty"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

type LoggingConfig struct {
	logger.Config `yaml:",inline"`
	PionLevel     string `yaml:"pion_level,omitempty"`
}

var DefaultConfig = Config{
	Gateway: GatewayConfig{
		URL:               "ws://localhost:8188",
		KeepaliveInterval: 25 * time.Second,
		RequestTimeout:    15 * time.Second,
	},
	Room: RoomConfig{
		Publishers: 10,
		Bitrate:    512000,
	},
	Media: MediaConfig{
		ICEServers:   []string{"stun:stun.l.google.com:19302"},
		PublishAudio: true,
		PublishVideo: true,
	},
	MediaState: MediaStateConfig{
		MaxEntries:      1000,
		PublishDebounce: 250 * time.Millisecond,
	},
	API: APIConfig{
		BindAddress: "127.0.0.1",
		Port:        7070,
	},
	Logging: LoggingConfig{
		PionLevel: "error",
	},
}

func NewConfig(confString string, strictMode bool, c *cli.Context, baseFlags []cli.Flag) (*Config, error) {
	// start with defaults
	marshalled, err := yaml.Marshal(&DefaultConfig)
	if err != nil {
		return nil, err
	}

	var conf Config
	err = yaml.Unmarshal(marshalled, &conf)
	if err != nil {
		return nil, err
	}

	if confString != "" {
		decoder := yaml.NewDecoder(strings.NewReader(confString))
		decoder.KnownFields(strictMode)
		if err := decoder.Decode(&conf); err != nil {
			return nil, fmt.Errorf("could not parse config: %v", err)
		}
	}

	if c != nil {
		if err := conf.updateFromCLI(c); err != nil {
			return nil, err
		}
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	// expand env vars and ~ in media file names
	if conf.Media.AudioFile, err = expandPath(conf.Media.AudioFile); err != nil {
		return nil, err
	}
	if conf.Media.VideoFile, err = expandPath(conf.Media.VideoFile); err != nil {
		return nil, err
	}

	if conf.Logging.Level == "" && conf.Development {
		conf.Logging.Level = "debug"
	}
	if conf.Logging.PionLevel != "" {
		if conf.Logging.ComponentLevels == nil {
			conf.Logging.ComponentLevels = map[string]string{}
		}
		conf.Logging.ComponentLevels["pion"] = conf.Logging.PionLevel
	}

	return &conf, nil
}

func (conf *Config) Validate() error {
	if conf.Gateway.URL == "" {
		return ErrGatewayURLNotSet
	}
	if conf.Room.Publishers <= 0 {
		return ErrInvalidRoom
	}
	return nil
}

func (conf *Config) updateFromCLI(c *cli.Context) error {
	if c.IsSet("dev") {
		conf.Development = c.Bool("dev")
	}
	if c.IsSet("gateway") {
		conf.Gateway.URL = c.String("gateway")
	}
	if c.IsSet("user-id") {
		conf.UserID = c.String("user-id")
	}
	if c.IsSet("meeting-id") {
		conf.MediaState.MeetingID = c.String("meeting-id")
	}
	if c.IsSet("redis-host") {
		conf.Redis.Address = c.String("redis-host")
	}
	if c.IsSet("redis-password") {
		conf.Redis.Password = c.String("redis-password")
	}
	if c.IsSet("audio-file") {
		conf.Media.AudioFile = c.String("audio-file")
	}
	if c.IsSet("video-file") {
		conf.Media.VideoFile = c.String("video-file")
	}
	if c.IsSet("room") {
		conf.Room.ID = c.Uint64("room")
	}
	if c.IsSet("display") {
		conf.Room.Display = c.String("display")
	}
	if c.IsSet("port") {
		conf.API.Port = uint32(c.Uint("port"))
	}
	if c.IsSet("bind") {
		conf.API.BindAddress = c.String("bind")
	}
	return nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	return homedir.Expand(os.ExpandEnv(p))
}

func InitLoggerFromConfig(config *LoggingConfig) {
	logger.InitFromConfig(&config.Config, "confcore")
}
