package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"

	"github.com/campuslink/confcore/pkg/config"
	"github.com/campuslink/confcore/pkg/service"
	"github.com/campuslink/confcore/pkg/telemetry/prometheus"
	"github.com/campuslink/confcore/version"
)

var baseFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "path to agent config file",
	},
	&cli.StringFlag{
		Name:    "config-body",
		Usage:   "agent config in YAML, typically passed in as an environment var in a container",
		EnvVars: []string{"CONFCORE_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "gateway",
		Usage:   "websocket URL of the Janus gateway",
		EnvVars: []string{"JANUS_URL"},
	},
	&cli.StringFlag{
		Name:    "user-id",
		Usage:   "id published with this participant's media state",
		EnvVars: []string{"CONFCORE_USER_ID"},
	},
	&cli.StringFlag{
		Name:    "meeting-id",
		Usage:   "meeting whose media state is shared, disabled when empty",
		EnvVars: []string{"CONFCORE_MEETING_ID"},
	},
	&cli.Uint64Flag{
		Name:  "room",
		Usage: "videoroom to join on startup",
	},
	&cli.StringFlag{
		Name:  "display",
		Usage: "display name used when joining",
	},
	&cli.StringFlag{
		Name:  "audio-file",
		Usage: "ogg/opus file published as the local microphone",
	},
	&cli.StringFlag{
		Name:  "video-file",
		Usage: "ivf/vp8 file published as the local camera",
	},
	&cli.StringFlag{
		Name:    "redis-host",
		Usage:   "host (incl. port) to redis server",
		EnvVars: []string{"REDIS_HOST"},
	},
	&cli.StringFlag{
		Name:    "redis-password",
		Usage:   "password to redis",
		EnvVars: []string{"REDIS_PASSWORD"},
	},
	&cli.StringFlag{
		Name:  "bind",
		Usage: "IP address the control API listens on",
	},
	&cli.UintFlag{
		Name:  "port",
		Usage: "port of the control API",
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "sets log-level to debug and console formatter",
	},
	&cli.BoolFlag{
		Name:   "disable-strict-config",
		Usage:  "disables strict config parsing",
		Hidden: true,
	},
}

func main() {
	app := &cli.App{
		Name:        "confcore-agent",
		Usage:       "headless videoroom participant",
		Description: "run without subcommands to start the agent",
		Flags:       baseFlags,
		Action:      startServer,
		Commands: []*cli.Command{
			{
				Name:   "print-config",
				Usage:  "print the effective configuration",
				Action: printConfig,
			},
			{
				Name:   "media",
				Usage:  "print the media sources the agent would publish",
				Action: printMedia,
			},
		},
		Version: version.Version,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func getConfig(c *cli.Context) (*config.Config, error) {
	confString, err := getConfigString(c.String("config"), c.String("config-body"))
	if err != nil {
		return nil, err
	}

	strictMode := true
	if c.Bool("disable-strict-config") {
		strictMode = false
	}

	conf, err := config.NewConfig(confString, strictMode, c, baseFlags)
	if err != nil {
		return nil, err
	}
	config.InitLoggerFromConfig(&conf.Logging)

	if conf.Development {
		logger.Infow("starting in development mode")
	}
	return conf, nil
}

func startServer(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	agentID := conf.UserID
	if agentID == "" {
		agentID = "anonymous"
	}
	prometheus.Init(agentID)

	server, err := service.InitializeServer(conf)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		logger.Infow("exit requested, shutting down", "signal", sig)
		server.Stop()
	}()

	return server.Start()
}

func getConfigString(configFile string, inConfigBody string) (string, error) {
	if inConfigBody != "" || configFile == "" {
		return inConfigBody, nil
	}

	outConfigBody, err := os.ReadFile(configFile)
	if err != nil {
		return "", err
	}

	return string(outConfigBody), nil
}
