package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"

	"github.com/campuslink/confcore/pkg/service"
)

var (
	hostFlag = &cli.StringFlag{
		Name:    "host",
		Usage:   "address of the agent's control API",
		Value:   "http://127.0.0.1:7070",
		EnvVars: []string{"CONFCORE_HOST"},
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "print raw JSON instead of a table",
	}

	RoomCommands = []*cli.Command{
		{
			Name:   "join",
			Usage:  "join a videoroom, creating it when needed",
			Before: createClient,
			Action: joinRoom,
			Flags: []cli.Flag{
				hostFlag,
				&cli.Uint64Flag{
					Name:     "room",
					Usage:    "numeric id of the room",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "display",
					Usage: "display name shown to other participants",
				},
			},
		},
		{
			Name:   "leave",
			Usage:  "leave the current room",
			Before: createClient,
			Action: leaveRoom,
			Flags:  []cli.Flag{hostFlag},
		},
		{
			Name:   "toggle-audio",
			Usage:  "turn the local microphone on or off",
			Before: createClient,
			Action: toggleAudio,
			Flags:  []cli.Flag{hostFlag},
		},
		{
			Name:   "toggle-video",
			Usage:  "turn the local camera on or off",
			Before: createClient,
			Action: toggleVideo,
			Flags:  []cli.Flag{hostFlag},
		},
		{
			Name:   "status",
			Usage:  "show connection state and subscribed feeds",
			Before: createClient,
			Action: showStatus,
			Flags:  []cli.Flag{hostFlag, jsonFlag},
		},
		{
			Name:   "participants",
			Usage:  "show media state of everyone in the meeting",
			Before: createClient,
			Action: listParticipants,
			Flags:  []cli.Flag{hostFlag, jsonFlag},
		},
		{
			Name:   "watch",
			Usage:  "stream attach, detach and state events",
			Before: createClient,
			Action: watchEvents,
			Flags:  []cli.Flag{hostFlag},
		},
	}

	controlClient *ControlClient
)

func createClient(c *cli.Context) error {
	controlClient = NewControlClient(c.String("host"))
	return nil
}

func joinRoom(c *cli.Context) error {
	room := c.Uint64("room")
	if err := controlClient.Join(c.Context, room, c.String("display")); err != nil {
		return err
	}
	fmt.Println("joining room", room)
	return nil
}

func leaveRoom(c *cli.Context) error {
	return controlClient.Leave(c.Context)
}

func toggleAudio(c *cli.Context) error {
	return controlClient.ToggleAudio(c.Context)
}

func toggleVideo(c *cli.Context) error {
	return controlClient.ToggleVideo(c.Context)
}

func showStatus(c *cli.Context) error {
	state, err := controlClient.State(c.Context)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		PrintJSON(state)
		return nil
	}
	PrintState(os.Stdout, state)
	return nil
}

func listParticipants(c *cli.Context) error {
	list, err := controlClient.Participants(c.Context)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		PrintJSON(list)
		return nil
	}
	service.RenderParticipants(os.Stdout, list)
	return nil
}

func watchEvents(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := controlClient.Events(ctx)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var ev service.ViewEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || service.IsWebSocketCloseError(err) {
				return nil
			}
			logger.Debugw("event stream ended", "error", err)
			return err
		}
		PrintEvent(os.Stdout, ev)
	}
}

