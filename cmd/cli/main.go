package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"

	"github.com/campuslink/confcore/cmd/cli/commands"
	"github.com/campuslink/confcore/version"
)

// command line util that drives a running agent
func main() {
	app := &cli.App{
		Name:    "confcore-cli",
		Usage:   "control a confcore agent",
		Version: version.Version,
	}

	app.Commands = append(app.Commands, commands.RoomCommands...)

	logger.InitFromConfig(&logger.Config{Level: "info"}, "confcore-cli")
	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
