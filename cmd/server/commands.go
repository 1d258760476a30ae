package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/campuslink/confcore/pkg/config"
)

func printConfig(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return errors.Wrap(err, "get config")
	}

	out, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func printMedia(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return errors.Wrap(err, "get config")
	}
	return renderMedia(os.Stdout, conf)
}

func renderMedia(w io.Writer, conf *config.Config) error {
	table := tablewriter.NewWriter(w)
	table.SetRowLine(true)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Kind", "Publish", "Source", "Size"})
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT,
	})

	for _, m := range []struct {
		kind    string
		publish bool
		file    string
	}{
		{"audio", conf.Media.PublishAudio, conf.Media.AudioFile},
		{"video", conf.Media.PublishVideo, conf.Media.VideoFile},
	} {
		source, size := "silence", "-"
		if m.file != "" {
			info, err := os.Stat(m.file)
			if err != nil {
				return errors.Wrapf(err, "%s source", m.kind)
			}
			source = m.file
			size = humanize.Bytes(uint64(info.Size()))
		}
		table.Append([]string{m.kind, strconv.FormatBool(m.publish), source, size})
	}
	table.Render()

	fmt.Fprintf(w, "room capacity: %d publishers at %s\n",
		conf.Room.Publishers, humanize.SIWithDigits(float64(conf.Room.Bitrate), 0, "bps"))
	return nil
}
