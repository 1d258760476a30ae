package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/campuslink/confcore/pkg/service"
)

func PrintJSON(obj interface{}) {
	txt, _ := json.Marshal(obj)
	fmt.Println(string(txt))
}

func PrintState(w io.Writer, state *service.StateResponse) {
	room := "-"
	if state.RoomID != 0 {
		room = strconv.FormatUint(state.RoomID, 10)
	}
	fmt.Fprintf(w, "state: %s  room: %s  audio: %s  video: %s\n",
		state.ConnectionState, room, onOff(state.AudioEnabled), onOff(state.VideoEnabled))
	if !state.IsSupported {
		fmt.Fprintln(w, "real-time media is not supported by this agent")
	}
	if state.Error != "" {
		fmt.Fprintf(w, "error: %s\n", state.Error)
	}
	if len(state.Feeds) == 0 {
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetRowLine(true)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Feed", "Display", "Media"})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER})
	for _, f := range state.Feeds {
		media := "pending"
		if f.Ready {
			media = "ready"
		}
		table.Append([]string{strconv.FormatUint(f.ID, 10), f.Display, media})
	}
	table.Render()
}

func PrintEvent(w io.Writer, ev service.ViewEvent) {
	switch ev.Type {
	case service.EventAttach:
		kinds := make([]string, 0, len(ev.Tracks))
		for _, t := range ev.Tracks {
			kinds = append(kinds, t.Kind)
		}
		fmt.Fprintf(w, "attach  feed=%d display=%q tracks=[%s]\n", ev.FeedID, ev.Display, strings.Join(kinds, ","))
	case service.EventDetach:
		fmt.Fprintf(w, "detach  feed=%d\n", ev.FeedID)
	case service.EventState:
		if ev.State == nil {
			return
		}
		fmt.Fprintf(w, "state   %s room=%d feeds=%d", ev.State.ConnectionState, ev.State.RoomID, len(ev.State.Feeds))
		if ev.State.Error != "" {
			fmt.Fprintf(w, " error=%q", ev.State.Error)
		}
		fmt.Fprintln(w)
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
