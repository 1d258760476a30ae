package conference

import (
	"fmt"
	"slices"
)

type ConnectionState int

const (
	Idle ConnectionState = iota
	Connecting
	Connected
	// Failed is reported instead of Idle after a fatal error tore the
	// session down, until the next join.
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnectionState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = Idle
	case "connecting":
		*s = Connecting
	case "connected":
		*s = Connected
	case "failed":
		*s = Failed
	default:
		return fmt.Errorf("unknown connection state %q", text)
	}
	return nil
}

// State is an immutable snapshot of what the orchestrator exposes to the UI.
type State struct {
	ConnectionState ConnectionState `json:"connectionState"`
	IsSupported     bool            `json:"isSupported"`
	RoomID          uint64          `json:"roomId,omitempty"`
	AudioEnabled    bool            `json:"audioEnabled"`
	VideoEnabled    bool            `json:"videoEnabled"`
	Feeds           []FeedInfo      `json:"feeds"`
	Err             error           `json:"-"`
}

func (s State) IsConnecting() bool {
	return s.ConnectionState == Connecting
}

func (s State) IsConnected() bool {
	return s.ConnectionState == Connected
}

func (s State) ErrorString() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

func (s State) Equal(other State) bool {
	return s.ConnectionState == other.ConnectionState &&
		s.IsSupported == other.IsSupported &&
		s.RoomID == other.RoomID &&
		s.AudioEnabled == other.AudioEnabled &&
		s.VideoEnabled == other.VideoEnabled &&
		s.Err == other.Err &&
		slices.Equal(s.Feeds, other.Feeds)
}
