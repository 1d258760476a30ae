package videoroom

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindJoined
	KindCreated
	KindAttached
	KindEvent
	KindUpdated
	KindDestroyed
)

func (k Kind) String() string {
	switch k {
	case KindJoined:
		return "joined"
	case KindCreated:
		return "created"
	case KindAttached:
		return "attached"
	case KindEvent:
		return "event"
	case KindUpdated:
		return "updated"
	case KindDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

var (
	ErrEmptyEvent   = errors.New("empty videoroom event")
	ErrInvalidFeed  = errors.New("invalid feed reference")
	okSentinelValue = "ok"
)

// Event is the parsed form of every videoroom plugin payload.
//
// Leaving and Unpublished carry a feed id. The server also sends the bare
// string "ok" in those fields to acknowledge the client's own leave or
// unpublish; that arrives as LeavingOK or UnpublishedOK with no feed id.
type Event struct {
	Kind Kind

	Room      uint64
	ID        uint64
	PrivateID uint64

	Publishers []Publisher

	// SkippedPublishers counts publisher entries dropped as malformed.
	SkippedPublishers int

	Leaving       uint64
	LeavingOK     bool
	Unpublished   uint64
	UnpublishedOK bool

	Configured bool
	Started    bool

	ErrorCode int
	Error     string
}

type rawEvent struct {
	VideoRoom   string            `json:"videoroom"`
	Room        json.Number       `json:"room"`
	ID          json.Number       `json:"id"`
	PrivateID   json.Number       `json:"private_id"`
	Publishers  []json.RawMessage `json:"publishers"`
	Leaving     json.RawMessage   `json:"leaving"`
	Unpublished json.RawMessage   `json:"unpublished"`
	Configured  string            `json:"configured"`
	Started     string            `json:"started"`
	ErrorCode   int               `json:"error_code"`
	Error       string            `json:"error"`
}

type rawPublisher struct {
	ID      json.Number `json:"id"`
	Display string      `json:"display"`
}

func ParseEvent(data []byte) (*Event, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyEvent
	}

	var raw rawEvent
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "could not decode videoroom event")
	}

	ev := &Event{
		Kind:       parseKind(raw.VideoRoom),
		Configured: raw.Configured == okSentinelValue,
		Started:    raw.Started == okSentinelValue,
		ErrorCode:  raw.ErrorCode,
		Error:      raw.Error,
	}

	var err error
	if ev.Room, err = parseNumber(raw.Room); err != nil {
		return nil, errors.Wrap(err, "room")
	}
	if ev.ID, err = parseNumber(raw.ID); err != nil {
		return nil, errors.Wrap(err, "id")
	}
	if ev.PrivateID, err = parseNumber(raw.PrivateID); err != nil {
		return nil, errors.Wrap(err, "private_id")
	}

	// a bad entry must not hide the leaving/unpublished carried alongside it
	for _, data := range raw.Publishers {
		p, err := parsePublisher(data)
		if err != nil {
			logger.Warnw("skipping invalid publisher", err, "room", ev.Room, "publisher", string(data))
			ev.SkippedPublishers++
			continue
		}
		ev.Publishers = append(ev.Publishers, p)
	}

	if ev.Leaving, ev.LeavingOK, err = parseFeedRef(raw.Leaving); err != nil {
		return nil, errors.Wrap(err, "leaving")
	}
	if ev.Unpublished, ev.UnpublishedOK, err = parseFeedRef(raw.Unpublished); err != nil {
		return nil, errors.Wrap(err, "unpublished")
	}

	return ev, nil
}

func (e *Event) IsError() bool {
	return e.ErrorCode != 0 || e.Error != ""
}

func (e *Event) IsRoomNotFound() bool {
	if e.ErrorCode == ErrorCodeNoSuchRoom {
		return true
	}
	msg := strings.ToLower(e.Error)
	return strings.Contains(msg, "room not found") || strings.Contains(msg, "no such room")
}

func parseKind(s string) Kind {
	switch s {
	case "joined":
		return KindJoined
	case "created":
		return KindCreated
	case "attached":
		return KindAttached
	case "event":
		return KindEvent
	case "updated":
		return KindUpdated
	case "destroyed":
		return KindDestroyed
	default:
		return KindUnknown
	}
}

func parsePublisher(data json.RawMessage) (Publisher, error) {
	var raw rawPublisher
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return Publisher{}, errors.Wrap(ErrInvalidFeed, err.Error())
	}
	id, err := parseNumber(raw.ID)
	if err != nil || id == 0 {
		return Publisher{}, errors.Wrapf(ErrInvalidFeed, "publisher %q", raw.ID)
	}
	return Publisher{ID: id, Display: raw.Display}, nil
}

func parseNumber(n json.Number) (uint64, error) {
	if n == "" {
		return 0, nil
	}
	return strconv.ParseUint(string(n), 10, 64)
}

// parseFeedRef accepts a numeric id, a quoted numeric id or the "ok" sentinel.
func parseFeedRef(raw json.RawMessage) (uint64, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false, err
		}
		if s == okSentinelValue {
			return 0, true, nil
		}
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, false, errors.Wrapf(ErrInvalidFeed, "%q", s)
		}
		return id, false, nil
	}

	id, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(ErrInvalidFeed, "%s", raw)
	}
	return id, false, nil
}
