// Package mediastate carries the low-rate "who has audio and video on"
// indicators between participants of a meeting. It is independent of the
// SFU signalling.
package mediastate

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

var ErrMissingUserID = errors.New("media state message without userId")

// ID is a meeting or participant identifier. Peers send it either as a JSON
// number or as a string.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Wrap(err, "invalid id")
	}
	*id = ID(n.String())
	return nil
}

type Message struct {
	MeetingID       ID     `json:"meetingId"`
	UserID          ID     `json:"userId"`
	Display         string `json:"display,omitempty"`
	Audio           bool   `json:"audio"`
	Video           bool   `json:"video"`
	VideoDeviceLost bool   `json:"videoDeviceLost"`
}

func (m *Message) Validate() error {
	if m.UserID == "" {
		return ErrMissingUserID
	}
	return nil
}

func ParseMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "could not decode media state")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

type ParticipantMediaState struct {
	UserID          ID        `json:"userId"`
	DisplayName     string    `json:"display,omitempty"`
	AudioOn         bool      `json:"audio"`
	VideoOn         bool      `json:"video"`
	VideoDeviceLost bool      `json:"videoDeviceLost"`
	LastUpdated     time.Time `json:"lastUpdated"`
}
