// Package videoroom models the requests and events of the SFU's videoroom
// plugin. Events are parsed once into a single tagged Event type.
package videoroom

const Plugin = "janus.plugin.videoroom"

const (
	ErrorCodeNoSuchRoom    = 426
	ErrorCodeRoomExists    = 427
	ErrorCodeNoSuchFeed    = 428
	ErrorCodeAlreadyJoined = 425
)

const (
	PTypePublisher  = "publisher"
	PTypeSubscriber = "subscriber"
)

type Publisher struct {
	ID      uint64 `json:"id"`
	Display string `json:"display,omitempty"`
}

// Request is the body of a plugin message. Zero fields are omitted from the
// wire form.
type Request struct {
	Request    string `json:"request"`
	Room       uint64 `json:"room,omitempty"`
	PType      string `json:"ptype,omitempty"`
	Display    string `json:"display,omitempty"`
	Feed       uint64 `json:"feed,omitempty"`
	PrivateID  uint64 `json:"private_id,omitempty"`
	Publishers int    `json:"publishers,omitempty"`
	Bitrate    uint32 `json:"bitrate,omitempty"`
	Audio      *bool  `json:"audio,omitempty"`
	Video      *bool  `json:"video,omitempty"`
}

func JoinPublisher(room uint64, display string) Request {
	return Request{
		Request: "join",
		Room:    room,
		PType:   PTypePublisher,
		Display: display,
	}
}

// JoinSubscriber leaves private_id out when it is not known yet.
func JoinSubscriber(room uint64, feed uint64, privateID uint64) Request {
	return Request{
		Request:   "join",
		Room:      room,
		PType:     PTypeSubscriber,
		Feed:      feed,
		PrivateID: privateID,
	}
}

func Create(room uint64, publishers int, bitrate uint32) Request {
	return Request{
		Request:    "create",
		Room:       room,
		Publishers: publishers,
		Bitrate:    bitrate,
	}
}

func Configure(audio, video bool) Request {
	return Request{
		Request: "configure",
		Audio:   &audio,
		Video:   &video,
	}
}

func Start(room uint64) Request {
	return Request{
		Request: "start",
		Room:    room,
	}
}

func Leave() Request {
	return Request{Request: "leave"}
}
