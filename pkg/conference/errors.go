package conference

import (
	"github.com/pkg/errors"
)

var (
	ErrNotSupported        = errors.New("real-time media is not supported")
	ErrJoinFailed          = errors.New("could not join room")
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomCreateFailed    = errors.New("could not create room")
	ErrRenegotiationFailed = errors.New("renegotiation failed")
	ErrPublisherLost       = errors.New("publisher connection lost")
	ErrSessionLost         = errors.New("gateway session lost")
	ErrNoAnswer            = errors.New("reply carried no session description")
	ErrNoOffer             = errors.New("subscriber join did not carry an offer")
)
