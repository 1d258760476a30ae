package signalling

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
)

var (
	ErrConnectionClosed = errors.New("gateway connection closed")
	ErrSessionClosed    = errors.New("gateway session closed")
	ErrMissingID        = errors.New("gateway reply did not carry an id")
)

// GatewayError is an error reply from the gateway itself, as opposed to an
// error reported by a plugin inside a successful reply.
type GatewayError struct {
	Code   int
	Reason string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Reason)
}

// Message is a plugin payload, optionally paired with a session description.
type Message struct {
	Data json.RawMessage
	JSEP *webrtc.SessionDescription
}

type Gateway interface {
	CreateSession(ctx context.Context) (Session, error)
}

type Session interface {
	ID() uint64
	Attach(ctx context.Context, plugin string) (Handle, error)
	// Destroy is only valid on a session the gateway still knows about.
	Destroy(ctx context.Context) error
	// OnDestroyed fires at most once, when the gateway drops the session
	// without being asked to (timeout, lost connection).
	OnDestroyed(f func())
}

type Handle interface {
	ID() uint64
	// Send posts a plugin message and waits for its reply. Replies that the
	// gateway acknowledges first and answers asynchronously are awaited too.
	Send(ctx context.Context, body interface{}, jsep *webrtc.SessionDescription) (*Message, error)
	Hangup(ctx context.Context) error
	Detach(ctx context.Context) error
	// OnMessage receives plugin events not tied to a pending Send.
	OnMessage(f func(msg *Message))
	// OnCleanup fires at most once, when the gateway tears the handle's peer
	// connection down on its own. It does not fire after Hangup or Detach.
	OnCleanup(f func())
}
