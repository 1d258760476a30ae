package conference

import (
	"github.com/campuslink/confcore/pkg/rtc/types"
)

// ParticipantViewSink renders remote feeds. Attach replaces whatever is
// present for the feed; Detach of an unknown feed is a no-op.
type ParticipantViewSink interface {
	Attach(feedID uint64, stream *types.RemoteStream)
	Detach(feedID uint64)
}
