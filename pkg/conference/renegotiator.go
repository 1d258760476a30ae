package conference

import (
	"github.com/livekit/protocol/logger"

	"github.com/campuslink/confcore/pkg/telemetry/prometheus"
)

type RenegotiatorParams struct {
	Logger logger.Logger
	// Desired returns the media the publisher should currently send.
	Desired func() (audio, video bool)
	// Exchange starts one offer/answer round trip and must eventually
	// report back through Complete with the same generation.
	Exchange func(generation uint64, audio, video bool)
	// OnComplete receives the outcome of the newest exchange only.
	OnComplete func(audio, video bool, err error)
}

// Renegotiator keeps at most one offer/answer exchange in flight on the
// publisher handle. Requests made while one is running collapse into a single
// follow-up built from the desired state at the time it starts, so the last
// request always wins regardless of completion order.
//
// Not safe for concurrent use; it lives on the conference event loop.
type Renegotiator struct {
	params RenegotiatorParams

	generation  uint64
	inFlight    bool
	inFlightGen uint64
	pending     bool
	degraded    bool
}

func NewRenegotiator(params RenegotiatorParams) *Renegotiator {
	return &Renegotiator{
		params: params,
	}
}

func (r *Renegotiator) Request() {
	r.generation++
	if r.inFlight {
		r.pending = true
		r.params.Logger.Debugw("renegotiation queued", "generation", r.generation, "inFlight", r.inFlightGen)
		return
	}
	r.start()
}

func (r *Renegotiator) start() {
	audio, video := r.params.Desired()
	r.inFlight = true
	r.inFlightGen = r.generation
	r.pending = false
	r.degraded = false
	r.params.Logger.Debugw("renegotiating", "generation", r.inFlightGen, "audio", audio, "video", video)
	r.params.Exchange(r.inFlightGen, audio, video)
}

// Complete reports the outcome of the exchange started for generation. A
// failed exchange that was sending audio is retried once without it.
func (r *Renegotiator) Complete(generation uint64, audio, video bool, err error) {
	if !r.inFlight || generation != r.inFlightGen {
		r.params.Logger.Debugw("ignoring stale renegotiation result", "generation", generation)
		return
	}
	r.inFlight = false

	if r.pending {
		prometheus.RecordRenegotiation("superseded")
		r.start()
		return
	}

	if err != nil && audio && !r.degraded {
		r.params.Logger.Infow("renegotiation failed, retrying without audio", "error", err, "generation", generation)
		prometheus.RecordRenegotiation("degraded")
		r.inFlight = true
		r.degraded = true
		r.params.Exchange(generation, false, video)
		return
	}

	if err != nil {
		prometheus.RecordRenegotiation("failed")
	} else {
		prometheus.RecordRenegotiation("success")
	}
	r.params.OnComplete(audio, video, err)
}

// Reset forgets any exchange in flight. Its result will be ignored.
func (r *Renegotiator) Reset() {
	r.generation++
	r.inFlight = false
	r.pending = false
	r.degraded = false
}

func (r *Renegotiator) InFlight() bool {
	return r.inFlight
}
