package service

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"

	"github.com/campuslink/confcore/pkg/conference"
	"github.com/campuslink/confcore/pkg/mediastate"
)

var (
	ErrRoomRequired = errors.New("room is required")
	ErrBadRequest   = errors.New("could not parse request")
)

const maxRequestBody = 64 << 10

// Controller is the part of the orchestrator driven by the control API.
type Controller interface {
	JoinRoom(roomID uint64, display string)
	LeaveRoom()
	ToggleAudio()
	ToggleVideo()
	State() conference.State
}

type ParticipantSource interface {
	List() []mediastate.ParticipantMediaState
}

type JoinRequest struct {
	Room    uint64 `json:"room"`
	Display string `json:"display"`
}

type StateResponse struct {
	ConnectionState conference.ConnectionState `json:"connectionState"`
	IsSupported     bool                       `json:"isSupported"`
	IsConnecting    bool                       `json:"isConnecting"`
	IsConnected     bool                       `json:"isConnected"`
	RoomID          uint64                     `json:"roomId,omitempty"`
	AudioEnabled    bool                       `json:"audioEnabled"`
	VideoEnabled    bool                       `json:"videoEnabled"`
	Feeds           []conference.FeedInfo      `json:"feeds"`
	Error           string                     `json:"error,omitempty"`
}

func newStateResponse(s conference.State) *StateResponse {
	feeds := s.Feeds
	if feeds == nil {
		feeds = []conference.FeedInfo{}
	}
	return &StateResponse{
		ConnectionState: s.ConnectionState,
		IsSupported:     s.IsSupported,
		IsConnecting:    s.IsConnecting(),
		IsConnected:     s.IsConnected(),
		RoomID:          s.RoomID,
		AudioEnabled:    s.AudioEnabled,
		VideoEnabled:    s.VideoEnabled,
		Feeds:           feeds,
		Error:           s.ErrorString(),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// ControlService exposes the orchestrator operations over local HTTP.
// Mutating calls are accepted and return immediately; callers poll
// GET /room or follow /events for the outcome.
type ControlService struct {
	controller   Controller
	participants ParticipantSource
	logger       logger.Logger
}

func NewControlService(controller Controller, participants ParticipantSource, l logger.Logger) *ControlService {
	if l == nil {
		l = logger.GetLogger()
	}
	return &ControlService{
		controller:   controller,
		participants: participants,
		logger:       l.WithName("control"),
	}
}

func (s *ControlService) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /room/join", s.handleJoin)
	mux.HandleFunc("POST /room/leave", s.handleLeave)
	mux.HandleFunc("POST /room/audio", s.handleToggleAudio)
	mux.HandleFunc("POST /room/video", s.handleToggleVideo)
	mux.HandleFunc("GET /room", s.handleState)
	mux.HandleFunc("GET /participants", s.handleParticipants)
}

func (s *ControlService) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(ErrBadRequest, err.Error()))
		return
	}
	if req.Room == 0 {
		writeError(w, http.StatusBadRequest, ErrRoomRequired)
		return
	}

	s.logger.Infow("join requested", "room", req.Room, "display", req.Display)
	s.controller.JoinRoom(req.Room, req.Display)
	w.WriteHeader(http.StatusAccepted)
}

func (s *ControlService) handleLeave(w http.ResponseWriter, _ *http.Request) {
	s.logger.Infow("leave requested")
	s.controller.LeaveRoom()
	w.WriteHeader(http.StatusAccepted)
}

func (s *ControlService) handleToggleAudio(w http.ResponseWriter, _ *http.Request) {
	s.controller.ToggleAudio()
	w.WriteHeader(http.StatusAccepted)
}

func (s *ControlService) handleToggleVideo(w http.ResponseWriter, _ *http.Request) {
	s.controller.ToggleVideo()
	w.WriteHeader(http.StatusAccepted)
}

func (s *ControlService) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newStateResponse(s.controller.State()))
}

func (s *ControlService) handleParticipants(w http.ResponseWriter, r *http.Request) {
	var list []mediastate.ParticipantMediaState
	if s.participants != nil {
		list = s.participants.List()
	}
	if list == nil {
		list = []mediastate.ParticipantMediaState{}
	}

	if r.URL.Query().Get("format") != "text" {
		writeJSON(w, http.StatusOK, list)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	RenderParticipants(w, list)
}

// RenderParticipants writes participants as a table.
func RenderParticipants(w io.Writer, list []mediastate.ParticipantMediaState) {
	table := tablewriter.NewWriter(w)
	table.SetRowLine(true)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"User", "Display", "Audio", "Video", "Device lost", "Updated"})
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_CENTER, tablewriter.ALIGN_CENTER, tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_RIGHT,
	})
	for _, p := range list {
		updated := ""
		if !p.LastUpdated.IsZero() {
			updated = humanize.Time(p.LastUpdated)
		}
		table.Append([]string{
			string(p.UserID),
			p.DisplayName,
			onOff(p.AudioOn),
			onOff(p.VideoOn),
			strconv.FormatBool(p.VideoDeviceLost),
			updated,
		})
	}
	table.Render()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
