package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/urfave/negroni/v3"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/livekit/protocol/logger"

	"github.com/campuslink/confcore/pkg/conference"
	"github.com/campuslink/confcore/pkg/config"
	"github.com/campuslink/confcore/pkg/mediastate"
	"github.com/campuslink/confcore/pkg/signalling"
	"github.com/campuslink/confcore/version"
)

const (
	stateObserverKey = "agent"
	shutdownTimeout  = 5 * time.Second
)

// AgentServer runs one conference participant headless: the orchestrator,
// the media-state tracker and the local control API.
type AgentServer struct {
	config       *config.Config
	gateway      *signalling.JanusClient
	orchestrator *conference.Orchestrator
	viewSink     *ViewSink
	tracker      *mediastate.Tracker
	redisClient  redis.UniversalClient
	httpServer   *http.Server
	started      atomic.Bool
	running      atomic.Bool
	doneChan     chan struct{}
	closedChan   chan struct{}
}

func NewAgentServer(
	conf *config.Config,
	gateway *signalling.JanusClient,
	orchestrator *conference.Orchestrator,
	viewSink *ViewSink,
	tracker *mediastate.Tracker,
	rc redis.UniversalClient,
) *AgentServer {
	s := &AgentServer{
		config:       conf,
		gateway:      gateway,
		orchestrator: orchestrator,
		viewSink:     viewSink,
		tracker:      tracker,
		redisClient:  rc,
		doneChan:     make(chan struct{}),
		closedChan:   make(chan struct{}),
	}

	control := NewControlService(orchestrator, tracker.Store(), logger.GetLogger())

	mux := http.NewServeMux()
	control.SetupRoutes(mux)
	mux.Handle("GET /events", viewSink)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /", s.healthCheck)

	middlewares := []negroni.Handler{
		// always the first
		negroni.NewRecovery(),
	}
	if len(conf.API.CORSOrigins) > 0 {
		middlewares = append(middlewares, cors.New(cors.Options{
			AllowedOrigins: conf.API.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type"},
		}))
	}

	s.httpServer = &http.Server{
		Addr:    net.JoinHostPort(conf.API.BindAddress, fmt.Sprint(conf.API.Port)),
		Handler: configureMiddlewares(mux, middlewares...),
	}

	orchestrator.OnStateChanged(stateObserverKey, s.onStateChanged)
	return s
}

func (s *AgentServer) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *AgentServer) IsRunning() bool {
	return s.running.Load()
}

func (s *AgentServer) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("already running")
	}
	s.running.Store(true)
	defer close(s.closedChan)

	// ensure we could listen
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.shutdown()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infow("starting control API", "address", s.httpServer.Addr, "version", version.Version)
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return s.tracker.Run(gctx)
	})

	if s.config.Room.ID != 0 {
		logger.Infow("joining room on startup", "room", s.config.Room.ID, "display", s.config.Room.Display)
		s.orchestrator.JoinRoom(s.config.Room.ID, s.config.Room.Display)
	}

	select {
	case <-s.doneChan:
	case <-gctx.Done():
	}

	s.shutdown()
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Stop makes Start return after a full teardown.
func (s *AgentServer) Stop() {
	if !s.running.Load() {
		return
	}
	select {
	case <-s.doneChan:
	default:
		close(s.doneChan)
	}
	<-s.closedChan
}

func (s *AgentServer) shutdown() {
	// leaves the room, hangs up every feed and destroys the session
	s.orchestrator.Close()
	s.orchestrator.RemoveStateObserver(stateObserverKey)
	s.viewSink.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.tracker.Flush(ctx); err != nil {
		logger.Warnw("could not publish final media state", err)
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Warnw("control API did not shut down cleanly", err)
	}
	if err := s.gateway.Close(); err != nil {
		logger.Debugw("gateway close", "error", err)
	}
	if s.redisClient != nil {
		_ = s.redisClient.Close()
	}
	s.running.Store(false)
}

func (s *AgentServer) onStateChanged(state conference.State) {
	s.viewSink.OnState(state)

	connected := state.IsConnected()
	s.tracker.Update(connected && state.AudioEnabled, connected && state.VideoEnabled, false)
}

func (s *AgentServer) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func configureMiddlewares(handler http.Handler, middlewares ...negroni.Handler) *negroni.Negroni {
	n := negroni.New()
	for _, m := range middlewares {
		n.Use(m)
	}
	n.UseHandler(handler)
	return n
}
