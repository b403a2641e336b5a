package server

import (
	"log/slog"
	"net/http"

	"github.com/prescreenhq/prescreen/pkg/gateway/call/functions"
	"github.com/prescreenhq/prescreen/pkg/gateway/call/sessions"
	"github.com/prescreenhq/prescreen/pkg/gateway/call/transcript"
	"github.com/prescreenhq/prescreen/pkg/gateway/config"
	"github.com/prescreenhq/prescreen/pkg/gateway/handlers"
	"github.com/prescreenhq/prescreen/pkg/gateway/mw"
)

// Dependencies are the collaborators the HTTP surface is wired with. Tests
// substitute fakes; main wires the real store, extractor, and providers.
type Dependencies struct {
	Store     handlers.InterviewStore
	Pinger    handlers.Pinger
	Responses functions.ResponsesStore
	Extractor handlers.InfoExtractor
	Caller    handlers.CallPlacer
	Dialer    handlers.AgentDialer
	Sink      transcript.Sink
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	pending  *handlers.PendingInterviews
	sessions *sessions.Tracker
	registry *functions.Registry
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		pending:  handlers.NewPendingInterviews(),
		sessions: sessions.NewTracker(),
		registry: functions.NewRegistry(
			functions.EndCall{},
			functions.AgentFiller{},
			functions.StoreResponses{Store: deps.Responses, Logger: logger},
		),
	}

	s.routes(deps)
	return s
}

func (s *Server) routes(deps Dependencies) {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Store: deps.Pinger})

	s.mux.Handle("/v1/interviews", handlers.StartInterviewHandler{
		Config:    s.cfg,
		Store:     deps.Store,
		Extractor: deps.Extractor,
		Caller:    deps.Caller,
		Pending:   s.pending,
		Logger:    s.logger,
	})
	s.mux.Handle("/v1/interviews/summary", handlers.SummaryHandler{
		Store:  deps.Store,
		Logger: s.logger,
	})
	s.mux.Handle("/twilio", handlers.StreamHandler{
		Config:   s.cfg,
		Logger:   s.logger,
		Registry: s.registry,
		Sink:     deps.Sink,
		Pending:  s.pending,
		Sessions: s.sessions,
		Dialer:   deps.Dialer,
	})
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Sessions exposes the call tracker so shutdown can cancel in-flight calls
// and wait for their teardown.
func (s *Server) Sessions() *sessions.Tracker {
	return s.sessions
}
