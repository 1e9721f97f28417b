// Package server wires the HTTP surface: the ConversationRelay websocket,
// the Twilio webhooks and health.
package server

import (
	"log/slog"
	"net/http"

	"github.com/mr-web-x/collectrelay/pkg/relay/config"
	"github.com/mr-web-x/collectrelay/pkg/relay/replygen"
	"github.com/mr-web-x/collectrelay/pkg/relay/sessions"
	"github.com/mr-web-x/collectrelay/pkg/relay/timers"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	registry *sessions.Registry
}

// Dependencies are the server's injectable collaborators.
type Dependencies struct {
	Logger    *slog.Logger
	Clock     timers.Clock
	Generator replygen.Generator
	Registry  *sessions.Registry
	Calls     CallPlacer
}

func New(cfg config.Config, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := deps.Registry
	if registry == nil {
		registry = sessions.NewRegistry()
	}
	clock := deps.Clock
	if clock == nil {
		clock = timers.Real()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		registry: registry,
	}

	s.mux.Handle("/healthz", HealthHandler{})
	s.mux.Handle("/conversation", ConversationHandler{
		Config:    cfg,
		Logger:    logger,
		Clock:     clock,
		Generator: deps.Generator,
		Registry:  registry,
	})

	twiml := TwiMLHandler{Config: cfg, Logger: logger}
	s.mux.Handle("/twiml", twiml)
	// Legacy webhook path kept for already-configured Twilio numbers.
	s.mux.Handle("/api/webhooks/twiml", twiml)
	s.mux.Handle("/connect-action", ConnectActionHandler{Config: cfg, Logger: logger})
	s.mux.Handle("/call", CallHandler{Config: cfg, Logger: logger, Calls: deps.Calls})

	return s
}

// Registry exposes the session registry for shutdown draining.
func (s *Server) Registry() *sessions.Registry { return s.registry }

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = Recover(s.logger, h)
	h = AccessLog(s.logger, h)
	h = RequestID(h)
	return h
}
