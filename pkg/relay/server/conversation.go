package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mr-web-x/collectrelay/pkg/relay/config"
	"github.com/mr-web-x/collectrelay/pkg/relay/protocol"
	"github.com/mr-web-x/collectrelay/pkg/relay/replygen"
	"github.com/mr-web-x/collectrelay/pkg/relay/session"
	"github.com/mr-web-x/collectrelay/pkg/relay/sessions"
	"github.com/mr-web-x/collectrelay/pkg/relay/timers"
)

// ConversationHandler serves the /conversation websocket endpoint that
// ConversationRelay connects to. The first frame must be a setup; it either
// creates a session or re-attaches a reconnect to the one already running
// for that call SID.
type ConversationHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Clock     timers.Clock
	Generator replygen.Generator
	Registry  *sessions.Registry
}

func (h ConversationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	upgrader := websocket.Upgrader{
		// Twilio connects server to server without an Origin header.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	log := h.Logger
	if log == nil {
		log = slog.Default()
	}
	reqID, _ := RequestIDFrom(r.Context())

	if h.Config.WSMaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.WSMaxMessageBytes)
	}

	handshakeTimeout := h.Config.WSHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		log.Warn("setup frame not received", "request_id", reqID, "error", err)
		return
	}
	if messageType != websocket.TextMessage {
		log.Warn("first frame must be a text setup frame", "request_id", reqID)
		return
	}
	decoded, err := protocol.DecodeInbound(firstFrame)
	if err != nil {
		log.Warn("invalid setup frame", "request_id", reqID, "error", err)
		return
	}
	setup, ok := decoded.(protocol.Setup)
	if !ok {
		log.Warn("first frame must be setup", "request_id", reqID)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	transport := session.NewWSTransport(conn, h.Config.WSWriteTimeout)
	s := h.attachOrCreate(setup, transport, log)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.Enqueue(session.TransportClosedEvent(transport))
			return
		}
		msg, decodeErr := protocol.DecodeInbound(data)
		if decodeErr != nil {
			// Malformed or unknown frames are dropped; the call goes on.
			if protocol.IsUnsupported(decodeErr) {
				log.Info("unsupported frame dropped", "call_sid", setup.CallSID, "error", decodeErr)
			} else {
				log.Warn("malformed frame dropped", "call_sid", setup.CallSID, "error", decodeErr)
			}
			continue
		}
		switch m := msg.(type) {
		case protocol.Setup:
			s.Enqueue(session.SetupEvent(m))
		case protocol.Prompt:
			s.Enqueue(session.PromptEvent(m))
		case protocol.DTMF:
			s.Enqueue(session.DTMFEvent(m))
		case protocol.Interrupt:
			s.Enqueue(session.InterruptEvent(m))
		case protocol.TransportError:
			s.Enqueue(session.TransportErrorEvent(m))
		}
	}
}

func (h ConversationHandler) attachOrCreate(setup protocol.Setup, transport session.Transport, log *slog.Logger) *session.Session {
	if existing, ok := h.Registry.Lookup(setup.CallSID); ok && existing.Phase() != session.PhaseEnded {
		log.Info("re-attaching session", "call_sid", setup.CallSID)
		existing.Enqueue(session.AttachEvent(transport))
		return existing
	}

	var unregister func()
	s := session.New(session.Dependencies{
		CallID:    setup.CallSID,
		Logger:    log,
		Clock:     h.Clock,
		Transport: transport,
		Generator: h.Generator,
		OnRemove: func() {
			if unregister != nil {
				unregister()
			}
		},
		Config: session.Config{
			SilenceTimeout:        h.Config.SilenceTimeout,
			MaxSilenceRetries:     h.Config.MaxSilenceRetries,
			MaxCallDuration:       h.Config.MaxCallDuration,
			EndGraceDelay:         h.Config.EndGraceDelay,
			TurnTimeout:           h.Config.TurnTimeout,
			TTSLanguage:           h.Config.TTSLanguage,
			TranscriptionLanguage: h.Config.TranscriptionLanguage,
		},
	})
	unregister = h.Registry.Register(setup.CallSID, s)
	go s.Run()
	s.Enqueue(session.SetupEvent(setup))
	return s
}
