package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mr-web-x/collectrelay/pkg/relay/config"
	"github.com/mr-web-x/collectrelay/pkg/twilio"
)

// CallPlacer is the slice of the Twilio client the call endpoint needs.
type CallPlacer interface {
	PlaceCall(ctx context.Context, to, from, voiceURL string) (twilio.Call, error)
}

// CallHandler serves POST /call: it dials the given number and points the
// answered call at the TwiML webhook.
type CallHandler struct {
	Config config.Config
	Logger *slog.Logger
	Calls  CallPlacer
}

func (h CallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"success": false, "error": "method not allowed"})
		return
	}
	if h.Calls == nil || !h.Config.OutboundCallingEnabled() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "outbound calling is not configured"})
		return
	}

	var body struct {
		To string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.To == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "to is required"})
		return
	}

	voiceURL := fmt.Sprintf("https://%s/twiml", h.Config.PublicHost)
	call, err := h.Calls.PlaceCall(r.Context(), body.To, h.Config.TwilioFromNumber, voiceURL)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("outbound call failed", "to", body.To, "error", err)
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": err.Error()})
		return
	}

	if h.Logger != nil {
		h.Logger.Info("outbound call placed", "call_sid", call.SID, "to", body.To)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sid": call.SID})
}

// TwiMLHandler serves the voice webhook: it returns the TwiML that bridges
// the answered call onto the /conversation websocket.
type TwiMLHandler struct {
	Config config.Config
	Logger *slog.Logger
}

const twimlTemplate = `<Response>
  <Connect action="https://%s/connect-action">
    <ConversationRelay url="wss://%s/conversation">
      <Language code="%s" ttsProvider="google" voice="sk-SK-Standard-B" transcriptionProvider="google" speechModel="long" />
    </ConversationRelay>
  </Connect>
</Response>`

func (h TwiMLHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	_ = r.ParseForm()
	if h.Logger != nil {
		h.Logger.Info("twiml requested", "call_sid", r.PostForm.Get("CallSid"))
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	fmt.Fprintf(w, twimlTemplate, h.Config.PublicHost, h.Config.PublicHost, h.Config.TTSLanguage)
}

// ConnectActionHandler receives the ConversationRelay completion callback
// and hangs the call up with a spoken farewell.
type ConnectActionHandler struct {
	Config config.Config
	Logger *slog.Logger
}

const connectActionTwiML = `<Response>
  <Say language="%s">Dovidenia.</Say>
  <Hangup />
</Response>`

func (h ConnectActionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	_ = r.ParseForm()
	if h.Logger != nil {
		h.Logger.Info("relay session finished",
			"call_sid", r.PostForm.Get("CallSid"),
			"status", r.PostForm.Get("SessionStatus"),
			"duration_s", r.PostForm.Get("SessionDuration"),
			"handoff", r.PostForm.Get("HandoffData"),
		)
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	fmt.Fprintf(w, connectActionTwiML, h.Config.TTSLanguage)
}

type HealthHandler struct{}

func (HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
