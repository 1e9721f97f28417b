// Package protocol defines the ConversationRelay wire schema: the JSON
// messages the transport delivers for one call session and the frames the
// orchestrator sends back.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	TypeSetup     = "setup"
	TypePrompt    = "prompt"
	TypeDTMF      = "dtmf"
	TypeInterrupt = "interrupt"
	TypeError     = "error"

	TypeText     = "text"
	TypeLanguage = "language"
	TypeEnd      = "end"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// IsUnsupported reports whether err is a decode error for an unknown message
// type. The session drops such events instead of terminating.
func IsUnsupported(err error) bool {
	de, ok := err.(*DecodeError)
	return ok && de.Code == "unsupported"
}

// Setup begins a session. CustomParameters carries the borrower profile.
type Setup struct {
	Type             string            `json:"type"`
	SessionID        string            `json:"sessionId"`
	CallSID          string            `json:"callSid"`
	From             string            `json:"from,omitempty"`
	To               string            `json:"to,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// Prompt is a client utterance. The session acts only when Last is true.
type Prompt struct {
	Type        string `json:"type"`
	VoicePrompt string `json:"voicePrompt"`
	Lang        string `json:"lang,omitempty"`
	Last        bool   `json:"last"`
}

type DTMF struct {
	Type  string `json:"type"`
	Digit string `json:"digit"`
}

// Interrupt reports that playback was cut off by the client. Informational.
type Interrupt struct {
	Type                     string `json:"type"`
	UtteranceUntilInterrupt  string `json:"utteranceUntilInterrupt,omitempty"`
	DurationUntilInterruptMS int64  `json:"durationUntilInterruptMs,omitempty"`
}

type TransportError struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// DecodeInbound parses one inbound frame. Unknown types return an unsupported
// DecodeError so callers can log and drop them.
func DecodeInbound(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeSetup:
		var msg Setup
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid setup frame", "")
		}
		if strings.TrimSpace(msg.CallSID) == "" {
			return nil, badRequest("setup.callSid is required", "callSid")
		}
		return msg, nil
	case TypePrompt:
		var msg Prompt
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid prompt frame", "")
		}
		return msg, nil
	case TypeDTMF:
		var msg DTMF
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid dtmf frame", "")
		}
		if strings.TrimSpace(msg.Digit) == "" {
			return nil, badRequest("dtmf.digit is required", "digit")
		}
		return msg, nil
	case TypeInterrupt:
		var msg Interrupt
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid interrupt frame", "")
		}
		return msg, nil
	case TypeError:
		var msg TransportError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid error frame", "")
		}
		return msg, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

// TextToken is one outbound reply chunk. Exactly one token per turn carries
// Last.
type TextToken struct {
	Type  string `json:"type"`
	Token string `json:"token"`
	Last  bool   `json:"last"`
}

func NewTextToken(token string, last bool) TextToken {
	return TextToken{Type: TypeText, Token: token, Last: last}
}

// Language configures per-session TTS and transcription languages.
type Language struct {
	Type                  string `json:"type"`
	TTSLanguage           string `json:"ttsLanguage"`
	TranscriptionLanguage string `json:"transcriptionLanguage"`
}

func NewLanguage(tts, transcription string) Language {
	return Language{Type: TypeLanguage, TTSLanguage: tts, TranscriptionLanguage: transcription}
}

// End terminates the transport. HandoffData is an embedded JSON document with
// structured termination metadata.
type End struct {
	Type        string `json:"type"`
	HandoffData string `json:"handoffData,omitempty"`
}

func NewEnd(handoff Handoff) End {
	data, err := json.Marshal(handoff)
	if err != nil {
		// Handoff is plain data; marshal cannot realistically fail. Send the
		// end frame without metadata rather than holding the line open.
		return End{Type: TypeEnd}
	}
	return End{Type: TypeEnd, HandoffData: string(data)}
}

// HandoffTurn mirrors one dialog turn in the handoff document.
type HandoffTurn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type Handoff struct {
	Reason         string        `json:"reason"`
	Timestamp      string        `json:"timestamp"`
	CallSID        string        `json:"callSid,omitempty"`
	SilenceRetries int           `json:"silenceRetries"`
	Dialog         []HandoffTurn `json:"dialog,omitempty"`
}

func NewHandoff(reason, callSID string, at time.Time, silenceRetries int, turns []HandoffTurn) Handoff {
	return Handoff{
		Reason:         reason,
		Timestamp:      at.UTC().Format(time.RFC3339),
		CallSID:        callSID,
		SilenceRetries: silenceRetries,
		Dialog:         turns,
	}
}
