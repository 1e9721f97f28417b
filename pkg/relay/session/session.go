// Package session holds the per-call state machine. Each live call gets one
// Session whose single worker goroutine owns all mutable state; transports,
// timers and the HTTP layer only post events into its queue.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mr-web-x/collectrelay/pkg/relay/analysis"
	"github.com/mr-web-x/collectrelay/pkg/relay/dialog"
	"github.com/mr-web-x/collectrelay/pkg/relay/protocol"
	"github.com/mr-web-x/collectrelay/pkg/relay/replygen"
	"github.com/mr-web-x/collectrelay/pkg/relay/timers"
)

var errTransportClosed = errors.New("transport closed")

// Phase is the session lifecycle stage. All transitions happen on the worker
// goroutine; Phase() reads are safe from anywhere.
type Phase int32

const (
	PhasePending Phase = iota
	PhaseConnected
	PhaseAwaitingInput
	PhaseGenerating
	PhaseTerminating
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseConnected:
		return "connected"
	case PhaseAwaitingInput:
		return "awaiting_input"
	case PhaseGenerating:
		return "generating"
	case PhaseTerminating:
		return "terminating"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Termination reasons recorded in the handoff document.
const (
	EndReasonFarewell        = "farewell"
	EndReasonFatigue         = "persuasion_fatigue"
	EndReasonSilenceTimeout  = "silence_timeout"
	EndReasonCallTimeout     = "call_timeout"
	EndReasonOperatorRequest = "operator_request"
	EndReasonTransportClosed = "transport_closed"
	EndReasonTransportError  = "transport_error"
	EndReasonShutdown        = "shutdown"
	EndReasonAgentFarewell   = "agent_farewell"
)

// Config carries the tunable session parameters. Zero values are filled with
// defaults by normalize.
type Config struct {
	// SilenceTimeout is re-armed after every agent turn; each fire costs one
	// retry until MaxSilenceRetries is spent.
	SilenceTimeout    time.Duration
	MaxSilenceRetries int

	// MaxCallDuration bounds the whole call. Activity never extends it.
	MaxCallDuration time.Duration

	// EndGraceDelay separates the spoken closing from the end frame, so TTS
	// has a chance to finish before the transport drops.
	EndGraceDelay time.Duration

	// TurnTimeout bounds one reply generation.
	TurnTimeout time.Duration

	Greeting        string
	RepromptPhrases []string
	SilenceClosing  string

	// OperatorTransferNotice is spoken before ending on a DTMF "0".
	OperatorTransferNotice string

	TTSLanguage           string
	TranscriptionLanguage string

	EventQueueSize int
}

const (
	defaultSilenceTimeout    = 12 * time.Second
	defaultMaxSilenceRetries = 2
	defaultMaxCallDuration   = 10 * time.Minute
	defaultEndGraceDelay     = 2 * time.Second
	defaultTurnTimeout       = 30 * time.Second
	defaultEventQueueSize    = 32

	defaultTTSLanguage           = "sk-SK"
	defaultTranscriptionLanguage = "sk-SK"
)

const defaultGreeting = "Dobrý deň, volám sa Lenka. Zastupujem oddelenie vymáhania pohľadávok. " +
	"Radi by sme s vami prediskutovali otázku vašej neuhradenej dlžoby. " +
	"Tento hovor bude zaznamenávaný za účelom zlepšenia kvality služieb. " +
	"Prosím, potvrďte, že môžete hovoriť."

var defaultRepromptPhrases = []string{
	"Haló, počujete ma? Som tu kvôli vášmu úveru po splatnosti.",
	"Ste tam? Potrebujem s vami prebrať splatenie vášho dlhu.",
}

const defaultSilenceClosing = "Bohužiaľ vás nepočujem. Zavoláme vám neskôr. Dovidenia."

const defaultOperatorTransferNotice = "Rozumiem, prepájam vás na operátora. Prosím, zostaňte na linke."

func (c Config) normalize() Config {
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = defaultSilenceTimeout
	}
	if c.MaxSilenceRetries <= 0 {
		c.MaxSilenceRetries = defaultMaxSilenceRetries
	}
	if c.MaxCallDuration <= 0 {
		c.MaxCallDuration = defaultMaxCallDuration
	}
	if c.EndGraceDelay <= 0 {
		c.EndGraceDelay = defaultEndGraceDelay
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = defaultTurnTimeout
	}
	if c.Greeting == "" {
		c.Greeting = defaultGreeting
	}
	if len(c.RepromptPhrases) == 0 {
		c.RepromptPhrases = defaultRepromptPhrases
	}
	if c.SilenceClosing == "" {
		c.SilenceClosing = defaultSilenceClosing
	}
	if c.OperatorTransferNotice == "" {
		c.OperatorTransferNotice = defaultOperatorTransferNotice
	}
	if c.TTSLanguage == "" {
		c.TTSLanguage = defaultTTSLanguage
	}
	if c.TranscriptionLanguage == "" {
		c.TranscriptionLanguage = defaultTranscriptionLanguage
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = defaultEventQueueSize
	}
	return c
}

// Dependencies wires one session. Everything but OnRemove is required.
type Dependencies struct {
	CallID      string
	Logger      *slog.Logger
	Clock       timers.Clock
	Transport   Transport
	Generator   replygen.Generator
	EndDetector analysis.EndDetector
	Tactics     *analysis.TacticSelector

	// OnRemove runs once, when the session reaches Ended.
	OnRemove func()

	Config Config
}

type eventKind int

const (
	eventSetup eventKind = iota
	eventPrompt
	eventDTMF
	eventInterrupt
	eventTransportError
	eventTransportClosed
	eventSilenceTimeout
	eventCallTimeout
	eventEndGrace
	eventAttach
	eventShutdown
)

func (k eventKind) String() string {
	switch k {
	case eventSetup:
		return "setup"
	case eventPrompt:
		return "prompt"
	case eventDTMF:
		return "dtmf"
	case eventInterrupt:
		return "interrupt"
	case eventTransportError:
		return "transport_error"
	case eventTransportClosed:
		return "transport_closed"
	case eventSilenceTimeout:
		return "silence_timeout"
	case eventCallTimeout:
		return "call_timeout"
	case eventEndGrace:
		return "end_grace"
	case eventAttach:
		return "attach"
	case eventShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Event is one unit of work for the session worker. Timer fires travel
// through the same queue as transport frames, so the worker never races
// itself.
type Event struct {
	kind       eventKind
	setup      protocol.Setup
	prompt     protocol.Prompt
	dtmf       protocol.DTMF
	interrupt  protocol.Interrupt
	errMsg     protocol.TransportError
	transport  Transport
	timerEpoch uint64
}

func SetupEvent(msg protocol.Setup) Event { return Event{kind: eventSetup, setup: msg} }

func PromptEvent(msg protocol.Prompt) Event { return Event{kind: eventPrompt, prompt: msg} }

func DTMFEvent(msg protocol.DTMF) Event { return Event{kind: eventDTMF, dtmf: msg} }

func InterruptEvent(msg protocol.Interrupt) Event { return Event{kind: eventInterrupt, interrupt: msg} }

func TransportErrorEvent(msg protocol.TransportError) Event {
	return Event{kind: eventTransportError, errMsg: msg}
}

// TransportClosedEvent reports that a transport's read side ended. The
// carried transport lets the session ignore closes from a connection it has
// already replaced.
func TransportClosedEvent(t Transport) Event {
	return Event{kind: eventTransportClosed, transport: t}
}

// AttachEvent swaps the session onto a fresh transport after a reconnect.
func AttachEvent(t Transport) Event { return Event{kind: eventAttach, transport: t} }

func ShutdownEvent() Event { return Event{kind: eventShutdown} }

// Session is the per-call orchestrator. Construct with New, start Run on its
// own goroutine, feed it with Enqueue.
type Session struct {
	callID string
	log    *slog.Logger
	clock  timers.Clock
	cfg    Config

	generator replygen.Generator
	detector  analysis.EndDetector
	tactics   *analysis.TacticSelector
	onRemove  func()

	phase atomic.Int32

	events chan Event
	done   chan struct{}

	cleanupOnce sync.Once

	// Worker-owned state below. Touched only from Run.
	transport      Transport
	dialog         *dialog.Log
	profile        dialog.BorrowerProfile
	silenceRetries int
	silenceEpoch   uint64
	silenceTimer   timers.Handle
	callTimer      timers.Handle
	graceTimer     timers.Handle
	callDeadline   time.Time
	startedAt      time.Time
	endReason      string
}

func New(deps Dependencies) *Session {
	cfg := deps.Config.normalize()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = timers.Real()
	}
	detector := deps.EndDetector
	if detector == nil {
		detector = analysis.NewPatternEndDetector()
	}
	tactics := deps.Tactics
	if tactics == nil {
		tactics = analysis.NewTacticSelector(nil)
	}

	s := &Session{
		callID:    deps.CallID,
		log:       logger.With("call_id", deps.CallID),
		clock:     clock,
		cfg:       cfg,
		generator: deps.Generator,
		detector:  detector,
		tactics:   tactics,
		onRemove:  deps.OnRemove,
		events:    make(chan Event, cfg.EventQueueSize),
		done:      make(chan struct{}),
		transport: deps.Transport,
		dialog:    dialog.NewLog(),
	}
	s.phase.Store(int32(PhasePending))
	return s
}

func (s *Session) CallID() string { return s.callID }

func (s *Session) Phase() Phase { return Phase(s.phase.Load()) }

// Done closes when the session has fully cleaned up.
func (s *Session) Done() <-chan struct{} { return s.done }

// Enqueue posts one event to the worker. Events arriving after the session
// ended are accepted and logged, never dispatched.
func (s *Session) Enqueue(ev Event) {
	select {
	case <-s.done:
		s.log.Info("event ignored, session ended", "event", ev.kind.String())
		return
	default:
	}
	select {
	case s.events <- ev:
	case <-s.done:
		s.log.Info("event ignored, session ended", "event", ev.kind.String())
	}
}

// Run is the worker loop. It owns every mutable field until the session
// reaches Ended, then drains whatever is still queued.
func (s *Session) Run() {
	for {
		select {
		case ev := <-s.events:
			s.dispatch(ev)
		case <-s.done:
			s.drain()
			return
		}
	}
}

func (s *Session) drain() {
	for {
		select {
		case ev := <-s.events:
			s.log.Info("event ignored, session ended", "event", ev.kind.String())
		default:
			return
		}
	}
}

func (s *Session) dispatch(ev Event) {
	if s.Phase() == PhaseEnded {
		s.log.Info("event ignored, session ended", "event", ev.kind.String())
		return
	}
	switch ev.kind {
	case eventSetup:
		s.handleSetup(ev.setup)
	case eventPrompt:
		s.handlePrompt(ev.prompt)
	case eventDTMF:
		s.handleDTMF(ev.dtmf)
	case eventInterrupt:
		s.log.Info("playback interrupted",
			"utterance", ev.interrupt.UtteranceUntilInterrupt,
			"duration_ms", ev.interrupt.DurationUntilInterruptMS)
	case eventTransportError:
		s.log.Warn("transport reported error", "description", ev.errMsg.Description)
	case eventTransportClosed:
		s.handleTransportClosed(ev.transport)
	case eventSilenceTimeout:
		s.handleSilenceTimeout(ev.timerEpoch)
	case eventCallTimeout:
		s.handleCallTimeout()
	case eventEndGrace:
		s.handleEndGrace()
	case eventAttach:
		s.handleAttach(ev.transport)
	case eventShutdown:
		s.handleShutdown()
	}
}

func (s *Session) handleSetup(msg protocol.Setup) {
	if s.Phase() != PhasePending {
		s.log.Warn("duplicate setup ignored", "phase", s.Phase().String())
		return
	}

	s.profile = dialog.ParseBorrowerProfile(msg.CustomParameters)
	s.startedAt = s.clock.Now()
	s.callDeadline = s.startedAt.Add(s.cfg.MaxCallDuration)
	s.log.Info("session started",
		"session_id", msg.SessionID,
		"call_sid", msg.CallSID,
		"from", msg.From,
		"borrower", s.profile.Name)

	if err := s.transport.SendLanguage(s.cfg.TTSLanguage, s.cfg.TranscriptionLanguage); err != nil {
		s.log.Warn("language frame dropped", "error", err)
	}

	s.callTimer = s.clock.Arm(s.cfg.MaxCallDuration, func() {
		s.Enqueue(Event{kind: eventCallTimeout})
	})

	s.sendFinal(s.cfg.Greeting)
	s.dialog.Append(dialog.SpeakerAgent, s.cfg.Greeting, s.clock.Now())

	s.phase.Store(int32(PhaseConnected))
	s.armSilence()
}

func (s *Session) handlePrompt(msg protocol.Prompt) {
	if !msg.Last {
		return
	}
	phase := s.Phase()
	if phase != PhaseConnected && phase != PhaseAwaitingInput && phase != PhaseGenerating {
		s.log.Info("prompt ignored", "phase", phase.String())
		return
	}

	utterance := msg.VoicePrompt
	s.cancelSilence()
	s.silenceRetries = 0

	// Tactic selection looks at history only; snapshot before appending the
	// current utterance.
	history := s.dialog.Snapshot()
	s.dialog.Append(dialog.SpeakerClient, utterance, s.clock.Now())
	s.log.Info("client turn", "text", utterance)

	verdict := s.detector.Evaluate(utterance, s.dialog.Snapshot())
	if verdict.ShouldEnd {
		s.log.Info("conversation end detected", "reason", string(verdict.Reason))
		s.sendFinal(verdict.ClosingMessage)
		s.dialog.Append(dialog.SpeakerAgent, verdict.ClosingMessage, s.clock.Now())
		s.beginTermination(string(verdict.Reason))
		return
	}

	s.phase.Store(int32(PhaseGenerating))

	tactic := s.tactics.SelectTactic(utterance, history)
	var reply string
	if tactic.UseEscalation && tactic.SuggestedResponse != "" && tactic.PriorCount >= 2 {
		// Repeat staller: skip generation and deliver the canned demand.
		s.log.Info("escalation bypass", "category", string(tactic.Category), "prior", tactic.PriorCount)
		s.sendFinal(tactic.SuggestedResponse)
		reply = tactic.SuggestedResponse
	} else {
		hint := ""
		if tactic.UseEscalation {
			hint = tactic.SuggestedResponse
		}
		reply = s.generateAndStream(utterance, hint)
	}
	s.dialog.Append(dialog.SpeakerAgent, reply, s.clock.Now())

	if s.detector.EvaluateAgent(reply) {
		s.log.Info("agent closed the conversation")
		s.beginTermination(EndReasonAgentFarewell)
		return
	}

	s.phase.Store(int32(PhaseAwaitingInput))
	s.armSilence()
}

// generateAndStream produces one reply and streams it chunk by chunk.
// Any failure degrades to the fixed apology so the call survives.
func (s *Session) generateAndStream(utterance, tacticHint string) string {
	budget := s.cfg.TurnTimeout
	if remaining := s.callDeadline.Sub(s.clock.Now()); remaining < budget {
		budget = remaining
	}
	if budget <= 0 {
		s.sendFinal(replygen.Apology)
		return replygen.Apology
	}
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	stream, err := s.generator.Generate(ctx, replygen.Request{
		Utterance:  utterance,
		Dialog:     s.dialog.Snapshot(),
		Profile:    s.profile,
		TacticHint: tacticHint,
	})
	if err != nil {
		s.log.Error("reply generation failed", "error", err)
		s.sendFinal(replygen.Apology)
		return replygen.Apology
	}

	var full strings.Builder
	emitter := NewChunkEmitter(s.sink())
	for {
		token, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Error("reply stream failed", "error", err)
			}
			break
		}
		full.WriteString(token)
		if err := emitter.Push(token); err != nil {
			s.log.Warn("chunk dropped", "error", err)
		}
	}

	reply := strings.TrimSpace(full.String())
	if reply == "" {
		// Nothing usable came out of the stream; speak the apology instead
		// of finishing an empty turn.
		s.sendFinal(replygen.Apology)
		return replygen.Apology
	}
	if err := emitter.Finish(); err != nil {
		s.log.Warn("final chunk dropped", "error", err)
	}
	return reply
}

func (s *Session) handleSilenceTimeout(epoch uint64) {
	if epoch != s.silenceEpoch {
		// A stale fire from a timer that lost the race with a real prompt.
		return
	}
	phase := s.Phase()
	if phase != PhaseConnected && phase != PhaseAwaitingInput {
		return
	}

	s.silenceRetries++
	if s.silenceRetries <= s.cfg.MaxSilenceRetries {
		idx := s.silenceRetries - 1
		if idx > len(s.cfg.RepromptPhrases)-1 {
			idx = len(s.cfg.RepromptPhrases) - 1
		}
		phrase := s.cfg.RepromptPhrases[idx]
		s.log.Info("silence re-prompt", "retry", s.silenceRetries)
		s.sendFinal(phrase)
		s.dialog.Append(dialog.SpeakerAgent, phrase, s.clock.Now())
		s.armSilence()
		return
	}

	s.log.Info("silence retries exhausted")
	s.sendFinal(s.cfg.SilenceClosing)
	s.dialog.Append(dialog.SpeakerAgent, s.cfg.SilenceClosing, s.clock.Now())
	s.beginTermination(EndReasonSilenceTimeout)
}

func (s *Session) handleCallTimeout() {
	// The hard bound: no closing line, no grace period.
	s.log.Info("max call duration reached")
	s.endReason = EndReasonCallTimeout
	s.sendEnd()
	_ = s.transport.Close()
	s.cleanup()
}

func (s *Session) handleDTMF(msg protocol.DTMF) {
	s.log.Info("dtmf received", "digit", msg.Digit)
	if msg.Digit != "0" {
		return
	}
	phase := s.Phase()
	if phase == PhaseTerminating || phase == PhaseEnded {
		return
	}
	s.cancelSilence()
	s.sendFinal(s.cfg.OperatorTransferNotice)
	s.dialog.Append(dialog.SpeakerAgent, s.cfg.OperatorTransferNotice, s.clock.Now())
	s.beginTermination(EndReasonOperatorRequest)
}

func (s *Session) handleTransportClosed(closed Transport) {
	if closed != nil && closed != s.transport {
		// A connection the session already swapped away from.
		return
	}
	if s.Phase() == PhaseTerminating {
		// Already winding down; let the grace timer finish the job.
		return
	}
	s.log.Info("transport closed by peer")
	s.endReason = EndReasonTransportClosed
	s.cleanup()
}

// handleAttach swaps in a reconnected transport and replays the language
// selection, since the peer rebuilt its speech resources.
func (s *Session) handleAttach(t Transport) {
	if t == nil {
		return
	}
	old := s.transport
	s.transport = t
	if old != nil && old != t {
		_ = old.Close()
	}
	s.log.Info("transport re-attached")
	if err := s.transport.SendLanguage(s.cfg.TTSLanguage, s.cfg.TranscriptionLanguage); err != nil {
		s.log.Warn("language frame dropped", "error", err)
	}
}

func (s *Session) handleEndGrace() {
	if s.Phase() != PhaseTerminating {
		return
	}
	s.sendEnd()
	_ = s.transport.Close()
	s.cleanup()
}

func (s *Session) handleShutdown() {
	if s.Phase() == PhaseEnded {
		return
	}
	s.log.Info("session shutting down")
	s.endReason = EndReasonShutdown
	s.sendEnd()
	_ = s.transport.Close()
	s.cleanup()
}

// beginTermination parks the session until the grace delay elapses, so the
// closing line can be spoken before the end frame.
func (s *Session) beginTermination(reason string) {
	s.endReason = reason
	s.phase.Store(int32(PhaseTerminating))
	s.cancelSilence()
	s.graceTimer = s.clock.Arm(s.cfg.EndGraceDelay, func() {
		s.Enqueue(Event{kind: eventEndGrace})
	})
}

func (s *Session) armSilence() {
	s.cancelSilence()
	s.silenceEpoch++
	epoch := s.silenceEpoch
	s.silenceTimer = s.clock.Arm(s.cfg.SilenceTimeout, func() {
		s.Enqueue(Event{kind: eventSilenceTimeout, timerEpoch: epoch})
	})
}

func (s *Session) cancelSilence() {
	if s.silenceTimer != nil {
		s.silenceTimer.Cancel()
		s.silenceTimer = nil
	}
	s.silenceEpoch++
}

// sendFinal delivers one complete utterance as a single final chunk.
func (s *Session) sendFinal(text string) {
	if !s.transport.Writable() {
		s.log.Warn("send skipped, transport not writable")
		return
	}
	if err := s.transport.SendText(text, true); err != nil {
		s.log.Warn("send failed", "error", err)
	}
}

func (s *Session) sendEnd() {
	turns := s.dialog.Snapshot()
	handoffTurns := make([]protocol.HandoffTurn, 0, len(turns))
	for _, t := range turns {
		handoffTurns = append(handoffTurns, protocol.HandoffTurn{
			Speaker: string(t.Speaker),
			Text:    t.Text,
		})
	}
	handoff := protocol.NewHandoff(s.endReason, s.callID, s.clock.Now(), s.silenceRetries, handoffTurns)
	if err := s.transport.SendEnd(handoff); err != nil {
		s.log.Warn("end frame dropped", "error", err)
	}
	s.log.Info("session ending", "reason", s.endReason, "turns", len(turns))
}

// cleanup is idempotent. It cancels every timer, flips the phase to Ended
// and releases the registry slot.
func (s *Session) cleanup() {
	s.cleanupOnce.Do(func() {
		s.cancelSilence()
		if s.callTimer != nil {
			s.callTimer.Cancel()
		}
		if s.graceTimer != nil {
			s.graceTimer.Cancel()
		}
		s.phase.Store(int32(PhaseEnded))
		if s.onRemove != nil {
			s.onRemove()
		}
		close(s.done)
	})
}

// sink adapts the transport into the chunk emitter's delivery interface.
func (s *Session) sink() Sink {
	return transportSink{s: s}
}

type transportSink struct {
	s *Session
}

func (ts transportSink) Accept(c Chunk) error {
	if !ts.s.transport.Writable() {
		ts.s.log.Warn("chunk skipped, transport not writable")
		return errTransportClosed
	}
	return ts.s.transport.SendText(c.Text, c.Last)
}
