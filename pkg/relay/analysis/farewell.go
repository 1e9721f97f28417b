// Package analysis reads client and agent utterances: it decides when a
// conversation is over and classifies stalling answers so the session can
// escalate. Detection is pattern-based behind small interfaces, so a
// model-backed classifier can replace either one without touching the state
// machine.
package analysis

import (
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/mr-web-x/collectrelay/pkg/relay/dialog"
)

type EndReason string

const (
	ReasonFarewell EndReason = "farewell"
	ReasonFatigue  EndReason = "persuasion_fatigue"
	ReasonContinue EndReason = "continue"
)

// EndVerdict is the result of evaluating the conversation for termination.
// ClosingMessage is empty unless ShouldEnd is true.
type EndVerdict struct {
	ShouldEnd      bool
	Reason         EndReason
	ClosingMessage string
}

// EndDetector decides whether the conversation is over after a client
// utterance.
type EndDetector interface {
	Evaluate(lastUtterance string, turns []dialog.Turn) EndVerdict
	// EvaluateAgent checks the agent's own reply for closing cadence. It is
	// consulted only when Evaluate returned Continue for the same turn, so
	// the two checks never double-trigger.
	EvaluateAgent(replyText string) bool
}

const (
	fatigueMinAgentTurns = 8
	fatigueRatio         = 0.8
)

// wordPattern compiles a case-insensitive alternation matched on letter
// boundaries. regexp's \b is ASCII-only and misses Slovak diacritics, so the
// boundary is expressed as "not a letter" explicitly.
func wordPattern(alternatives ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:` + strings.Join(alternatives, "|") + `)(?:[^\p{L}]|$)`)
}

var farewellPatterns = []*regexp.Regexp{
	// Direct goodbyes.
	wordPattern("dovidenia", "zbohom", "čau"),
	// Explicit hang-up statements.
	wordPattern("zavesím", "zavešujem"),
	wordPattern(`ukončujem\s+(?:hovor|rozhovor)`, `končím\s+(?:hovor|rozhovor)`),
	// Categorical do-not-call requests.
	wordPattern(`nevolajte\s+(?:mi|už|viac)`, `prestať\s+volať`),
	wordPattern(`nepotrebujem\s+(?:vaše\s+)?služby`),
	// Leave-me-alone refusals.
	wordPattern(`nechajte\s+ma\s+(?:na\s+)?pokoji`, `neobťažujte\s+ma`),
}

var bareFarewells = map[string]struct{}{
	"dovidenia": {},
	"zbohom":    {},
	"čau":       {},
	"pa":        {},
}

var persuasionVocabulary = wordPattern(
	"rozumiem", "ale", "potrebné", "dôležité", "nutné", "spoločne", `nájsť\s+riešenie`,
)

var closingPool = []string{
	"Rozumiem. Ďakujem za váš čas. Dovidenia.",
	"V poriadku. Dovidenia a pekný deň.",
	"Chápem. Ďakujem za rozhovor. Dovidenia.",
	"Dobre. Želám vám pekný deň. Dovidenia.",
	"Rozumiem. Dovidenia.",
}

var agentFarewellPatterns = []*regexp.Regexp{
	wordPattern(`ďakujem(?:e)?\s+za\s+váš\s+čas`),
	wordPattern(`pekný\s+deň`, `príjemný\s+(?:deň|zvyšok\s+dňa)`),
	wordPattern(`tešíme\s+sa\s+na\s+(?:vašu\s+)?platbu`),
	wordPattern("dovidenia"),
}

// PatternEndDetector is the regex-backed EndDetector.
type PatternEndDetector struct {
	// pickClosing indexes into the closing pool; overridable in tests.
	pickClosing func(n int) int
}

func NewPatternEndDetector() *PatternEndDetector {
	return &PatternEndDetector{pickClosing: rand.IntN}
}

func (d *PatternEndDetector) Evaluate(lastUtterance string, turns []dialog.Turn) EndVerdict {
	if d.isFarewell(lastUtterance) {
		return EndVerdict{ShouldEnd: true, Reason: ReasonFarewell, ClosingMessage: d.closingMessage()}
	}
	if persuasionFatigue(turns) {
		return EndVerdict{ShouldEnd: true, Reason: ReasonFatigue, ClosingMessage: d.closingMessage()}
	}
	return EndVerdict{Reason: ReasonContinue}
}

func (d *PatternEndDetector) EvaluateAgent(replyText string) bool {
	text := strings.ToLower(strings.TrimSpace(replyText))
	if text == "" {
		return false
	}
	for _, p := range agentFarewellPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// isFarewell matches only explicit goodbyes and hang-up requests. Negated
// phrases that merely contain a farewell word (for example "nie, dovidenia sa
// nechystám") still match: the pattern set does not model negation, matching
// the vocabulary-level behavior this detector is specified against.
func (d *PatternEndDetector) isFarewell(utterance string) bool {
	text := strings.ToLower(strings.TrimSpace(utterance))
	if text == "" {
		return false
	}
	if _, ok := bareFarewells[text]; ok {
		return true
	}
	for _, p := range farewellPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// persuasionFatigue reports whether the agent has been pleading for too long:
// more than fatigueMinAgentTurns agent turns, over fatigueRatio of them
// carrying persuasion vocabulary.
func persuasionFatigue(turns []dialog.Turn) bool {
	agentTurns := 0
	persuading := 0
	for _, t := range turns {
		if t.Speaker != dialog.SpeakerAgent {
			continue
		}
		agentTurns++
		if persuasionVocabulary.MatchString(strings.ToLower(t.Text)) {
			persuading++
		}
	}
	if agentTurns <= fatigueMinAgentTurns {
		return false
	}
	return float64(persuading)/float64(agentTurns) > fatigueRatio
}

func (d *PatternEndDetector) closingMessage() string {
	pick := d.pickClosing
	if pick == nil {
		pick = rand.IntN
	}
	return closingPool[pick(len(closingPool))]
}
