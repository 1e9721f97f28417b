package analysis

import (
	"regexp"
	"strings"

	"github.com/mr-web-x/collectrelay/pkg/relay/dialog"
)

// VagueCategory tags a non-committal client answer.
type VagueCategory string

const (
	CategoryNone             VagueCategory = ""
	CategoryDeferredContact  VagueCategory = "deferred_contact"
	CategoryDeferredDecision VagueCategory = "deferred_decision"
	CategoryVagueSolution    VagueCategory = "vague_solution"
	CategoryVagueTiming      VagueCategory = "vague_timing"
	CategoryRequestForTime   VagueCategory = "request_for_time"
)

type Classification struct {
	IsVague  bool
	Category VagueCategory
}

// StallClassifier tags vague commitments in client utterances.
type StallClassifier interface {
	Classify(utterance string) Classification
}

type vaguePattern struct {
	re       *regexp.Regexp
	category VagueCategory
}

// Pattern order decides which category wins when an utterance matches
// several; earlier entries are the more specific promises.
var vaguePatterns = []vaguePattern{
	{wordPattern(`ozvem\s+sa`, "zavolám", "kontaktujem"), CategoryDeferredContact},
	{wordPattern(`dám\s+vedieť`, "informujem"), CategoryDeferredContact},
	{wordPattern(`premyslím\s+si`, `pozriem\s+sa`), CategoryDeferredDecision},
	{wordPattern("zvážim", "zhodnotím", `musím\s+si\s+to`, `potrebujem\s+premyslieť`), CategoryDeferredDecision},
	{wordPattern(`nájdeme\s+riešenie`, `vyriešime\s+to`), CategoryVagueSolution},
	{wordPattern(`pokúsim\s+sa`, `budem\s+sa\s+snažiť`), CategoryVagueSolution},
	{wordPattern(`čo\s+najskôr`, `hneď\s+ako`, `až\s+budem`), CategoryVagueTiming},
	{wordPattern(`časom\s+sa\s+to`, `situácia\s+sa`), CategoryVagueTiming},
	{wordPattern(`potrebujem\s+čas`, `dajte\s+mi\s+čas`), CategoryRequestForTime},
}

// PatternStallClassifier is the regex-backed StallClassifier.
type PatternStallClassifier struct{}

func NewPatternStallClassifier() *PatternStallClassifier {
	return &PatternStallClassifier{}
}

func (PatternStallClassifier) Classify(utterance string) Classification {
	text := strings.ToLower(strings.TrimSpace(utterance))
	if text == "" {
		return Classification{}
	}
	for _, p := range vaguePatterns {
		if p.re.MatchString(text) {
			return Classification{IsVague: true, Category: p.category}
		}
	}
	return Classification{}
}

// Escalation replies per category, mild to firm. Repeated stalling selects
// later entries.
var escalationReplies = map[VagueCategory][]string{
	CategoryDeferredContact: {
		"KEDY presne sa ozvete? Dnes večer alebo zajtra ráno?",
		"Už ste sa mali ozvať. Teraz potrebujem ČÍSLA, nie sľuby!",
		"Každá hodina meškania pridáva úroky. KOĽKO dokážete zaplatiť?",
	},
	CategoryDeferredDecision: {
		"Čas na premýšľanie skončil. Exekútor nepremýšľa!",
		"Súd nebude čakať na vaše rozhodnutie. Koľko TERAZ?",
		"Každý deň premýšľania stojí peniaze. Aspoň čiastočná platba?",
	},
	CategoryVagueSolution: {
		"AKÉ riešenie? Potrebujem čísla - koľko EUR dokážete?",
		"Jediné riešenie je PLATBA. Koľko mesačne môžete?",
		"Riešenie je jednoduché - zaplatiť dlh. Kedy a koľko?",
	},
	CategoryVagueTiming: {
		"Čo najskôr znamená KEDY? Dnes alebo zajtra?",
		"Hneď ako čo? Potrebujem konkrétny dátum!",
		"Neurčité termíny neakceptujem. KTORÝ deň zaplatíte?",
	},
	CategoryRequestForTime: {
		"Čas na rozmýšľanie ste mali mesiace. Koľko dokážete TERAZ?",
		"Exekúcia nepočká. Aspoň minimálnu sumu môžete?",
		"Každý deň meškania pridáva náklady. Čiastočná platba?",
	},
}

const genericFirmDemand = "Stop so sľubmi! Potrebujem ČÍSLA. Koľko EUR dokážete zaplatiť?"

// maxPriorVagueTurns is the history threshold that triggers the generic firm
// demand even when the current utterance is not itself vague.
const maxPriorVagueTurns = 3

// Tactic is the escalation decision for one client turn.
type Tactic struct {
	UseEscalation     bool
	SuggestedResponse string
	Category          VagueCategory
	PriorCount        int
}

// TacticSelector decides when to replace generated replies with canned
// escalating ones.
type TacticSelector struct {
	classifier StallClassifier
}

func NewTacticSelector(classifier StallClassifier) *TacticSelector {
	if classifier == nil {
		classifier = NewPatternStallClassifier()
	}
	return &TacticSelector{classifier: classifier}
}

// SelectTactic counts prior vague client turns in the dialog (the current
// utterance is not part of turns yet when the session calls this) and picks
// a progressively firmer canned reply for repeat offenders.
func (s *TacticSelector) SelectTactic(lastUtterance string, turns []dialog.Turn) Tactic {
	prior := 0
	for _, t := range turns {
		if t.Speaker != dialog.SpeakerClient {
			continue
		}
		if s.classifier.Classify(t.Text).IsVague {
			prior++
		}
	}

	current := s.classifier.Classify(lastUtterance)
	if current.IsVague {
		replies := escalationReplies[current.Category]
		idx := prior
		if idx > len(replies)-1 {
			idx = len(replies) - 1
		}
		return Tactic{
			UseEscalation:     true,
			SuggestedResponse: replies[idx],
			Category:          current.Category,
			PriorCount:        prior,
		}
	}

	if prior >= maxPriorVagueTurns {
		return Tactic{
			UseEscalation:     true,
			SuggestedResponse: genericFirmDemand,
			PriorCount:        prior,
		}
	}

	return Tactic{PriorCount: prior}
}
