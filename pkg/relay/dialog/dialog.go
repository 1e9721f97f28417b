// Package dialog holds the conversational data model shared by the
// orchestration core: the append-only turn log and the read-only borrower
// reference data attached to a call.
package dialog

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

type Speaker string

const (
	SpeakerAgent  Speaker = "agent"
	SpeakerClient Speaker = "client"
)

// Turn is one utterance by either party. Turns are immutable once appended.
type Turn struct {
	Speaker Speaker
	Text    string
	At      time.Time
}

// Log is an append-only ordered list of turns. Insertion order is
// conversational order; entries never change value and the log never shrinks.
type Log struct {
	mu    sync.Mutex
	turns []Turn
}

func NewLog() *Log {
	return &Log{turns: make([]Turn, 0, 16)}
}

func (l *Log) Append(speaker Speaker, text string, at time.Time) Turn {
	t := Turn{Speaker: speaker, Text: text, At: at}
	l.mu.Lock()
	l.turns = append(l.turns, t)
	l.mu.Unlock()
	return t
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// Snapshot returns a copy of the log; callers may not observe later appends
// through it.
func (l *Log) Snapshot() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// BorrowerProfile is reference data supplied at session creation. It is never
// mutated after parsing.
type BorrowerProfile struct {
	Name        string
	Principal   string
	TermMonths  int
	OverdueDays int
	AmountDue   string
}

// ParseBorrowerProfile reads the profile out of the transport's custom
// parameters. Missing or malformed fields are left zero; the caller degrades
// to a generic script rather than failing the call.
func ParseBorrowerProfile(params map[string]string) BorrowerProfile {
	p := BorrowerProfile{
		Name:      strings.TrimSpace(params["name"]),
		Principal: strings.TrimSpace(params["principal"]),
		AmountDue: strings.TrimSpace(params["amount_due"]),
	}
	if v, err := strconv.Atoi(strings.TrimSpace(params["term_months"])); err == nil && v > 0 {
		p.TermMonths = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(params["overdue_days"])); err == nil && v > 0 {
		p.OverdueDays = v
	}
	return p
}
