package session

import (
	"strings"
	"unicode/utf8"
)

// Chunk is one outbound reply fragment. Exactly one chunk per turn carries
// Last.
type Chunk struct {
	Text string
	Last bool
}

// Sink accepts chunks for delivery. A failed Accept drops the chunk; the
// emitter keeps going.
type Sink interface {
	Accept(c Chunk) error
}

const (
	clauseFlushMinChars = 20
	wordFlushMinWords   = 4
	hardCapChars        = 60

	// A clause ending very early in the turn still flushes, so the first
	// fragment reaches the speaker without waiting for more length.
	firstChunkMinChars = 8
)

// ChunkEmitter buffers an incrementally produced token stream and cuts it
// into speakable fragments. A fragment whose flush rule fires is held until
// the next token arrives, so the stream's last fragment can be sent with the
// final marker instead of being followed by an empty one.
type ChunkEmitter struct {
	sink    Sink
	buf     strings.Builder
	pending string
	hasPend bool
	sentAny bool
	done    bool
}

func NewChunkEmitter(sink Sink) *ChunkEmitter {
	return &ChunkEmitter{sink: sink}
}

// Push appends one token and evaluates the flush rules.
func (e *ChunkEmitter) Push(token string) error {
	if e.done {
		return nil
	}
	var err error
	if e.hasPend {
		err = e.send(e.pending, false)
		e.pending = ""
		e.hasPend = false
	}
	e.buf.WriteString(token)
	if e.shouldFlush() {
		e.pending = strings.TrimSpace(e.buf.String())
		e.hasPend = e.pending != ""
		e.buf.Reset()
	}
	return err
}

// Finish marks the end of the token stream. Whatever is buffered goes out as
// the final chunk; with nothing buffered an explicit empty final chunk tells
// the transport the turn is complete.
func (e *ChunkEmitter) Finish() error {
	if e.done {
		return nil
	}
	e.done = true

	rest := strings.TrimSpace(e.buf.String())
	e.buf.Reset()

	if e.hasPend {
		pending := e.pending
		e.pending = ""
		e.hasPend = false
		if rest == "" {
			return e.send(pending, true)
		}
		if err := e.send(pending, false); err != nil {
			_ = e.send(rest, true)
			return err
		}
	}
	return e.send(rest, true)
}

func (e *ChunkEmitter) send(text string, last bool) error {
	e.sentAny = true
	return e.sink.Accept(Chunk{Text: text, Last: last})
}

// Flush rules, in precedence order. Evaluated against the trimmed buffer
// after every token.
func (e *ChunkEmitter) shouldFlush() bool {
	raw := e.buf.String()
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return false
	}
	n := utf8.RuneCountInString(trimmed)

	// 1. Complete sentence.
	if endsWithAny(trimmed, ".!?") {
		return true
	}

	// 2. Clause boundary, once there is enough buffered. Before anything has
	// been sent this turn the length bar is lower.
	if endsWithAny(trimmed, ",;:") {
		if n >= clauseFlushMinChars {
			return true
		}
		if !e.sentAny && !e.hasPend && n >= firstChunkMinChars {
			return true
		}
	}

	// 3. Enough words, ending on a word boundary.
	if len(strings.Fields(trimmed)) >= wordFlushMinWords && endsOnWordBoundary(raw) {
		return true
	}

	// 4. Hard size cap, boundary or not.
	return n >= hardCapChars
}

func endsWithAny(s, markers string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r != utf8.RuneError && strings.ContainsRune(markers, r)
}

// endsOnWordBoundary reports whether the raw buffer ends with trailing
// whitespace or one of the boundary punctuation marks.
func endsOnWordBoundary(raw string) bool {
	r, _ := utf8.DecodeLastRuneInString(raw)
	if r == utf8.RuneError {
		return false
	}
	if r == ' ' || r == '\t' || r == '\n' {
		return true
	}
	return strings.ContainsRune(".,!?", r)
}
