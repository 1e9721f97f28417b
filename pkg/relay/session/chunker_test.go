package session

import (
	"errors"
	"strings"
	"testing"
)

type recordingSink struct {
	chunks []Chunk
	fail   bool
}

func (s *recordingSink) Accept(c Chunk) error {
	if s.fail {
		return errors.New("transport not writable")
	}
	s.chunks = append(s.chunks, c)
	return nil
}

func emitAll(t *testing.T, tokens []string) []Chunk {
	t.Helper()
	sink := &recordingSink{}
	e := NewChunkEmitter(sink)
	for _, tok := range tokens {
		if err := e.Push(tok); err != nil {
			t.Fatalf("push %q: %v", tok, err)
		}
	}
	if err := e.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	return sink.chunks
}

func countFinal(chunks []Chunk) int {
	n := 0
	for _, c := range chunks {
		if c.Last {
			n++
		}
	}
	return n
}

func TestChunkEmitter_GreetingClauseBoundary(t *testing.T) {
	chunks := emitAll(t, []string{"Dobrý deň,", " volám sa", " Lenka."})
	if len(chunks) != 2 {
		t.Fatalf("chunks=%+v, want 2", chunks)
	}
	if chunks[0].Text != "Dobrý deň," || chunks[0].Last {
		t.Fatalf("first=%+v", chunks[0])
	}
	if chunks[1].Text != "volám sa Lenka." || !chunks[1].Last {
		t.Fatalf("second=%+v", chunks[1])
	}
	if countFinal(chunks) != 1 {
		t.Fatalf("final count=%d, want 1", countFinal(chunks))
	}
}

func TestChunkEmitter_SentenceTerminatorFlushes(t *testing.T) {
	chunks := emitAll(t, []string{"Koľko môžete zaplatiť?", " Potrebujem konkrétnu sumu."})
	if len(chunks) != 2 {
		t.Fatalf("chunks=%+v, want 2", chunks)
	}
	if chunks[0].Text != "Koľko môžete zaplatiť?" || chunks[0].Last {
		t.Fatalf("first=%+v", chunks[0])
	}
	if !chunks[1].Last {
		t.Fatalf("second=%+v, want final", chunks[1])
	}
}

func TestChunkEmitter_ClauseMarkerNeedsLengthAfterFirstChunk(t *testing.T) {
	// Once a chunk has been sent, a short clause fragment keeps
	// accumulating instead of flushing.
	chunks := emitAll(t, []string{"Prvá veta je hotová.", " Áno,", " presne tak to je."})
	if len(chunks) != 2 {
		t.Fatalf("chunks=%+v, want 2", chunks)
	}
	if chunks[1].Text != "Áno, presne tak to je." || !chunks[1].Last {
		t.Fatalf("second=%+v", chunks[1])
	}
}

func TestChunkEmitter_WordCountBoundary(t *testing.T) {
	chunks := emitAll(t, []string{"jedna dva tri štyri ", "päť"})
	if len(chunks) != 2 {
		t.Fatalf("chunks=%+v, want 2", chunks)
	}
	if chunks[0].Text != "jedna dva tri štyri" || chunks[0].Last {
		t.Fatalf("first=%+v", chunks[0])
	}
	if chunks[1].Text != "päť" || !chunks[1].Last {
		t.Fatalf("second=%+v", chunks[1])
	}
}

func TestChunkEmitter_HardCap(t *testing.T) {
	long := strings.Repeat("abcde", 13) // 65 runes, no boundary at all
	chunks := emitAll(t, []string{long, "xyz"})
	if len(chunks) != 2 {
		t.Fatalf("chunks=%+v, want 2", chunks)
	}
	if chunks[0].Text != long || chunks[0].Last {
		t.Fatalf("first=%+v", chunks[0])
	}
}

func TestChunkEmitter_EmptyStreamSendsEmptyFinal(t *testing.T) {
	chunks := emitAll(t, nil)
	if len(chunks) != 1 || chunks[0].Text != "" || !chunks[0].Last {
		t.Fatalf("chunks=%+v, want single empty final", chunks)
	}
}

func TestChunkEmitter_SingleFragmentIsFinal(t *testing.T) {
	chunks := emitAll(t, []string{"Dobre"})
	if len(chunks) != 1 || chunks[0].Text != "Dobre" || !chunks[0].Last {
		t.Fatalf("chunks=%+v", chunks)
	}
}

func TestChunkEmitter_OrderPreserved(t *testing.T) {
	tokens := []string{
		"Prvá veta.", " Druhá veta.", " Tretia veta.", " Štvrtá veta.",
	}
	chunks := emitAll(t, tokens)
	if countFinal(chunks) != 1 {
		t.Fatalf("final count=%d, want 1", countFinal(chunks))
	}
	if !chunks[len(chunks)-1].Last {
		t.Fatalf("last chunk not final: %+v", chunks)
	}
	joined := ""
	for _, c := range chunks {
		joined += c.Text + " "
	}
	want := "Prvá veta. Druhá veta. Tretia veta. Štvrtá veta."
	if strings.Join(strings.Fields(joined), " ") != want {
		t.Fatalf("joined=%q, want %q", joined, want)
	}
}

func TestChunkEmitter_SinkFailureDoesNotStopStream(t *testing.T) {
	sink := &recordingSink{fail: true}
	e := NewChunkEmitter(sink)
	if err := e.Push("Prvá veta."); err != nil {
		t.Fatalf("push: %v", err)
	}
	// The held fragment fails on the next push; the emitter reports it and
	// keeps accepting tokens.
	if err := e.Push(" Druhá veta."); err == nil {
		t.Fatalf("want error from failed sink")
	}
	sink.fail = false
	if err := e.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if countFinal(sink.chunks) != 1 {
		t.Fatalf("final count=%d, want 1", countFinal(sink.chunks))
	}
}
