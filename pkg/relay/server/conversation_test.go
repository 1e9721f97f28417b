package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mr-web-x/collectrelay/pkg/relay/config"
	"github.com/mr-web-x/collectrelay/pkg/relay/replygen"
)

type fixedGenerator struct {
	reply string
}

func (g fixedGenerator) Generate(context.Context, replygen.Request) (replygen.TokenStream, error) {
	return &fixedStream{tokens: []string{g.reply}}, nil
}

type fixedStream struct {
	tokens []string
	i      int
}

func (s *fixedStream) Recv() (string, error) {
	if s.i >= len(s.tokens) {
		return "", io.EOF
	}
	t := s.tokens[s.i]
	s.i++
	return t, nil
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(config.Config{
		PublicHost:  "relay.example.com",
		TTSLanguage: "sk-SK",
	}, Dependencies{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Generator: fixedGenerator{reply: "Kedy môžete zaplatiť?"},
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func dialConversation(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/conversation"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	return msg
}

func setupFrame(callSID string) map[string]any {
	return map[string]any{
		"type":      "setup",
		"sessionId": "VX1",
		"callSid":   callSID,
		"customParameters": map[string]string{
			"name": "Ján Novák",
		},
	}
}

func TestConversation_SetupGreeting(t *testing.T) {
	s, srv := newTestServer(t)
	conn := dialConversation(t, srv)

	writeFrame(t, conn, setupFrame("CA1"))

	lang := readFrame(t, conn)
	if lang["type"] != "language" || lang["ttsLanguage"] != "sk-SK" {
		t.Fatalf("first frame = %v, want language sk-SK", lang)
	}
	greeting := readFrame(t, conn)
	if greeting["type"] != "text" || greeting["last"] != true {
		t.Fatalf("greeting = %v, want final text frame", greeting)
	}
	if _, ok := s.Registry().Lookup("CA1"); !ok {
		t.Fatalf("session not registered")
	}
}

func TestConversation_PromptGetsReply(t *testing.T) {
	_, srv := newTestServer(t)
	conn := dialConversation(t, srv)

	writeFrame(t, conn, setupFrame("CA2"))
	readFrame(t, conn) // language
	readFrame(t, conn) // greeting

	writeFrame(t, conn, map[string]any{
		"type":        "prompt",
		"voicePrompt": "Haló, kto je tam?",
		"last":        true,
	})

	var tokens []string
	for {
		msg := readFrame(t, conn)
		if msg["type"] != "text" {
			t.Fatalf("frame = %v, want text", msg)
		}
		tokens = append(tokens, msg["token"].(string))
		if msg["last"] == true {
			break
		}
	}
	if got := strings.Join(tokens, " "); got != "Kedy môžete zaplatiť?" {
		t.Fatalf("reply = %q", got)
	}
}

func TestConversation_MalformedFrameDropped(t *testing.T) {
	_, srv := newTestServer(t)
	conn := dialConversation(t, srv)

	writeFrame(t, conn, setupFrame("CA3"))
	readFrame(t, conn)
	readFrame(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	writeFrame(t, conn, map[string]any{"type": "prompt", "voicePrompt": "Haló?", "last": true})

	msg := readFrame(t, conn)
	if msg["type"] != "text" {
		t.Fatalf("frame after garbage = %v, want reply text", msg)
	}
}

func TestConversation_FirstFrameMustBeSetup(t *testing.T) {
	_, srv := newTestServer(t)
	conn := dialConversation(t, srv)

	writeFrame(t, conn, map[string]any{"type": "prompt", "voicePrompt": "Haló?", "last": true})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("connection should be closed without a setup frame")
	}
}

func TestConversation_DisconnectDrainsRegistry(t *testing.T) {
	s, srv := newTestServer(t)
	conn := dialConversation(t, srv)

	writeFrame(t, conn, setupFrame("CA4"))
	readFrame(t, conn)
	readFrame(t, conn)
	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if ok := s.Registry().Wait(ctx); !ok {
		t.Fatalf("registry did not drain after disconnect")
	}
}

func TestConversation_ReattachReplaysLanguage(t *testing.T) {
	s, srv := newTestServer(t)

	conn1 := dialConversation(t, srv)
	writeFrame(t, conn1, setupFrame("CA5"))
	readFrame(t, conn1)
	readFrame(t, conn1)
	first, _ := s.Registry().Lookup("CA5")

	conn2 := dialConversation(t, srv)
	writeFrame(t, conn2, setupFrame("CA5"))

	lang := readFrame(t, conn2)
	if lang["type"] != "language" {
		t.Fatalf("re-attach frame = %v, want language replay", lang)
	}
	second, ok := s.Registry().Lookup("CA5")
	if !ok || second != first {
		t.Fatalf("re-attach created a new session")
	}
}
