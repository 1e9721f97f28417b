package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mr-web-x/collectrelay/pkg/relay/protocol"
)

// Transport is the outbound side of one ConversationRelay connection. Sends
// are serialized; Writable is checked before every send and a dead transport
// drops frames instead of retrying.
type Transport interface {
	SendText(token string, last bool) error
	SendLanguage(tts, transcription string) error
	SendEnd(handoff protocol.Handoff) error
	Writable() bool
	Close() error
}

type wsConn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// WSTransport writes relay frames to a websocket connection.
type WSTransport struct {
	mu           sync.Mutex
	conn         wsConn
	writeTimeout time.Duration
	closed       bool
}

func NewWSTransport(conn *websocket.Conn, writeTimeout time.Duration) *WSTransport {
	return newWSTransport(conn, writeTimeout)
}

func newWSTransport(conn wsConn, writeTimeout time.Duration) *WSTransport {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &WSTransport{conn: conn, writeTimeout: writeTimeout}
}

func (t *WSTransport) SendText(token string, last bool) error {
	return t.writeJSON(protocol.NewTextToken(token, last))
}

func (t *WSTransport) SendLanguage(tts, transcription string) error {
	return t.writeJSON(protocol.NewLanguage(tts, transcription))
}

func (t *WSTransport) SendEnd(handoff protocol.Handoff) error {
	return t.writeJSON(protocol.NewEnd(handoff))
}

func (t *WSTransport) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTransportClosed
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		t.closed = true
		return err
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// A write failure means the peer is gone; stop writing rather than
		// retrying against a dead socket.
		t.closed = true
		return err
	}
	return nil
}

func (t *WSTransport) Writable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	deadline := time.Now().Add(t.writeTimeout)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}
