package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/hints"
)

const writeTimeout = 5 * time.Second

// Frame types.
const (
	FrameSession  = "session"
	FrameMessages = "messages"
	FramePing     = "ping"
	FramePong     = "pong"
	FrameHints    = "hints"
	FrameError    = "error"
)

// clientFrame is anything the browser sends.
type clientFrame struct {
	Type       string           `json:"type"`
	SessionKey string           `json:"session_key,omitempty"`
	Messages   []domain.Message `json:"messages,omitempty"`
}

// HintsFrame is sent whenever the engine emits.
type HintsFrame struct {
	Type       string   `json:"type"`
	SessionKey string   `json:"session_key"`
	Hints      []string `json:"hints"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Conn is one browser tab's hint channel. Its engine lives exactly as long
// as the connection.
type Conn struct {
	UserID    string
	SessionID string

	ws      *websocket.Conn
	engine  *hints.Engine
	writeMu sync.Mutex
}

func newConn(ws *websocket.Conn, userID, sessionID string, engine *hints.Engine) *Conn {
	return &Conn{UserID: userID, SessionID: sessionID, ws: ws, engine: engine}
}

// Close closes the socket with a normal closure.
func (c *Conn) Close(reason string) {
	if c.ws == nil {
		return
	}
	if err := c.ws.Close(websocket.StatusNormalClosure, reason); err != nil {
		slog.Debug("Failed to close live connection", "user_id", c.UserID, "session_id", c.SessionID, "error", err)
	}
}

// writeJSON serializes writes; engine callbacks write from timer
// goroutines.
func (c *Conn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *Conn) sendHints(sessionKey string, tags []string) {
	if tags == nil {
		tags = []string{}
	}
	if err := c.writeJSON(HintsFrame{Type: FrameHints, SessionKey: sessionKey, Hints: tags}); err != nil {
		slog.Debug("Failed to send hints", "user_id", c.UserID, "session_id", c.SessionID, "error", err)
	}
}

func (c *Conn) sendError(msg string) {
	if err := c.writeJSON(errorFrame{Type: FrameError, Error: msg}); err != nil {
		slog.Debug("Failed to send error frame", "user_id", c.UserID, "error", err)
	}
}

// handle dispatches one client frame. It returns an error only when the
// connection should be dropped.
func (c *Conn) handle(raw []byte) error {
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.sendError("malformed frame")
		return nil
	}

	switch frame.Type {
	case FrameSession:
		key := frame.SessionKey
		if key == "" {
			c.sendError("session_key required")
			return nil
		}
		if c.engine.Reset(key) {
			slog.Debug("Live session switched conversation", "user_id", c.UserID, "session_id", c.SessionID)
		}
		c.sendHints(key, c.engine.Current())
	case FrameMessages:
		key := c.engine.SessionKey()
		if key == "" {
			c.sendError("no active session")
			return nil
		}
		onChange := func(tags []string) { c.sendHints(key, tags) }
		// Each message arrives in turn, as it would in the UI.
		for i := range frame.Messages {
			c.engine.Process(frame.Messages[:i+1], onChange)
		}
	case FramePing:
		if err := c.writeJSON(map[string]string{"type": FramePong}); err != nil {
			return fmt.Errorf("send pong: %w", err)
		}
	default:
		c.sendError("unknown frame type")
	}
	return nil
}
