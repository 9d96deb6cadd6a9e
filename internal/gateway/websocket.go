// Package gateway exposes the session layer over a WebSocket connection:
// one connection owns one session manager, client messages are dispatched
// per session, and progress events stream back tagged with session ids.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/liamavtal/vibe-agents/internal/domain"
	"github.com/liamavtal/vibe-agents/internal/eventlog"
	"github.com/liamavtal/vibe-agents/internal/identity"
	"github.com/liamavtal/vibe-agents/internal/session"
)

// outBufferSize bounds the per-connection outbound queue. Events past the
// bound are dropped rather than blocking the pipeline.
const outBufferSize = 256

// clientMessage is one inbound WebSocket frame.
type clientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
	ProjectID int64  `json:"project_id,omitempty"`
}

// serverMessage is one outbound WebSocket frame.
type serverMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Handler upgrades HTTP requests to WebSocket connections and serves the
// session protocol on each.
type Handler struct {
	deps          session.Deps
	maxSessions   int
	idleTTL       time.Duration
	limiter       *RateLimiter
	events        eventlog.Logger
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewHandler creates a WebSocket gateway handler. events may be nil when
// event logging is disabled.
func NewHandler(deps session.Deps, maxSessions int, idleTTL time.Duration, limiter *RateLimiter, events eventlog.Logger, allowedOrigin string, isDev bool, logger *slog.Logger) *Handler {
	return &Handler{
		deps:          deps,
		maxSessions:   maxSessions,
		idleTTL:       idleTTL,
		limiter:       limiter,
		events:        events,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		userID = r.RemoteAddr
	}
	h.logger.Info("websocket connection request", "user_id", userID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("failed to accept websocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "connection ended"); closeErr != nil {
			h.logger.Debug("failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &connection{
		ws:     ws,
		userID: userID,
		mgr: session.NewManager(func(emit domain.EmitFunc) *session.Conversation {
			return session.NewConversation(h.deps, emit)
		}, h.maxSessions, h.logger),
		limiter: h.limiter,
		events:  h.events,
		out:     make(chan serverMessage, outBufferSize),
		logger:  h.logger,
	}
	defer c.mgr.CloseAll()

	if h.idleTTL > 0 {
		janitor := session.NewJanitor(c.mgr, h.idleTTL, h.idleTTL/4, h.logger)
		go janitor.Run(ctx)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(ctx)
	}()

	c.readLoop(ctx)
	cancel()
	wg.Wait()
	h.logger.Info("websocket connection ended", "user_id", userID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("websocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// connection is the state of one live WebSocket connection.
type connection struct {
	ws      *websocket.Conn
	userID  string
	mgr     *session.Manager
	limiter *RateLimiter
	events  eventlog.Logger
	out     chan serverMessage
	logger  *slog.Logger
}

// writeLoop is the single writer for the connection. All outbound frames
// funnel through the out channel.
func (c *connection) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.out:
			data, err := json.Marshal(msg)
			if err != nil {
				c.logger.Warn("failed to marshal server message", "error", err)
				continue
			}
			if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
				c.logger.Debug("websocket write error", "error", err)
				return
			}
		}
	}
}

// send queues an outbound frame. Drops it when the queue is full so slow
// clients never stall the pipeline.
func (c *connection) send(msg serverMessage) {
	select {
	case c.out <- msg:
	default:
		c.logger.Warn("outbound queue full, dropping message", "type", msg.Type, "session_id", msg.SessionID)
	}
}

func (c *connection) readLoop(ctx context.Context) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.logger.Debug("websocket closed by client", "user_id", c.userID)
			} else if ctx.Err() == nil {
				c.logger.Warn("websocket read error", "error", err, "user_id", c.userID)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(serverMessage{Type: "error", Error: "invalid message"})
			continue
		}
		c.dispatch(ctx, msg)
	}
}

func (c *connection) dispatch(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case "new_session":
		c.newSession()
	case "close_session":
		if err := c.mgr.Close(msg.SessionID); err != nil {
			c.send(serverMessage{Type: "error", SessionID: msg.SessionID, Error: err.Error()})
			return
		}
		c.send(serverMessage{Type: "session_closed", SessionID: msg.SessionID})
	case "list_sessions":
		c.send(serverMessage{Type: "sessions", Data: c.mgr.List()})
	case "chat", "build":
		c.startWork(ctx, msg)
	case "resume":
		c.resume(ctx, msg)
	case "clear":
		s, err := c.mgr.Get(msg.SessionID)
		if err != nil {
			c.send(serverMessage{Type: "error", SessionID: msg.SessionID, Error: err.Error()})
			return
		}
		if s.Status() == session.StatusWorking {
			c.send(serverMessage{Type: "error", SessionID: s.ID, Error: "session is busy"})
			return
		}
		s.Conv.Clear()
		s.Touch()
		c.send(serverMessage{Type: "cleared", SessionID: msg.SessionID})
	case "ping":
		c.send(serverMessage{Type: "pong"})
	default:
		c.send(serverMessage{Type: "error", SessionID: msg.SessionID, Error: "unknown message type"})
	}
}

// sessionTag carries the session id into event emit closures. The id is
// assigned before the session is handed out, so emits always see it set.
type sessionTag struct {
	id string
}

func (c *connection) newSession() {
	tag := &sessionTag{}
	emit := func(t domain.EventType, payload any) {
		event := domain.Event{
			Type:      t,
			SessionID: tag.id,
			Payload:   payload,
			At:        time.Now(),
		}
		if c.events != nil {
			c.events.Log(event)
		}
		c.send(serverMessage{Type: "event", SessionID: tag.id, Data: event})
	}

	s, err := c.mgr.Create(emit)
	if err != nil {
		if errors.Is(err, session.ErrSessionLimit) {
			c.send(serverMessage{Type: "error", Error: err.Error()})
			return
		}
		c.send(serverMessage{Type: "error", Error: "failed to create session"})
		return
	}
	tag.id = s.ID
	c.send(serverMessage{Type: "session_created", SessionID: s.ID})
}

// startWork validates a chat or build request and runs it in its own
// goroutine so the read loop keeps serving other sessions.
func (c *connection) startWork(ctx context.Context, msg clientMessage) {
	s, err := c.mgr.Get(msg.SessionID)
	if err != nil {
		c.send(serverMessage{Type: "error", SessionID: msg.SessionID, Error: err.Error()})
		return
	}
	if s.Status() == session.StatusWorking {
		c.send(serverMessage{Type: "error", SessionID: s.ID, Error: "session is busy"})
		return
	}
	if !c.limiter.Allow(c.userID) {
		c.send(serverMessage{Type: "error", SessionID: s.ID, Error: "rate limit exceeded"})
		return
	}
	text, err := sanitizeMessage(msg.Message)
	if err != nil {
		c.send(serverMessage{Type: "error", SessionID: s.ID, Error: err.Error()})
		return
	}

	s.SetStatus(session.StatusWorking)
	go func() {
		defer s.SetStatus(session.StatusIdle)

		var result *session.ChatResult
		var runErr error
		if msg.Type == "build" {
			result, runErr = s.Conv.Build(ctx, text)
		} else {
			result, runErr = s.Conv.Chat(ctx, text)
		}
		if runErr != nil {
			c.logger.Error("session work failed", "session_id", s.ID, "type", msg.Type, "error", runErr)
			c.send(serverMessage{Type: "error", SessionID: s.ID, Error: runErr.Error()})
			return
		}
		c.send(serverMessage{Type: "result", SessionID: s.ID, Data: result})
	}()
}

func (c *connection) resume(ctx context.Context, msg clientMessage) {
	s, err := c.mgr.Get(msg.SessionID)
	if err != nil {
		c.send(serverMessage{Type: "error", SessionID: msg.SessionID, Error: err.Error()})
		return
	}
	if s.Status() == session.StatusWorking {
		c.send(serverMessage{Type: "error", SessionID: s.ID, Error: "session is busy"})
		return
	}
	if msg.ProjectID == 0 {
		c.send(serverMessage{Type: "error", SessionID: s.ID, Error: "project_id is required"})
		return
	}

	s.SetStatus(session.StatusWorking)
	go func() {
		defer s.SetStatus(session.StatusIdle)

		summary, err := s.Conv.ResumeProject(ctx, msg.ProjectID)
		if err != nil {
			c.send(serverMessage{Type: "error", SessionID: s.ID, Error: err.Error()})
			return
		}
		c.send(serverMessage{
			Type:      "project_resumed",
			SessionID: s.ID,
			Data: map[string]any{
				"project_id": msg.ProjectID,
				"summary":    summary,
			},
		})
	}()
}
