// Package server manages individual connection sessions, handling read/write
// pumps, bus delivery forwarding, rate limiting, and lifecycle control for
// each authenticated WebSocket connection.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatwire/chatwire/internal/store"
)

const (
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	pingInterval  = 54 * time.Second
	sendBuffer    = 256
)

// errorFrame is written back to a connection when one of its inbound messages
// could not be handled. It never terminates the session.
type errorFrame struct {
	Error string `json:"error"`
}

// Session is the live binding between one authenticated user and one open
// WebSocket connection plus its bus subscription. A user may hold several
// concurrent sessions; each gets its own subscription and receives every
// delivery independently.
type Session struct {
	owner          string
	conn           *websocket.Conn
	sub            store.Subscription
	send           chan []byte
	manager        *SessionManager
	router         *Router
	log            *zap.Logger
	addr           string
	closed         bool
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
}

// NewSession binds an upgraded connection and its channel subscription to the
// authenticated owner. The session is inert until registered with the manager,
// which launches its pumps.
func NewSession(conn *websocket.Conn, sub store.Subscription, owner string, manager *SessionManager, router *Router, cfg Config, log *zap.Logger) *Session {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	limiter := newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval)

	addr := ""
	if conn != nil {
		addr = conn.RemoteAddr().String()
	}

	return &Session{
		owner:          owner,
		conn:           conn,
		sub:            sub,
		send:           make(chan []byte, sendBuffer),
		manager:        manager,
		router:         router,
		log:            log.With(zap.String("user", owner), zap.String("addr", addr)),
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    limiter,
		rateLimit:      cfg.RateLimit,
	}
}

// Owner returns the authenticated user this session belongs to.
func (s *Session) Owner() string {
	return s.owner
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection.
func (s *Session) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		s.log.Warn("setting initial read deadline", zap.Error(err))
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			s.log.Warn("setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// handleReadError logs appropriate messages based on the error type and
// returns true if the read loop should stop.
func (s *Session) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		s.log.Warn("inbound message exceeded maximum size",
			zap.Int64("max_bytes", s.maxMessageSize))
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		s.log.Info("client disconnected", zap.Error(err))
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		s.log.Info("connection closed", zap.Error(err))
		return true
	}

	s.log.Warn("websocket read error", zap.Error(err))
	return true
}

// checkRateLimit verifies the session is within its inbound message budget.
func (s *Session) checkRateLimit() bool {
	if s.rateLimiter != nil && !s.rateLimiter.allow() {
		s.log.Warn("rate limit exceeded; discarding message",
			zap.Int("burst", s.rateLimit.Burst),
			zap.Duration("refill_interval", s.rateLimit.RefillInterval))
		return false
	}
	return true
}

// reportError writes an error frame back to this connection only.
func (s *Session) reportError(message string) {
	frame, err := json.Marshal(errorFrame{Error: message})
	if err != nil {
		return
	}
	s.manager.trySend(s, frame)
}

// readPump drives the inbound direction: every frame from the transport goes
// through the router; failures are reported to this connection and the
// session stays active. The pump ends on transport close or fatal read error.
func (s *Session) readPump() {
	defer func() {
		s.manager.release(s)
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("closing connection in readPump", zap.Error(err))
		}
	}()

	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if s.handleReadError(err) {
				break
			}
		}

		if !s.checkRateLimit() {
			s.reportError("rate limit exceeded; message discarded")
			continue
		}

		if err := s.router.HandleInbound(s.owner, raw); err != nil {
			s.reportError(err.Error())
		}
	}
}

// deliverPump forwards bus deliveries to the transport in arrival order. It
// ends when the subscription closes. A session whose send buffer cannot keep
// up is torn down rather than allowed to stall the subscription.
func (s *Session) deliverPump() {
	for msg := range s.sub.Messages() {
		payload, err := json.Marshal(msg)
		if err != nil {
			s.log.Error("encoding bus delivery", zap.Error(err))
			continue
		}
		if !s.manager.trySend(s, payload) {
			s.manager.release(s)
			return
		}
	}
}

// writePump drains the send channel onto the transport and keeps the
// connection alive with periodic pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("closing connection in writePump", zap.Error(err))
		}
	}()

	for s.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (s *Session) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-s.send:
		return s.handleOutbound(message, ok)
	case <-ticker.C:
		return s.handlePing()
	}
}

// handleOutbound writes one outgoing frame, plus anything already queued, and
// returns false if the connection should be closed.
func (s *Session) handleOutbound(message []byte, ok bool) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		s.log.Warn("setting write deadline", zap.Error(err))
		return false
	}

	if !ok {
		if err := s.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("writing close message", zap.Error(err))
		}
		return false
	}

	w, err := s.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		s.log.Warn("creating writer", zap.Error(err))
		return false
	}
	if _, err := w.Write(message); err != nil {
		s.log.Warn("writing message", zap.Error(err))
		return false
	}

	// Flush anything queued behind the first frame, newline separated.
	n := len(s.send)
	for i := 0; i < n; i++ {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			s.log.Warn("writing frame separator", zap.Error(err))
			return false
		}
		if _, err := w.Write(<-s.send); err != nil {
			s.log.Warn("writing queued message", zap.Error(err))
			return false
		}
	}

	if err := w.Close(); err != nil {
		s.log.Warn("closing writer", zap.Error(err))
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive.
func (s *Session) handlePing() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		s.log.Warn("setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Warn("writing ping message", zap.Error(err))
		}
		return false
	}
	return true
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
