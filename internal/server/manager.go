// Package server coordinates session registration, bus delivery forwarding,
// and connection cleanup for the chatwire WebSocket system via the
// SessionManager type.
package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionManager owns every live Session and drives its lifecycle: a
// registered session gets its pumps started; an unregistered one has its bus
// subscription released before its transport goes away, so no delivery ever
// targets a handle that can no longer be written.
type SessionManager struct {
	sessions   map[*Session]bool
	register   chan *Session
	unregister chan *Session
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        *zap.Logger
}

// NewSessionManager creates a manager ready to run. Call Run in its own
// goroutine before registering sessions.
func NewSessionManager(log *zap.Logger) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		sessions:   make(map[*Session]bool),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log,
	}
}

// Register hands a new session to the manager, which launches its pumps. If
// shutdown wins the race the run loop is gone, so the session's resources are
// released here instead.
func (m *SessionManager) Register(s *Session) {
	select {
	case m.register <- s:
	case <-m.ctx.Done():
		if err := s.sub.Close(); err != nil {
			m.log.Warn("closing bus subscription",
				zap.String("user", s.owner), zap.Error(err))
		}
		if s.conn != nil {
			if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
				m.log.Warn("closing session connection",
					zap.String("addr", s.addr), zap.Error(err))
			}
		}
	}
}

// release requests teardown of a session from any goroutine. During shutdown
// the run loop is gone and shutdownSessions owns the cleanup instead.
func (m *SessionManager) release(s *Session) {
	select {
	case m.unregister <- s:
	case <-m.ctx.Done():
	}
}

// trySend enqueues a payload on the session's send channel without blocking.
// It returns false if the session is no longer registered or its buffer is
// full.
func (m *SessionManager) trySend(s *Session, payload []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("recovered from send on closed session", zap.Any("panic", r))
			sent = false
		}
	}()

	// Hold the lock during the entire send so teardown cannot close the
	// channel mid-send.
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if _, exists := m.sessions[s]; !exists || s.closed {
		return false
	}

	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// Run starts the manager's main event loop, handling session registration and
// teardown. This method should be called in a separate goroutine as it runs
// until Shutdown.
func (m *SessionManager) Run() {
	defer close(m.done)

	for {
		select {
		case <-m.ctx.Done():
			m.shutdownSessions()
			return

		case s := <-m.register:
			if s == nil {
				m.log.Warn("received nil session registration; skipping")
				continue
			}

			m.mutex.Lock()
			s.closed = false
			m.sessions[s] = true
			count := len(m.sessions)
			m.mutex.Unlock()
			m.log.Info("session registered",
				zap.String("user", s.owner),
				zap.String("addr", s.addr),
				zap.Int("total", count))

			m.wg.Add(3)
			go func() {
				defer m.wg.Done()
				s.writePump()
			}()
			go func() {
				defer m.wg.Done()
				s.readPump()
			}()
			go func() {
				defer m.wg.Done()
				s.deliverPump()
			}()

		case s := <-m.unregister:
			m.teardown(s)
		}
	}
}

// teardown removes a session and releases its resources in order: the bus
// subscription first, then the send channel. Safe to call more than once.
func (m *SessionManager) teardown(s *Session) {
	m.mutex.Lock()
	if _, ok := m.sessions[s]; !ok {
		m.mutex.Unlock()
		return
	}
	delete(m.sessions, s)
	s.closed = true
	count := len(m.sessions)
	m.mutex.Unlock()

	if err := s.sub.Close(); err != nil {
		m.log.Warn("closing bus subscription",
			zap.String("user", s.owner), zap.Error(err))
	}
	close(s.send)
	m.log.Info("session unregistered",
		zap.String("user", s.owner),
		zap.String("addr", s.addr),
		zap.Int("total", count))
}

// shutdownSessions gracefully tears down all active sessions.
func (m *SessionManager) shutdownSessions() {
	m.log.Info("shutting down all sessions")

	m.mutex.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mutex.Unlock()

	for _, s := range sessions {
		m.teardown(s)
		if s.conn != nil {
			if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
				m.log.Warn("closing session connection",
					zap.String("addr", s.addr), zap.Error(err))
			}
		}
	}

	m.log.Info("closed sessions", zap.Int("count", len(sessions)))
}

// Shutdown initiates graceful shutdown of the manager and waits for all
// session goroutines to complete, or until the timeout is reached.
func (m *SessionManager) Shutdown(timeout time.Duration) error {
	m.log.Info("initiating session manager shutdown")

	m.cancel()
	<-m.done

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		m.log.Info("session manager shutdown completed")
		return nil
	case <-time.After(timeout):
		m.log.Warn("session manager shutdown timeout reached")
		return context.DeadlineExceeded
	}
}
