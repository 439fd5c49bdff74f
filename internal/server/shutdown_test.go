package server

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatwire/chatwire/internal/store"
)

func TestGracefulShutdownWithActiveSessions(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	env.signUpVerified(t, "u1", "pw1")
	env.signUpVerified(t, "u2", "pw2")

	first := env.dial(t, "u1", "pw1")
	second := env.dial(t, "u2", "pw2")

	require.NoError(t, env.manager.Shutdown(2*time.Second))

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err, "connection should be closed after shutdown")
	}
}

func TestRegisterAfterShutdownDoesNotBlock(t *testing.T) {
	manager := NewSessionManager(zap.NewNop())
	go manager.Run()
	require.NoError(t, manager.Shutdown(time.Second))

	bus := store.NewMemoryBus()
	sub, err := bus.Subscribe(context.Background(), "u1")
	require.NoError(t, err)
	session := NewSession(nil, sub, "u1", manager, nil, *NewConfig(), zap.NewNop())

	registered := make(chan struct{})
	go func() {
		manager.Register(session)
		close(registered)
	}()
	select {
	case <-registered:
	case <-time.After(time.Second):
		t.Fatal("Register blocked after manager shutdown")
	}

	// The session's subscription was released rather than leaked.
	_, ok := <-sub.Messages()
	assert.False(t, ok, "subscription should be closed")
}
