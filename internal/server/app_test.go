package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatwire/chatwire/internal/model"
	"github.com/chatwire/chatwire/internal/service"
	"github.com/chatwire/chatwire/internal/store"
)

// recordMailer stands in for the external email transport and keeps the
// dispatched verification tokens reachable for the tests.
type recordMailer struct {
	mu     sync.Mutex
	tokens []string
}

func (m *recordMailer) SendVerification(_ context.Context, _ string, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, link)
	return nil
}

func (m *recordMailer) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tokens) == 0 {
		t.Fatal("no verification email dispatched")
	}
	return m.tokens[len(m.tokens)-1]
}

type testEnv struct {
	ts      *httptest.Server
	mailer  *recordMailer
	history *store.MemoryLog
	manager *SessionManager
}

func newTestEnv(t *testing.T, verifyTTL time.Duration) *testEnv {
	return newTestEnvWith(t, verifyTTL, func(cfg *Config) {
		cfg.AllowedOrigins = []string{"*"}
		// Most tests fire messages faster than the production budget allows.
		cfg.RateLimit.Burst = 100
	})
}

func newTestEnvWith(t *testing.T, verifyTTL time.Duration, mutate func(*Config)) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	cfg := *NewConfig()
	cfg.VerificationTimeout = verifyTTL
	if mutate != nil {
		mutate(&cfg)
	}

	identity := store.NewMemoryIdentity()
	bus := store.NewMemoryBus()
	history := store.NewMemoryLog()
	mailer := &recordMailer{}

	// Empty link prefix so the recorded link is the raw token.
	accounts := service.NewAccounts(identity, mailer, "", verifyTTL, logger)
	router := NewRouter(bus, history, logger)
	manager := NewSessionManager(logger)
	go manager.Run()

	app := NewApp(cfg, accounts, router, manager, logger)
	ts := httptest.NewServer(app.SetupRoutes())

	t.Cleanup(func() {
		_ = manager.Shutdown(time.Second)
		ts.Close()
	})

	return &testEnv{ts: ts, mailer: mailer, history: history, manager: manager}
}

func (e *testEnv) signUp(t *testing.T, id, password, email string) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]string{"id": id, "password": password, "email": email})
	require.NoError(t, err)
	resp, err := http.Post(e.ts.URL+"/signup", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

// signUpVerified walks an account through the full lifecycle to Verified.
func (e *testEnv) signUpVerified(t *testing.T, id, password string) {
	t.Helper()
	resp := e.signUp(t, id, password, id+"@example.com")
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	verifyResp, err := http.Get(e.ts.URL + "/verify?token=" + e.mailer.lastToken(t))
	require.NoError(t, err)
	defer func() { _ = verifyResp.Body.Close() }()
	require.Equal(t, http.StatusOK, verifyResp.StatusCode)
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
}

func wsHeader(id, password string) http.Header {
	header := http.Header{}
	header.Set("Origin", "http://client.example.com")
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(id+":"+password)))
	return header
}

// dial opens an authenticated session and waits briefly so the server-side
// subscription is in place before the test starts publishing.
func (e *testEnv) dial(t *testing.T, id, password string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL(), wsHeader(id, password))
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	time.Sleep(100 * time.Millisecond)
	return conn
}

// readChatMessages collects n chat messages, unpacking batched frames
// (messages queued behind one another arrive newline separated).
func readChatMessages(t *testing.T, conn *websocket.Conn, n int) []model.ChatMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msgs []model.ChatMessage
	for len(msgs) < n {
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)
		for _, line := range bytes.Split(frame, []byte{'\n'}) {
			var msg model.ChatMessage
			require.NoError(t, json.Unmarshal(line, &msg))
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, time.Hour)

	resp, err := http.Get(env.ts.URL + "/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignUpEndpoint(t *testing.T) {
	env := newTestEnv(t, time.Hour)

	resp := env.signUp(t, "alice", "secret", "alice@example.com")
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.signUp(t, "alice", "other", "alice@example.com")
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.signUp(t, "", "", "bad")
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Errors []string `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Errors, 3)
}

func TestVerifyEndpoint(t *testing.T) {
	env := newTestEnv(t, time.Hour)

	resp, err := http.Get(env.ts.URL + "/verify?token=unknown")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	signUpResp := env.signUp(t, "alice", "secret", "alice@example.com")
	_ = signUpResp.Body.Close()
	require.Equal(t, http.StatusCreated, signUpResp.StatusCode)
	token := env.mailer.lastToken(t)

	resp, err = http.Get(env.ts.URL + "/verify?token=" + token)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Token consumption is exactly-once.
	resp, err = http.Get(env.ts.URL + "/verify?token=" + token)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVerifyEndpointExpiredToken(t *testing.T) {
	env := newTestEnv(t, time.Nanosecond)

	resp := env.signUp(t, "alice", "secret", "alice@example.com")
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	verifyResp, err := http.Get(env.ts.URL + "/verify?token=" + env.mailer.lastToken(t))
	require.NoError(t, err)
	_ = verifyResp.Body.Close()
	assert.Equal(t, http.StatusGone, verifyResp.StatusCode)
}

func TestWebSocketAuthGate(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	env.signUpVerified(t, "alice", "secret")

	signUpResp := env.signUp(t, "pending", "secret", "pending@example.com")
	_ = signUpResp.Body.Close()
	require.Equal(t, http.StatusCreated, signUpResp.StatusCode)

	tests := []struct {
		name   string
		header http.Header
		status int
	}{
		{"missing credentials", func() http.Header {
			h := http.Header{}
			h.Set("Origin", "http://client.example.com")
			return h
		}(), http.StatusUnauthorized},
		{"unknown account", wsHeader("ghost", "secret"), http.StatusNotFound},
		{"unverified account with correct password", wsHeader("pending", "secret"), http.StatusUnauthorized},
		{"wrong password", wsHeader("alice", "wrong"), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL(), tt.header)
			require.Error(t, err)
			require.NotNil(t, resp)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Nil(t, conn)
		})
	}
}

func TestOrderedDeliveryBetweenSessions(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	env.signUpVerified(t, "u1", "pw1")
	env.signUpVerified(t, "u2", "pw2")

	receiver := env.dial(t, "u2", "pw2")
	sender := env.dial(t, "u1", "pw1")

	for _, payload := range []string{"test_1", "test_2"} {
		require.NoError(t, sender.WriteJSON(model.IncomingMessage{To: "u2", Payload: payload}))
	}

	msgs := readChatMessages(t, receiver, 2)
	require.Len(t, msgs, 2)
	assert.Equal(t, "test_1", msgs[0].Payload)
	assert.Equal(t, "test_2", msgs[1].Payload)
	for _, msg := range msgs {
		assert.Equal(t, "u1", msg.From)
		assert.Equal(t, "u2", msg.To)
		assert.NotZero(t, msg.SentAt)
	}

	assert.Len(t, env.history.Messages(), 2)
}

func TestLateSubscriberReceivesNoBacklog(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	env.signUpVerified(t, "u1", "pw1")
	env.signUpVerified(t, "u2", "pw2")

	sender := env.dial(t, "u1", "pw1")
	require.NoError(t, sender.WriteJSON(model.IncomingMessage{To: "u2", Payload: "hello"}))

	// The message lands in the durable log even with nobody subscribed.
	require.Eventually(t, func() bool {
		return len(env.history.Messages()) == 1
	}, time.Second, 10*time.Millisecond)

	// The bus delivers only to active subscribers; a session opened after
	// the send sees no backlog.
	receiver := env.dial(t, "u2", "pw2")
	require.NoError(t, receiver.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := receiver.ReadMessage()
	assert.Error(t, err, "late subscriber should not receive a backlog message")
}

func TestMultiDeviceDelivery(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	env.signUpVerified(t, "u1", "pw1")
	env.signUpVerified(t, "u2", "pw2")

	deviceA := env.dial(t, "u2", "pw2")
	deviceB := env.dial(t, "u2", "pw2")
	sender := env.dial(t, "u1", "pw1")

	require.NoError(t, sender.WriteJSON(model.IncomingMessage{To: "u2", Payload: "hello"}))

	assert.Equal(t, "hello", readChatMessages(t, deviceA, 1)[0].Payload)
	assert.Equal(t, "hello", readChatMessages(t, deviceB, 1)[0].Payload)
}

func TestValidationErrorFrameKeepsSessionActive(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	env.signUpVerified(t, "u1", "pw1")

	conn := env.dial(t, "u1", "pw1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var ef errorFrame
	require.NoError(t, json.Unmarshal(frame, &ef))
	assert.NotEmpty(t, ef.Error)

	// The session survived: a valid self-addressed message still flows.
	require.NoError(t, conn.WriteJSON(model.IncomingMessage{To: "u1", Payload: "still here"}))
	msgs := readChatMessages(t, conn, 1)
	assert.Equal(t, "still here", msgs[0].Payload)
}

func TestManagerShutdownIdle(t *testing.T) {
	manager := NewSessionManager(zap.NewNop())
	go manager.Run()

	assert.NoError(t, manager.Shutdown(time.Second))
}
