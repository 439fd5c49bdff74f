// Package server exposes the HTTP handlers: account sign-up and verification,
// the authenticated WebSocket upgrade, and the health check.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatwire/chatwire/internal/errs"
	"github.com/chatwire/chatwire/internal/validation"
)

type signUpRequest struct {
	ID       string `json:"id"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// SignUpHandler creates an account in the pending-verification state.
// Responses: 201 on creation, 409 when the id is taken, 400 with the
// accumulated error list when validation fails.
func (a *App) SignUpHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed.", http.StatusMethodNotAllowed)
		return
	}

	var req signUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{"malformed request body"}})
		return
	}

	err := a.accounts.SignUp(r.Context(), req.ID, req.Password, req.Email)
	var verrs validation.Errors
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]any{"status": "created"})
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string(verrs)})
	case errors.Is(err, errs.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]any{"errors": []string{"id already taken"}})
	default:
		a.log.Error("sign-up failed", zap.String("id", req.ID), zap.Error(err))
		http.Error(w, "Internal server error.", http.StatusInternalServerError)
	}
}

// VerifyHandler consumes a verification token passed as a link parameter.
// Responses: 200 on success, 410 when the token has expired, 404 when it is
// unknown or already consumed.
func (a *App) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed.", http.StatusMethodNotAllowed)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing token parameter.", http.StatusBadRequest)
		return
	}

	err := a.accounts.Verify(r.Context(), token)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprint(w, "Account verified. You can now sign in.")
	case errors.Is(err, errs.ErrTokenExpired):
		http.Error(w, "Verification link expired.", http.StatusGone)
	case errors.Is(err, errs.ErrNotFound):
		http.Error(w, "Unknown verification token.", http.StatusNotFound)
	default:
		a.log.Error("verification failed", zap.Error(err))
		http.Error(w, "Internal server error.", http.StatusInternalServerError)
	}
}

// WebSocketHandler authenticates the HTTP Basic credentials, upgrades the
// connection, subscribes to the user's channel, and registers the resulting
// session with the manager. Only verified accounts may open a session.
func (a *App) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	id, password, ok := r.BasicAuth()
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="chatwire"`)
		http.Error(w, "Credentials required.", http.StatusUnauthorized)
		return
	}

	_, err := a.accounts.SignIn(r.Context(), id, password)
	var verrs validation.Errors
	switch {
	case err == nil:
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string(verrs)})
		return
	case errors.Is(err, errs.ErrNotFound):
		http.Error(w, "Unknown account.", http.StatusNotFound)
		return
	case errors.Is(err, errs.ErrUnverified):
		http.Error(w, "Account not verified.", http.StatusUnauthorized)
		return
	case errors.Is(err, errs.ErrUnauthorized):
		http.Error(w, "Invalid credentials.", http.StatusUnauthorized)
		return
	default:
		a.log.Error("sign-in failed", zap.String("id", id), zap.Error(err))
		http.Error(w, "Internal server error.", http.StatusInternalServerError)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	// The subscription outlives this request, so it is not bound to the
	// request context.
	sub, err := a.router.Open(context.Background(), id)
	if err != nil {
		a.log.Error("channel subscription failed",
			zap.String("id", id), zap.Error(err))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"))
		_ = conn.Close()
		return
	}

	session := NewSession(conn, sub, id, a.manager, a.router, a.cfg, a.log)
	a.manager.Register(session)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (a *App) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "chatwire server is running!")
}
