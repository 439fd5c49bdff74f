// Package server wires HTTP handlers into a ServeMux for the chatwire
// application via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: health check, account sign-up, email verification, the WebSocket
// endpoint, and the test page.
func (a *App) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", a.HealthHandler)
	mux.HandleFunc("/signup", a.SignUpHandler)
	mux.HandleFunc("/verify", a.VerifyHandler)
	mux.HandleFunc("/ws", a.WebSocketHandler)
	mux.HandleFunc("/test", a.TestPageHandler)
	return mux
}
