// Package server wires the account lifecycle, router, and session manager
// behind the HTTP surface. App is the explicit runtime context constructed
// once at process start; there are no package-level globals.
package server

import (
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatwire/chatwire/internal/service"
)

// App holds everything the HTTP handlers need.
type App struct {
	cfg      Config
	log      *zap.Logger
	accounts *service.Accounts
	router   *Router
	manager  *SessionManager
	origins  *originPolicy
	upgrader websocket.Upgrader
}

// NewApp assembles the handler context from its collaborators.
func NewApp(cfg Config, accounts *service.Accounts, router *Router, manager *SessionManager, log *zap.Logger) *App {
	origins := newOriginPolicy(cfg.AllowedOrigins, log)
	app := &App{
		cfg:      cfg,
		log:      log,
		accounts: accounts,
		router:   router,
		manager:  manager,
		origins:  origins,
	}
	app.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.check,
	}
	return app
}
