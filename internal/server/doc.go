// Package server implements the HTTP and WebSocket layer of chatwire.
//
// The implementation is organized into specialized files for configuration,
// session management, the message router, handlers, and routing to keep the
// codebase maintainable and testable as the project grows.
package server
